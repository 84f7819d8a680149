package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/twinclient/apierror"
	"github.com/gaborage/twinclient/auth"
	"github.com/gaborage/twinclient/cache/memory"
	twinhttp "github.com/gaborage/twinclient/http"
	"github.com/gaborage/twinclient/retry"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

// fakeBackend routes "METHOD /path" to canned handlers and records requests.
type fakeBackend struct {
	mu       sync.Mutex
	routes   map[string]nethttp.HandlerFunc
	requests []recordedRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{routes: make(map[string]nethttp.HandlerFunc)}
}

func (f *fakeBackend) handle(method, path string, h nethttp.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeBackend) reply(method, path string, status int, body string) {
	f.handle(method, path, func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func (f *fakeBackend) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Body:   string(body),
	})
	h, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(nethttp.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"NOT_FOUND","message":"no route"}}`)
		return
	}
	h(w, r)
}

func (f *fakeBackend) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newIPv4TestServer(t *testing.T, handler nethttp.Handler) *httptest.Server {
	t.Helper()
	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: unable to bind IPv4 listener: %v", err)
		return &httptest.Server{}
	}
	server := &httptest.Server{
		Listener: listener,
		Config:   &nethttp.Server{Handler: handler},
	}
	server.Start()
	t.Cleanup(server.Close)
	return server
}

func noSleep(context.Context, time.Duration) error { return nil }

func testEngine(maxRetries int) *retry.Engine {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = maxRetries
	return retry.New(cfg, retry.WithSleeper(noSleep))
}

type staticToken string

func (s staticToken) EnsureValidToken(context.Context) (string, error) {
	return string(s), nil
}

type failingToken struct{ err error }

func (f failingToken) EnsureValidToken(context.Context) (string, error) {
	return "", f.err
}

type countingHandler struct{ calls atomic.Int32 }

func (h *countingHandler) HandleUnauthorized(context.Context) { h.calls.Add(1) }

func newTestClient(t *testing.T, baseURL string, src twinhttp.TokenSource, opts ...Option) *Client {
	t.Helper()
	b := twinhttp.NewBuilder(nil).WithBaseURL(baseURL)
	if src != nil {
		b = b.WithTokenSource(src)
	}
	transport, err := b.Build()
	require.NoError(t, err)
	return New(transport, append([]Option{WithRetry(testEngine(2))}, opts...)...)
}

func TestRequestMapsPathPayloadAndEnvelope(t *testing.T) {
	backend := newFakeBackend()
	backend.reply(nethttp.MethodPost, "/api/v1/ml/treatment-response", nethttp.StatusOK,
		`{"data":{"patient_id":"p1","response_probability":0.7},"meta":{"model_version":"3"}}`)
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, staticToken("tok"))

	var out map[string]any
	env, err := c.Request(context.Background(), nethttp.MethodPost, "/treatment-predictions",
		map[string]any{"patientId": "p1", "durationWeeks": 8}, &out)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"patientId": "p1", "responseProbability": 0.7}, out)
	assert.JSONEq(t, `{"modelVersion":"3"}`, string(env.Meta))
	assert.Equal(t, nethttp.StatusOK, env.Status)

	reqs := backend.recorded()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"patient_id":"p1","duration_weeks":8}`, reqs[0].Body)
	assert.Equal(t, "Bearer tok", reqs[0].Auth)
}

func TestRequestAcceptsBareBodies(t *testing.T) {
	backend := newFakeBackend()
	backend.reply(nethttp.MethodGet, "/api/v1/patients/p1", nethttp.StatusOK, `{"id":"p1","risk_level":"low"}`)
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, staticToken("tok"))

	patient, err := c.GetPatient(context.Background(), "p1")

	require.NoError(t, err)
	assert.Equal(t, "low", patient.RiskLevel)
}

func TestRequestRetriesTransientFailures(t *testing.T) {
	backend := newFakeBackend()
	var calls atomic.Int32
	backend.handle(nethttp.MethodGet, "/api/v1/health", func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"status":"ok","version":"1.2.0"}}`)
	})
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, nil)

	health, err := c.HealthCheck(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRequestGivesUpAfterMaxRetries(t *testing.T) {
	backend := newFakeBackend()
	backend.reply(nethttp.MethodGet, "/api/v1/health", nethttp.StatusBadGateway, `{"message":"upstream down"}`)
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, nil)

	_, err := c.HealthCheck(context.Background())

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.ServiceUnavailable, apiErr.Type)
	assert.Equal(t, "healthCheck", apiErr.Endpoint)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.Len(t, backend.recorded(), 3)
}

func TestRequestValidationHappensBeforeNetwork(t *testing.T) {
	backend := newFakeBackend()
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, staticToken("tok"))
	ctx := context.Background()

	_, err := c.ProcessText(ctx, TextRequest{})
	assert.True(t, apierror.IsType(err, apierror.Validation))

	_, err = c.GetPatient(ctx, " ")
	assert.True(t, apierror.IsType(err, apierror.Validation))

	_, err = c.GenerateDigitalTwin(ctx, DigitalTwinRequest{PatientID: "p1", TimeHorizonDays: 1000})
	assert.True(t, apierror.IsType(err, apierror.Validation))

	_, err = c.ListPatients(ctx, ListOptions{Limit: 500})
	assert.True(t, apierror.IsType(err, apierror.Validation))

	_, err = c.Request(ctx, nethttp.MethodPost, "/x", []byte("{oops"), nil)
	assert.True(t, apierror.IsType(err, apierror.Validation))

	assert.Empty(t, backend.recorded())
}

func TestRequestUnauthorizedNotifiesHandlerOnce(t *testing.T) {
	backend := newFakeBackend()
	backend.reply(nethttp.MethodGet, "/api/v1/patients/p1", nethttp.StatusUnauthorized, `{"error":{"message":"token revoked"}}`)
	server := newIPv4TestServer(t, backend)
	handler := &countingHandler{}
	c := newTestClient(t, server.URL, staticToken("tok"), WithUnauthorizedHandler(handler))

	_, err := c.GetPatient(context.Background(), "p1")

	assert.True(t, apierror.IsType(err, apierror.TokenRevoked))
	assert.False(t, apierror.IsRetryable(err))
	assert.Equal(t, int32(1), handler.calls.Load())
	assert.Len(t, backend.recorded(), 1)
}

func TestAnonymousUnauthorizedSkipsHandler(t *testing.T) {
	backend := newFakeBackend()
	backend.reply(nethttp.MethodGet, "/api/v1/health", nethttp.StatusForbidden, `{}`)
	server := newIPv4TestServer(t, backend)
	handler := &countingHandler{}
	c := newTestClient(t, server.URL, staticToken("tok"), WithUnauthorizedHandler(handler))

	_, err := c.HealthCheck(context.Background())

	assert.True(t, apierror.IsType(err, apierror.TokenRevoked))
	assert.Zero(t, handler.calls.Load())
	assert.Empty(t, backend.recorded()[0].Auth)
}

func TestMissingSessionIsTokenRevoked(t *testing.T) {
	backend := newFakeBackend()
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, failingToken{err: auth.ErrNoTokens})

	_, err := c.GetPatient(context.Background(), "p1")

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.TokenRevoked, apiErr.Type)
	assert.Equal(t, auth.MsgSessionExpired, apiErr.Message)
	assert.ErrorIs(t, err, auth.ErrNoTokens)
	assert.Empty(t, backend.recorded())
}

func TestRateLimitIsRetried(t *testing.T) {
	backend := newFakeBackend()
	var calls atomic.Int32
	backend.handle(nethttp.MethodPost, "/api/v1/ml/sentiment", func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(nethttp.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"label":"negative","score":-0.4}}`)
	})
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, staticToken("tok"))

	out, err := c.AnalyzeSentiment(context.Background(), TextRequest{Text: "tired all the time"})

	require.NoError(t, err)
	assert.Equal(t, "negative", out.Label)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEndpointsHitMappedRoutes(t *testing.T) {
	backend := newFakeBackend()
	for _, route := range []struct{ method, path string }{
		{nethttp.MethodPost, "/api/v1/ml/process-text"},
		{nethttp.MethodPost, "/api/v1/ml/depression-detection"},
		{nethttp.MethodPost, "/api/v1/ml/risk-assessment"},
		{nethttp.MethodPost, "/api/v1/ml/digital-twin"},
		{nethttp.MethodGet, "/api/v1/patients/brain-models/p1"},
		{nethttp.MethodPost, "/api/v1/ml/treatment-response"},
	} {
		backend.reply(route.method, route.path, nethttp.StatusOK, `{"data":{}}`)
	}
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, staticToken("tok"))
	ctx := context.Background()

	_, err := c.ProcessText(ctx, TextRequest{Text: "x"})
	require.NoError(t, err)
	_, err = c.DetectDepression(ctx, TextRequest{Text: "x"})
	require.NoError(t, err)
	_, err = c.AssessRisk(ctx, RiskRequest{PatientID: "p1"})
	require.NoError(t, err)
	_, err = c.GenerateDigitalTwin(ctx, DigitalTwinRequest{PatientID: "p1", TimeHorizonDays: 30})
	require.NoError(t, err)
	_, err = c.GetBrainModel(ctx, "p1")
	require.NoError(t, err)
	_, err = c.PredictTreatmentResponse(ctx, TreatmentRequest{PatientID: "p1", Treatment: "ssri"})
	require.NoError(t, err)

	var paths []string
	for _, r := range backend.recorded() {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{
		"/api/v1/ml/process-text",
		"/api/v1/ml/depression-detection",
		"/api/v1/ml/risk-assessment",
		"/api/v1/ml/digital-twin",
		"/api/v1/patients/brain-models/p1",
		"/api/v1/ml/treatment-response",
	}, paths)
}

func TestListPatientsReadsPagination(t *testing.T) {
	backend := newFakeBackend()
	backend.reply(nethttp.MethodGet, "/api/v1/patients", nethttp.StatusOK,
		`{"data":[{"id":"p1","name":"A"},{"id":"p2","name":"B"}],"meta":{"page":2,"limit":2,"total":9}}`)
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, staticToken("tok"))

	page, err := c.ListPatients(context.Background(), ListOptions{Page: 2, Limit: 2})

	require.NoError(t, err)
	require.Len(t, page.Patients, 2)
	assert.Equal(t, "p2", page.Patients[1].ID)
	assert.Equal(t, PageMeta{Page: 2, Limit: 2, Total: 9}, page.Meta)
	assert.Equal(t, "limit=2&page=2", backend.recorded()[0].Query)
}

func TestListPatientsMalformedPaginationIsUnexpected(t *testing.T) {
	backend := newFakeBackend()
	backend.reply(nethttp.MethodGet, "/api/v1/patients", nethttp.StatusOK,
		`{"data":[{"id":"p1","name":"A"}],"meta":{"page":"two","total":9}}`)
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, staticToken("tok"))

	page, err := c.ListPatients(context.Background(), ListOptions{})

	assert.Nil(t, page)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.Unexpected, apiErr.Type)
	assert.Equal(t, "listPatients", apiErr.Endpoint)
	assert.False(t, apiErr.Retryable)
}

func TestNotFoundCarriesServerMessageAndRequestID(t *testing.T) {
	backend := newFakeBackend()
	backend.handle(nethttp.MethodGet, "/api/v1/patients/missing", func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.Header().Set("X-Request-ID", "req-42")
		w.WriteHeader(nethttp.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"NOT_FOUND","message":"patient missing not found"}}`)
	})
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, staticToken("tok"))

	_, err := c.GetPatient(context.Background(), "missing")

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.NotFound, apiErr.Type)
	assert.Equal(t, "patient missing not found", apiErr.Message)
	assert.Equal(t, "req-42", apiErr.RequestID)
	assert.Equal(t, "getPatient", apiErr.Endpoint)
	assert.Len(t, backend.recorded(), 1)
}

func TestRequestDecodeFailureIsUnexpected(t *testing.T) {
	backend := newFakeBackend()
	backend.reply(nethttp.MethodGet, "/api/v1/patients/p1", nethttp.StatusOK, `{"data":"not-an-object"}`)
	server := newIPv4TestServer(t, backend)
	c := newTestClient(t, server.URL, staticToken("tok"))

	_, err := c.GetPatient(context.Background(), "p1")

	assert.True(t, apierror.IsType(err, apierror.Unexpected))
}

func TestRequestHonorsCancellation(t *testing.T) {
	backend := newFakeBackend()
	backend.reply(nethttp.MethodGet, "/api/v1/health", nethttp.StatusServiceUnavailable, `{}`)
	server := newIPv4TestServer(t, backend)

	transport, err := twinhttp.NewBuilder(nil).WithBaseURL(server.URL).Build()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	engine := retry.New(retry.DefaultConfig(), retry.WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	c := New(transport, WithRetry(engine))

	_, err = c.HealthCheck(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, apierror.IsType(err, apierror.ServiceUnavailable))
	assert.Len(t, backend.recorded(), 1)
}

// sessionBackend serves the auth routes with a counter-based token issuer.
func sessionBackend(t *testing.T, expiresIn int) (*fakeBackend, *atomic.Int32) {
	t.Helper()
	backend := newFakeBackend()
	var issued atomic.Int32
	grant := func(w nethttp.ResponseWriter) {
		n := issued.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"access_token":  "access-" + string(rune('0'+n)),
			"refresh_token": "refresh-" + string(rune('0'+n)),
			"expires_in":    expiresIn,
		}})
	}
	backend.handle(nethttp.MethodPost, "/api/v1/auth/login", func(w nethttp.ResponseWriter, _ *nethttp.Request) { grant(w) })
	backend.handle(nethttp.MethodPost, "/api/v1/auth/refresh", func(w nethttp.ResponseWriter, _ *nethttp.Request) { grant(w) })
	backend.reply(nethttp.MethodGet, "/api/v1/auth/me", nethttp.StatusOK,
		`{"data":{"id":"u1","username":"grey","email":"grey@example.com","role":"clinician","permissions":["patients:read"]}}`)
	backend.reply(nethttp.MethodPost, "/api/v1/auth/logout", nethttp.StatusNoContent, ``)
	backend.reply(nethttp.MethodGet, "/api/v1/patients/p1", nethttp.StatusOK, `{"data":{"id":"p1"}}`)
	return backend, &issued
}

func newTestSession(t *testing.T, serverURL string, opts ...auth.Option) *Session {
	t.Helper()
	cfg := retry.DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	s, err := NewSession(context.Background(), SessionConfig{
		BaseURL:     serverURL,
		Retry:       cfg,
		Store:       memory.New(),
		AuthOptions: opts,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSessionLoginAuthorizesCalls(t *testing.T) {
	backend, _ := sessionBackend(t, 3600)
	server := newIPv4TestServer(t, backend)
	s := newTestSession(t, server.URL)
	ctx := context.Background()

	state := s.Auth.Login(ctx, "grey@example.com", "secret")
	require.True(t, state.IsAuthenticated, state.Error)
	assert.Equal(t, []string{"patients:read"}, state.User.Permissions)

	_, err := s.GetPatient(ctx, "p1")
	require.NoError(t, err)

	reqs := backend.recorded()
	require.Len(t, reqs, 3)
	assert.Empty(t, reqs[0].Auth)
	assert.JSONEq(t, `{"email":"grey@example.com","password":"secret"}`, reqs[0].Body)
	assert.Equal(t, "Bearer access-1", reqs[1].Auth)
	assert.Equal(t, "/api/v1/auth/me", reqs[1].Path)
	assert.Equal(t, "Bearer access-1", reqs[2].Auth)

	s.Auth.Logout(ctx)
	last := backend.recorded()[3]
	assert.Equal(t, "/api/v1/auth/logout", last.Path)
	assert.JSONEq(t, `{"refresh_token":"refresh-1"}`, last.Body)
}

func TestSessionRefreshesExpiringTokenBeforeCall(t *testing.T) {
	// expires_in below the refresh buffer makes every token expiring soon
	backend, issued := sessionBackend(t, 60)
	server := newIPv4TestServer(t, backend)
	s := newTestSession(t, server.URL, auth.WithScheduler(func(time.Duration, func()) func() bool {
		return func() bool { return true }
	}))
	ctx := context.Background()

	require.True(t, s.Auth.Login(ctx, "grey@example.com", "secret").IsAuthenticated)
	_, err := s.GetPatient(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), issued.Load())
	reqs := backend.recorded()
	refresh := reqs[len(reqs)-2]
	assert.Equal(t, "/api/v1/auth/refresh", refresh.Path)
	assert.JSONEq(t, `{"refresh_token":"refresh-1"}`, refresh.Body)
	assert.Equal(t, "Bearer access-2", reqs[len(reqs)-1].Auth)
}

func TestSessionTornDownOnRevokedToken(t *testing.T) {
	backend, _ := sessionBackend(t, 3600)
	backend.reply(nethttp.MethodGet, "/api/v1/patients/p2", nethttp.StatusUnauthorized, `{"error":{"message":"revoked"}}`)
	server := newIPv4TestServer(t, backend)
	s := newTestSession(t, server.URL)
	ctx := context.Background()

	var events []auth.Event
	s.Auth.Subscribe(func(e auth.Event) { events = append(events, e) })
	require.True(t, s.Auth.Login(ctx, "grey@example.com", "secret").IsAuthenticated)

	_, err := s.GetPatient(ctx, "p2")

	assert.True(t, apierror.IsType(err, apierror.TokenRevoked))
	assert.Nil(t, s.Auth.Tokens())
	assert.Equal(t, []auth.Event{auth.EventLoggedIn, auth.EventSessionExpired}, events)

	_, err = s.GetPatient(ctx, "p1")
	assert.ErrorIs(t, err, auth.ErrNoTokens)
}

func TestSessionLoginFailureMessages(t *testing.T) {
	backend := newFakeBackend()
	backend.reply(nethttp.MethodPost, "/api/v1/auth/login", nethttp.StatusTooManyRequests, `{"error":{"message":"slow down"}}`)
	server := newIPv4TestServer(t, backend)
	s := newTestSession(t, server.URL)

	state := s.Auth.Login(context.Background(), "grey@example.com", "secret")

	assert.Equal(t, auth.MsgTooManyAttempts, state.Error)
	assert.Len(t, backend.recorded(), 1)
}

func TestNewSessionRequiresStore(t *testing.T) {
	_, err := NewSession(context.Background(), SessionConfig{BaseURL: "http://localhost"})
	assert.Error(t, err)
}
