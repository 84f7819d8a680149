// Package mockapi is an in-process emulation of the digital-twin backend. It
// speaks the backend's wire conventions (snake_case bodies, {data, meta}
// envelopes, /api/v1 prefix) and issues real HS256 tokens, which makes it
// suitable for local development and end-to-end tests of the client.
package mockapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/gaborage/twinclient/logger"
)

// BasePath prefixes every backend route.
const BasePath = "/api/v1"

const (
	defaultSecret     = "twin-dev-secret"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultService    = "twin-mockapi"
	bodyLimit         = "1M"
)

// Config tunes the mock backend. Zero values select development defaults.
type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// LoginRate is the sustained login attempts per second allowed per client
	// address. Zero disables login rate limiting.
	LoginRate  float64
	LoginBurst int

	// Accounts replaces the seeded demo accounts when non-empty.
	Accounts []Account

	ServiceName string
	Version     string
	Now         func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Secret == "" {
		c.Secret = defaultSecret
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = defaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = defaultRefreshTTL
	}
	if c.LoginRate > 0 && c.LoginBurst <= 0 {
		c.LoginBurst = 1
	}
	if len(c.Accounts) == 0 {
		c.Accounts = DemoAccounts()
	}
	if c.ServiceName == "" {
		c.ServiceName = defaultService
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Server is the mock backend.
type Server struct {
	echo     *echo.Echo
	cfg      Config
	logger   logger.Logger
	tokens   *issuer
	faults   *Faults
	accounts map[string]*Account
	patients []patient
}

// New creates a mock backend with every route registered.
func New(cfg Config, log logger.Logger) *Server {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(log)
	e.Validator = NewValidator()
	e.Server.ReadHeaderTimeout = 10 * time.Second

	s := &Server{
		echo:     e,
		cfg:      cfg,
		logger:   log,
		tokens:   newIssuer([]byte(cfg.Secret), cfg.AccessTTL, cfg.RefreshTTL, cfg.Now),
		faults:   NewFaults(),
		accounts: make(map[string]*Account, len(cfg.Accounts)),
		patients: seedPatients(),
	}
	for i := range cfg.Accounts {
		acct := cfg.Accounts[i]
		s.accounts[normalizeEmail(acct.Email)] = &acct
	}

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(otelecho.Middleware(cfg.ServiceName))
	e.Use(requestLogger(log))
	e.Use(s.faults.middleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.POST("/_mock/faults", s.injectFault)
	s.echo.DELETE("/_mock/faults", s.resetFaults)

	g := s.echo.Group(BasePath)
	g.GET("/health", s.health)

	a := g.Group("/auth")
	a.POST("/login", s.login, loginRateLimit(s.cfg.LoginRate, s.cfg.LoginBurst))
	a.POST("/refresh", s.refresh)
	a.GET("/me", s.me, s.requireAuth)
	a.POST("/logout", s.logout, s.requireAuth)

	p := g.Group("/patients", s.requireAuth, requirePermission(PermPatientsRead))
	p.GET("", s.listPatients)
	p.GET("/brain-models/:id", s.brainModel)
	p.GET("/:id", s.getPatient)

	ml := g.Group("/ml", s.requireAuth)
	ml.POST("/process-text", s.processText)
	ml.POST("/depression-detection", s.detectDepression)
	ml.POST("/risk-assessment", s.assessRisk)
	ml.POST("/sentiment", s.analyzeSentiment)
	ml.POST("/digital-twin", s.generateDigitalTwin, requirePermission(PermTwinsGenerate))
	ml.POST("/treatment-response", s.predictTreatment, requirePermission(PermPredictionsRead))
}

// Handler exposes the server for httptest or a custom http.Server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Faults returns the fault injection registry.
func (s *Server) Faults() *Faults {
	return s.faults
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info().
		Str("service", s.cfg.ServiceName).
		Str("address", addr).
		Msg("Starting mock backend")
	return s.echo.Start(addr)
}

// Serve accepts connections on l and blocks until the server stops.
func (s *Server) Serve(l net.Listener) error {
	s.echo.Listener = l
	s.logger.Info().
		Str("service", s.cfg.ServiceName).
		Str("address", l.Addr().String()).
		Msg("Starting mock backend")
	return s.echo.StartServer(s.echo.Server)
}

// Shutdown stops the server, waiting for in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) now() time.Time {
	return s.cfg.Now()
}
