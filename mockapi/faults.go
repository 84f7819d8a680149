package mockapi

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

var errInjected = errors.New("injected fault")

// AnyMethod matches every request method in a Fault.
const AnyMethod = "*"

// Fault makes the next Count requests matching Method and Path fail with
// Status. Path is the full request path, including BasePath.
type Fault struct {
	Method string `json:"method"`
	Path   string `json:"path" validate:"required"`
	Status int    `json:"status" validate:"required,min=400,max=599"`
	Count  int    `json:"count" validate:"min=0"`
}

// Faults is a registry of pending injected failures.
type Faults struct {
	mu      sync.Mutex
	pending []*Fault
}

// NewFaults creates an empty registry.
func NewFaults() *Faults {
	return &Faults{}
}

// Inject registers a fault. A Count of zero means one failure.
func (f *Faults) Inject(fault Fault) {
	if fault.Count <= 0 {
		fault.Count = 1
	}
	if fault.Method == "" {
		fault.Method = AnyMethod
	}
	fault.Method = strings.ToUpper(fault.Method)
	f.mu.Lock()
	f.pending = append(f.pending, &fault)
	f.mu.Unlock()
}

// Reset drops every pending fault.
func (f *Faults) Reset() {
	f.mu.Lock()
	f.pending = nil
	f.mu.Unlock()
}

// Pending returns the number of failures still to be served.
func (f *Faults) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.pending {
		n += p.Count
	}
	return n
}

// take consumes one failure matching the request, returning its status.
func (f *Faults) take(method, path string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.pending {
		if p.Path != path || (p.Method != AnyMethod && p.Method != method) {
			continue
		}
		p.Count--
		if p.Count == 0 {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
		}
		return p.Status, true
	}
	return 0, false
}

func (f *Faults) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if status, ok := f.take(c.Request().Method, c.Request().URL.Path); ok {
				return &echo.HTTPError{Code: status, Message: http.StatusText(status), Internal: errInjected}
			}
			return next(c)
		}
	}
}

func (s *Server) injectFault(c echo.Context) error {
	var in Fault
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed fault")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	s.faults.Inject(in)
	return s.ok(c, http.StatusCreated, map[string]int{"pending": s.faults.Pending()})
}

func (s *Server) resetFaults(c echo.Context) error {
	s.faults.Reset()
	return c.NoContent(http.StatusNoContent)
}
