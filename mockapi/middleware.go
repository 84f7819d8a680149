package mockapi

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/gaborage/twinclient/logger"
)

const (
	claimsKey          = "claims"
	rateLimiterExpires = 3 * time.Minute
)

// requestLogger emits one structured line per request, escalating the level
// with the response status.
func requestLogger(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			ctxLog := log.WithContext(c.Request().Context())
			var event logger.LogEvent
			switch {
			case status >= http.StatusInternalServerError:
				event = ctxLog.Error()
			case status >= http.StatusBadRequest:
				event = ctxLog.Warn()
			default:
				event = ctxLog.Debug()
			}
			event.
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("http.request.method", c.Request().Method).
				Str("url.path", c.Request().URL.Path).
				Str("http.route", c.Path()).
				Int("http.response.status_code", status).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
			return nil
		}
	}
}

// loginRateLimit throttles login attempts per client address. A
// non-positive limit disables throttling.
func loginRateLimit(perSecond float64, burst int) echo.MiddlewareFunc {
	if perSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	tooMany := func(c echo.Context) error {
		return writeError(c, http.StatusTooManyRequests, "Too many login attempts", nil)
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpires,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, _ error) error { return tooMany(c) },
		DenyHandler:  func(c echo.Context, _ string, _ error) error { return tooMany(c) },
	})
}

// requireAuth verifies the bearer token and stores its claims on the context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if !ok || raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing bearer token")
		}
		claims, err := s.tokens.verify(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

func requirePermission(perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, _ := c.Get(claimsKey).(*accessClaims)
			if claims == nil || !slices.Contains(claims.Permissions, perm) {
				return echo.NewHTTPError(http.StatusForbidden, "Missing permission "+perm)
			}
			return next(c)
		}
	}
}

func claimsFrom(c echo.Context) *accessClaims {
	claims, _ := c.Get(claimsKey).(*accessClaims)
	return claims
}
