package mockapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gaborage/twinclient/logger"
)

// envelope is the body of every JSON response.
type envelope struct {
	Data  any            `json:"data,omitempty"`
	Error *errorBody     `json:"error,omitempty"`
	Meta  map[string]any `json:"meta"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (s *Server) meta(c echo.Context) map[string]any {
	return map[string]any{
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		"timestamp":  s.now().UTC().Format(time.RFC3339),
	}
}

func (s *Server) ok(c echo.Context, status int, data any) error {
	return c.JSON(status, envelope{Data: data, Meta: s.meta(c)})
}

func (s *Server) okWithMeta(c echo.Context, data any, extra map[string]any) error {
	meta := s.meta(c)
	for k, v := range extra {
		meta[k] = v
	}
	return c.JSON(http.StatusOK, envelope{Data: data, Meta: meta})
}

func writeError(c echo.Context, status int, message string, details any) error {
	return c.JSON(status, envelope{
		Error: &errorBody{
			Code:    statusToErrorCode(status),
			Message: message,
			Details: details,
		},
		Meta: map[string]any{
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// errorHandler renders every handler error as an error envelope.
func errorHandler(log logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		msg := "Internal server error"
		var details any

		var ve *ValidationError
		var he *echo.HTTPError
		switch {
		case errors.As(err, &ve):
			status = http.StatusBadRequest
			msg = ve.Error()
			details = ve.Errors
		case errors.As(err, &he):
			status = he.Code
			switch m := he.Message.(type) {
			case string:
				msg = m
			case error:
				msg = m.Error()
			}
		}

		if status >= http.StatusInternalServerError && !errors.Is(err, errInjected) {
			log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("Unhandled error")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = writeError(c, status, msg, details)
		}
		if werr != nil {
			log.Warn().Err(werr).Msg("Failed to write error response")
		}
	}
}

func statusToErrorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "TOO_MANY_REQUESTS"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case http.StatusBadGateway:
		return "BAD_GATEWAY"
	case http.StatusGatewayTimeout:
		return "GATEWAY_TIMEOUT"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
