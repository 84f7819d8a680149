package mockapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userBody struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func bindValid(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed request body")
	}
	return c.Validate(v)
}

func (s *Server) login(c echo.Context) error {
	var in loginRequest
	if err := bindValid(c, &in); err != nil {
		return err
	}

	acct, ok := s.accounts[normalizeEmail(in.Email)]
	if !ok || subtle.ConstantTimeCompare([]byte(acct.Password), []byte(in.Password)) != 1 {
		s.logger.Info().Str("email", in.Email).Msg("Login rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	grant, err := s.tokens.issue(acct)
	if err != nil {
		return err
	}
	return s.ok(c, http.StatusOK, grant)
}

func (s *Server) refresh(c echo.Context) error {
	var in refreshRequest
	if err := bindValid(c, &in); err != nil {
		return err
	}

	email, err := s.tokens.consume(in.RefreshToken)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired refresh token")
	}
	acct, ok := s.accounts[email]
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Account no longer exists")
	}

	grant, err := s.tokens.issue(acct)
	if err != nil {
		return err
	}
	return s.ok(c, http.StatusOK, grant)
}

func (s *Server) me(c echo.Context) error {
	claims := claimsFrom(c)
	acct, ok := s.accounts[normalizeEmail(claims.Email)]
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Account no longer exists")
	}
	return s.ok(c, http.StatusOK, userBody{
		ID:          acct.ID,
		Username:    acct.Username,
		Email:       acct.Email,
		Role:        acct.Role,
		Permissions: acct.Permissions,
	})
}

func (s *Server) logout(c echo.Context) error {
	var in logoutRequest
	// the body is optional
	_ = c.Bind(&in)
	s.tokens.revoke(claimsFrom(c), in.RefreshToken)
	return c.NoContent(http.StatusNoContent)
}
