package api

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
)

const authorizeURL = "https://secure.helpscout.net/authentication/authorizeClientApplication"

// oauthInstall returns the consent URL for connecting the Help Scout app.
func (s *Server) oauthInstall(c echo.Context) error {
	if s.deps.HelpScoutAppID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "help scout app id not configured")
	}
	u := fmt.Sprintf("%s?response_type=code&client_id=%s&state=csrf",
		authorizeURL, url.QueryEscape(s.deps.HelpScoutAppID))
	return c.JSON(http.StatusOK, map[string]string{"authorize_url": u})
}

// oauthCallback exchanges the consent code for tokens and persists them.
func (s *Server) oauthCallback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing code")
	}
	if err := s.deps.HelpScout.ExchangeAuthCode(c.Request().Context(), code); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("token exchange failed: %v", err))
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// oauthStatus reports whether a usable Help Scout credential exists.
func (s *Server) oauthStatus(c echo.Context) error {
	ctx := c.Request().Context()
	tok, err := s.deps.Store.GetOAuthToken(ctx)
	if err != nil || tok.AccessToken == "" {
		connected := s.deps.HelpScout != nil && s.deps.HelpScout.HasCredentials(ctx)
		return c.JSON(http.StatusOK, map[string]any{"connected": connected})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"connected":  true,
		"expires_at": tok.ExpiresAt,
	})
}
