package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	slackalert "github.com/Dotan-Peleh/hs-automation/internal/slack"
)

// handleSlackInteraction serves the Acknowledge / Mute / Resolve buttons on
// incident messages.
func (s *Server) handleSlackInteraction(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	cb, err := slackalert.VerifyAndParse(s.deps.SlackSigningSecret, c.Request().Header, body)
	if err != nil {
		if errors.Is(err, slackalert.ErrBadSignature) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	reply, err := slackalert.HandleAction(c.Request().Context(), s.deps.Store, cb)
	if err != nil {
		log.Error().Err(err).Msg("slack interaction failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "interaction failed")
	}
	if reply == "" {
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "text": reply})
}
