package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/Dotan-Peleh/hs-automation/internal/helpscout"
)

// handleWebhook receives Help Scout webhook pings. The handler only
// verifies, extracts the conversation id and enqueues; the heavy processing
// runs on the job queue so Help Scout never sees a slow response.
func (s *Server) handleWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	if s.deps.HelpScoutSecret != "" {
		sig := c.Request().Header.Get("X-HelpScout-Signature")
		if !helpscout.VerifyWebhookSignature(s.deps.HelpScoutSecret, body, sig) {
			log.Warn().Msg("webhook signature mismatch, rejecting")
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
	}

	convID := helpscout.ExtractConversationID(body)
	if convID == 0 {
		// Pings and payloads we don't understand are acknowledged so Help
		// Scout does not retry them.
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}

	if err := s.deps.Queue.EnqueueConversation(c.Request().Context(), convID); err != nil {
		log.Error().Err(err).Int64("conv_id", convID).Msg("enqueue failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "enqueue failed")
	}
	log.Info().Int64("conv_id", convID).Msg("webhook accepted")
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
