// Package api exposes the webhook ingress, the Slack interaction endpoint
// and the dashboard/admin surface over echo.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/Dotan-Peleh/hs-automation/internal/enrich"
	"github.com/Dotan-Peleh/hs-automation/internal/notify"
	"github.com/Dotan-Peleh/hs-automation/internal/store"
	"github.com/Dotan-Peleh/hs-automation/internal/triage"
	"github.com/Dotan-Peleh/hs-automation/internal/vector"
)

// JobQueue is what the handlers need from the queue; *jobs.Queue satisfies it.
type JobQueue interface {
	EnqueueConversation(ctx context.Context, convID int64) error
	EnqueueBackfill(ctx context.Context, maxPages int) error
	EnqueueReindex(ctx context.Context, limit int) error
}

// OAuthClient is the Help Scout credential surface used by the OAuth
// endpoints; *helpscout.Client satisfies it.
type OAuthClient interface {
	ExchangeAuthCode(ctx context.Context, code string) error
	HasCredentials(ctx context.Context) bool
}

// Deps carries the server's collaborators. Optional ones may be nil.
type Deps struct {
	Store     store.Store
	Queue     JobQueue
	HelpScout OAuthClient
	Enricher  *enrich.Enricher
	Learner   *enrich.Learner
	Indexer   *vector.Indexer
	Anomaly   *triage.AnomalyDetector
	Hub       *notify.Hub

	Thresholds         triage.Thresholds
	HelpScoutSecret    string // webhook HMAC secret; empty disables verification
	HelpScoutAppID     string
	SlackSigningSecret string
}

// Server is the HTTP front of the triage service.
type Server struct {
	echo *echo.Echo
	deps Deps
	host string
	port int
}

func NewServer(host string, port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	if deps.Anomaly == nil {
		deps.Anomaly = triage.NewAnomalyDetector(triage.DefaultAnomalyWindow)
	}
	if deps.Thresholds == (triage.Thresholds{}) {
		deps.Thresholds = triage.DefaultThresholds()
	}

	s := &Server{echo: e, deps: deps, host: host, port: port}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.health)

	s.echo.POST("/helpscout/webhook", s.handleWebhook)
	s.echo.POST("/slack/interact", s.handleSlackInteraction)

	s.echo.GET("/helpscout/oauth/install", s.oauthInstall)
	s.echo.GET("/helpscout/oauth/callback", s.oauthCallback)
	s.echo.GET("/helpscout/oauth/status", s.oauthStatus)

	admin := s.echo.Group("/admin")
	admin.GET("/preview", s.preview)
	admin.GET("/poll", s.poll)
	admin.GET("/stats", s.stats)
	admin.GET("/insights", s.insights)
	admin.GET("/volume", s.volume)
	admin.GET("/incidents", s.listIncidents)
	admin.GET("/conversations", s.listConversations)
	admin.GET("/dashboard", s.dashboard)
	admin.POST("/ticket/feedback", s.ticketFeedback)
	admin.POST("/ticket/mark_seen", s.markTicketSeen)
	admin.POST("/ticket/unmark", s.unmarkTicket)
	admin.GET("/ticket/dismissed", s.dismissedTickets)
	admin.GET("/feedback/summary", s.feedbackSummary)
	admin.GET("/learning/stats", s.learningStats)
	admin.POST("/backfill", s.backfill)
	// Browser-friendly trigger, same behavior as the POST.
	admin.GET("/backfill", s.backfill)
	admin.POST("/reindex_vectors", s.reindexVectors)
	admin.GET("/vector_search", s.vectorSearch)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until SIGINT, then drains with a grace period.
func (s *Server) Start() error {
	go func() {
		addr := fmt.Sprintf("%s:%d", s.host, s.port)
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// intQuery parses a query parameter with a default and clamping.
func intQuery(c echo.Context, name string, def, min, max int) int {
	v := def
	if raw := c.QueryParam(name); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
			v = def
		}
	}
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}
