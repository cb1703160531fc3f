// Package api serves the PeeRly JSON API over gin, including the
// server-sent event and WebSocket streams that carry messaging updates.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/auth"
	"github.com/zulandar/peerly/internal/config"
	"github.com/zulandar/peerly/internal/marketplace"
	"github.com/zulandar/peerly/internal/messaging"
	"github.com/zulandar/peerly/internal/moderation"
	"github.com/zulandar/peerly/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Server routes HTTP requests to the PeeRly services.
type Server struct {
	auth      *auth.Service
	market    *marketplace.Service
	messages  *messaging.GormStore
	registry  *messaging.Registry
	reports   *moderation.Service
	uploads   *storage.MemStore
	http      config.HTTPConfig
	cookie    string
	secure    bool
	history   int
	heartbeat time.Duration
	log       zerolog.Logger
	router    *gin.Engine
	upgrader  *websocket.Upgrader
}

// Opts holds the services and settings for New.
type Opts struct {
	Auth     *auth.Service
	Market   *marketplace.Service
	Messages *messaging.GormStore
	Registry *messaging.Registry
	Reports  *moderation.Service
	// Uploads, when set, is served under /uploads for deployments
	// without a bucket.
	Uploads *storage.MemStore
	HTTP    config.HTTPConfig
	// CookieName is the session cookie, default "peerly_session".
	CookieName string
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
	HistoryLimit  int
	// Heartbeat is the SSE keep-alive interval, default 15s.
	Heartbeat time.Duration
	Logger    zerolog.Logger
}

// New validates opts and builds the router.
func New(opts Opts) (*Server, error) {
	switch {
	case opts.Auth == nil:
		return nil, fmt.Errorf("api: auth service is required")
	case opts.Market == nil:
		return nil, fmt.Errorf("api: marketplace service is required")
	case opts.Messages == nil:
		return nil, fmt.Errorf("api: message store is required")
	case opts.Registry == nil:
		return nil, fmt.Errorf("api: session registry is required")
	case opts.Reports == nil:
		return nil, fmt.Errorf("api: moderation service is required")
	}
	if opts.CookieName == "" {
		opts.CookieName = "peerly_session"
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.HTTP.Port <= 0 {
		opts.HTTP.Port = 8080
	}

	s := &Server{
		auth:      opts.Auth,
		market:    opts.Market,
		messages:  opts.Messages,
		registry:  opts.Registry,
		reports:   opts.Reports,
		uploads:   opts.Uploads,
		http:      opts.HTTP,
		cookie:    opts.CookieName,
		secure:    opts.SecureCookies,
		history:   opts.HistoryLimit,
		heartbeat: opts.Heartbeat,
		log:       opts.Logger.With().Str("component", "api").Logger(),
		upgrader:  newUpgrader(opts.HTTP.AllowedOrigins),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.MaxMultipartMemory = maxUploadMemory
	router.Use(recovery(s.log), requestLogger(s.log), corsMiddleware(opts.HTTP.AllowedOrigins))
	if opts.HTTP.RatePerSecond > 0 {
		router.Use(rateLimit(newIPLimiter(opts.HTTP.RatePerSecond, opts.HTTP.RateBurst), s.log))
	}
	s.registerRoutes(router)
	s.router = router

	opts.Auth.OnChange(func(c auth.StateChange) {
		if c.Kind != auth.SignedOut {
			return
		}
		if n := s.registry.CloseUser(c.UserID); n > 0 {
			s.log.Debug().Str("user", c.UserID).Int("views", n).Msg("closed views on sign-out")
		}
	})
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on the configured port. It blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context, out io.Writer) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.http.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Streams never finish on their own.
	srv.RegisterOnShutdown(s.registry.CloseAll)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("http shutdown")
		}
	}()

	if out != nil {
		fmt.Fprintf(out, "PeeRly API listening on http://localhost:%d\n", s.http.Port)
	}
	s.log.Info().Int("port", s.http.Port).Msg("http server started")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
