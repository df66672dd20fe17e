// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forumlinkbot/pkg/forumlink"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).ParseFS(templateFS, "tmpl/*.tmpl"))

// Routes exposes the routing state for display.
type Routes interface {
	Guilds() []forumlink.ID
	Snapshot(guild forumlink.ID) *forumlink.GuildConfig
}

// Gateway reports whether the chat connection is up.
type Gateway interface {
	Connected() bool
}

// Server handles HTTP requests.
type Server struct {
	routes   Routes
	gateway  Gateway
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	port     string
	timeouts Timeouts
}

// Timeouts bounds the HTTP server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// Config holds server configuration.
type Config struct {
	Routes   Routes
	Gateway  Gateway // Optional
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Port     string
	Timeouts Timeouts
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		routes:   cfg.Routes,
		gateway:  cfg.Gateway,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
		port:     cfg.Port,
		timeouts: cfg.Timeouts,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/guilds", s.handleGuilds)
	r.Get("/guilds/{guildID}", s.handleGuild)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Router(),
		ReadTimeout:       s.timeouts.Read,
		WriteTimeout:      s.timeouts.Write,
		IdleTimeout:       s.timeouts.Idle,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", s.port)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{"status": "healthy"}
	if s.gateway != nil {
		status["gateway_connected"] = s.gateway.Connected()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleGuilds(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"guilds": s.routes.Guilds()}); err != nil {
		s.logger.Warn("Failed to write guild list", "error", err)
	}
}

type guildPage struct {
	GuildID forumlink.ID
	Config  *forumlink.GuildConfig
}

func (s *Server) handleGuild(w http.ResponseWriter, r *http.Request) {
	guild := forumlink.ID(chi.URLParam(r, "guildID"))

	// Only render known guilds; looking up an unknown id would create it.
	if !forumlink.Contains(s.routes.Guilds(), guild) {
		s.logger.Debug("Status page requested for unknown guild", "guild", guild, "request_id", middleware.GetReqID(r.Context()))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		if err := templates.ExecuteTemplate(w, "not_found.tmpl", guildPage{GuildID: guild}); err != nil {
			s.logger.Error("Failed to render template", "template", "not_found.tmpl", "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")

	data := guildPage{GuildID: guild, Config: s.routes.Snapshot(guild)}
	if err := templates.ExecuteTemplate(w, "guild.tmpl", data); err != nil {
		s.logger.Error("Failed to render template", "template", "guild.tmpl", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
