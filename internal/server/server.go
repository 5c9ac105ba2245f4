// Package server exposes cycle reports and settings over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/VolumeSpike/internal/engine"
	"github.com/Alias1177/VolumeSpike/models"
)

// Cycler runs one evaluation cycle on demand
type Cycler interface {
	RunOnce(ctx context.Context) (*models.Report, error)
}

// Server is the HTTP surface. It implements engine.Publisher.
type Server struct {
	addr     string
	settings *engine.SettingsHolder
	cycler   Cycler
	engine   *gin.Engine
	http     *http.Server
	logger   zerolog.Logger

	// WebSocket clients
	clients    map[*Client]struct{}
	broadcast  chan *models.Report
	register   chan *Client
	unregister chan *Client
	hubDone    chan struct{}

	latest      *models.Report
	latestMutex sync.RWMutex

	// cycles triggered over HTTP run on this context, not the request's
	baseCtx context.Context
}

// New creates the server; cycler may be nil until SetCycler is called
func New(addr string, settings *engine.SettingsHolder, cycler Cycler) *Server {
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		addr:       addr,
		settings:   settings,
		cycler:     cycler,
		engine:     gin.New(),
		logger:     log.With().Str("component", "http_server").Logger(),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *models.Report, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		hubDone:    make(chan struct{}),
		baseCtx:    context.Background(),
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// SetCycler wires the on-demand cycle runner
func (s *Server) SetCycler(c Cycler) {
	s.cycler = c
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/report", s.getReport)
	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.putSettings)
	api.POST("/refresh", s.postRefresh)

	s.engine.GET("/ws", s.handleWebSocket)
}

// Start runs the hub and serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	go s.runHub(ctx)

	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Starting HTTP server")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down HTTP server")
		return s.http.Shutdown(shutdownCtx)
	}
}

// Publish stores the report as latest and pushes it to WebSocket clients
func (s *Server) Publish(report *models.Report) {
	s.latestMutex.Lock()
	s.latest = report
	s.latestMutex.Unlock()

	select {
	case s.broadcast <- report:
	default:
		s.logger.Warn().Msg("Broadcast queue full, dropping report push")
	}
}

// Latest returns the last published report, nil before the first cycle
func (s *Server) Latest() *models.Report {
	s.latestMutex.RLock()
	defer s.latestMutex.RUnlock()
	return s.latest
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	}
}

func (s *Server) getHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if latest := s.Latest(); latest != nil {
		body["last_cycle"] = latest.FinishedAt
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getReport(c *gin.Context) {
	latest := s.Latest()
	if latest == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, latest)
}

// settingsPayload is the wire form of models.Settings with a readable interval
type settingsPayload struct {
	Instruments     []string `json:"instruments"`
	BucketMinutes   int      `json:"bucket_minutes"`
	RefreshInterval string   `json:"refresh_interval"`
	Multiplier      float64  `json:"multiplier"`
	AlertsEnabled   *bool    `json:"alerts_enabled"`
}

func toPayload(s models.Settings) settingsPayload {
	enabled := s.AlertsEnabled
	return settingsPayload{
		Instruments:     s.Instruments,
		BucketMinutes:   s.BucketMinutes,
		RefreshInterval: s.RefreshInterval.String(),
		Multiplier:      s.Multiplier,
		AlertsEnabled:   &enabled,
	}
}

// apply overlays the non-zero payload fields on current settings
func (p settingsPayload) apply(current models.Settings) (models.Settings, error) {
	next := current.Clone()
	if p.Instruments != nil {
		next.Instruments = append([]string(nil), p.Instruments...)
	}
	if p.BucketMinutes != 0 {
		next.BucketMinutes = p.BucketMinutes
	}
	if p.RefreshInterval != "" {
		d, err := time.ParseDuration(p.RefreshInterval)
		if err != nil {
			return models.Settings{}, err
		}
		next.RefreshInterval = d
	}
	if p.Multiplier != 0 {
		next.Multiplier = p.Multiplier
	}
	if p.AlertsEnabled != nil {
		next.AlertsEnabled = *p.AlertsEnabled
	}
	return next, nil
}

func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"settings":    toPayload(s.settings.Get()),
		"instruments": models.Instruments,
	})
}

func (s *Server) putSettings(c *gin.Context) {
	var payload settingsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := payload.apply(s.settings.Get())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.settings.Set(next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info().
		Strs("instruments", next.Instruments).
		Int("bucket_minutes", next.BucketMinutes).
		Float64("multiplier", next.Multiplier).
		Bool("alerts_enabled", next.AlertsEnabled).
		Dur("refresh_interval", next.RefreshInterval).
		Msg("Settings updated")
	c.JSON(http.StatusOK, gin.H{"settings": toPayload(s.settings.Get())})
}

func (s *Server) postRefresh(c *gin.Context) {
	if s.cycler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not ready"})
		return
	}

	// the cycle outlives the request so a dropped client cannot abort it between dedup and notify
	report, err := s.cycler.RunOnce(s.baseCtx)
	switch {
	case errors.Is(err, engine.ErrCycleInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidSettings):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, report)
	}
}
