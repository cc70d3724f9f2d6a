// Package server provides the HTTP API for maileventd.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/parchlabs/mailevent/internal/config"
	"github.com/parchlabs/mailevent/internal/extract"
	"github.com/parchlabs/mailevent/internal/normalize"
)

// Extractor runs the ensemble for one message and classifies the result.
type Extractor interface {
	Extract(ctx context.Context, msg extract.Message) extract.Result
	IsEvent(res extract.Result) bool
}

// Server provides HTTP endpoints for maileventd.
type Server struct {
	echo      *echo.Echo
	extractor Extractor
	sink      Sink
	cache     *resultCache
	logger    *zap.Logger
	config    config.ServerConfig
}

// New creates the HTTP server.
func New(cfg config.ServerConfig, cacheCfg config.CacheConfig, extractor Extractor, sink Sink, logger *zap.Logger) (*Server, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if sink == nil {
		sink = NopSink{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		extractor: extractor,
		sink:      sink,
		cache:     newResultCache(cacheCfg.TTL, cacheCfg.MaxEntries),
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/extract", s.handleExtract)
}

// ExtractRequest is the request body for POST /api/v1/extract. The ID is
// the caller's message identifier; when present it keys the result cache.
type ExtractRequest struct {
	ID             string               `json:"id"`
	Subject        string               `json:"subject"`
	BodyParts      []normalize.BodyPart `json:"body_parts"`
	CalendarInvite string               `json:"calendar_invite"`
}

func (r ExtractRequest) empty() bool {
	return r.Subject == "" && len(r.BodyParts) == 0 && r.CalendarInvite == ""
}

// ExtractResponse is the response body for POST /api/v1/extract.
type ExtractResponse struct {
	ID     string         `json:"id"`
	Event  bool           `json:"event"`
	Result extract.Result `json:"result"`
	Cached bool           `json:"cached"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleExtract runs the extraction ensemble over one message.
func (s *Server) handleExtract(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid extract request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.empty() {
		return echo.NewHTTPError(http.StatusBadRequest, "message must carry a subject, body parts or a calendar invite")
	}

	if resp, ok := s.cache.get(req.ID); ok {
		resp.Cached = true
		return c.JSON(http.StatusOK, resp)
	}

	ctx := c.Request().Context()
	res := s.extractor.Extract(ctx, extract.Message{
		Subject:        req.Subject,
		BodyParts:      req.BodyParts,
		CalendarInvite: req.CalendarInvite,
	})
	event := s.extractor.IsEvent(res)

	messageID := req.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	if event {
		rec := Record{
			ID:         uuid.NewString(),
			MessageID:  messageID,
			Result:     res,
			Attendees:  defaultAttendees,
			ReceivedAt: time.Now().UTC(),
		}
		// A sink failure must not fail the extraction response.
		if err := s.sink.Store(ctx, rec); err != nil {
			s.logger.Error("failed to store event record",
				zap.String("message_id", messageID),
				zap.Error(err))
		}
	}

	resp := ExtractResponse{
		ID:     messageID,
		Event:  event,
		Result: res,
	}
	s.cache.put(req.ID, resp)

	s.logger.Debug("extraction served",
		zap.String("message_id", messageID),
		zap.Bool("event", event),
		zap.String("provenance", res.Provenance),
		zap.Int("field_count", res.FieldCount),
	)
	return c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
