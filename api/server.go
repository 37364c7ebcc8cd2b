// Package api is the HTTP control surface over a trader.Service.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/mtftrader/confluence"
	"github.com/rustyeddy/mtftrader/execution"
	"github.com/rustyeddy/mtftrader/metrics"
	"github.com/rustyeddy/mtftrader/risk"
	"github.com/rustyeddy/mtftrader/trader"
)

// Trader is the part of trader.Service the API exposes.
type Trader interface {
	Analyze(ctx context.Context, instrument string) (confluence.Decision, error)
	AnalyzeAll(ctx context.Context) trader.Overview
	RunCycle(ctx context.Context) (trader.CycleReport, error)
	SubmitTrade(ctx context.Context, req risk.TradeRequest) (risk.Decision, string, error)
	PositionSnapshot() trader.Snapshot
	EmergencyStop(ctx context.Context, reason string) ([]string, error)
	ClosePosition(positionID string, volume float64) (string, error)
	Order(orderID string) (execution.OrderResult, bool)
	RiskSummary(ctx context.Context) (risk.Summary, error)
	SetRegime(r risk.Regime, reason string) error
	HaltedInstruments() map[string]string
	ResumeInstrument(instrument string) error
}

var _ Trader = (*trader.Service)(nil)

type ServerConfig struct {
	Addr           string `yaml:"addr" json:"addr"`
	ProductionMode bool   `yaml:"production_mode" json:"production_mode"`
}

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	trader     Trader
	config     ServerConfig
	log        zerolog.Logger
	started    time.Time
}

func NewServer(config ServerConfig, t Trader, log zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(requestLogger(log))
	router.Use(gin.Recovery())

	s := &Server{
		router:  router,
		trader:  t,
		config:  config,
		log:     log,
		started: time.Now(),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.router.Group("/api")
	{
		api.GET("/analysis", s.handleAnalyzeAll)
		api.GET("/analysis/:instrument", s.handleAnalyze)
		api.POST("/cycle", s.handleRunCycle)

		api.POST("/trades", s.handleSubmitTrade)
		api.GET("/orders/:id", s.handleGetOrder)

		api.GET("/positions", s.handleGetPositions)
		api.POST("/positions/:id/close", s.handleClosePosition)

		api.GET("/risk", s.handleRiskSummary)
		api.PUT("/regime", s.handleSetRegime)
		api.POST("/emergency-stop", s.handleEmergencyStop)

		api.GET("/halts", s.handleGetHalts)
		api.POST("/halts/:instrument/resume", s.handleResume)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.config.Addr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.trader.PositionSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"regime":         snap.Regime.Regime,
		"open_positions": snap.Stats.OpenPositions,
		"uptime":         time.Since(s.started).Round(time.Second).String(),
	})
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
