// Package api is the HTTP boundary. Handlers stay thin: decode,
// delegate to an engine or repository, map typed errors to status
// codes.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"trading-analytics/config"
	"trading-analytics/internal/ai/llm"
	"trading-analytics/internal/database"
	"trading-analytics/internal/sentiment"
	"trading-analytics/internal/trades"
)

// Server hosts the inbound HTTP API
type Server struct {
	cfg       config.ServerConfig
	db        *database.DB
	sentiment *sentiment.Engine
	trades    *trades.Engine
	ai        *llm.Client
	log       zerolog.Logger

	http *http.Server
}

// NewServer wires the API server
func NewServer(cfg config.ServerConfig, db *database.DB, sentimentEngine *sentiment.Engine,
	tradesEngine *trades.Engine, aiClient *llm.Client, logger zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		db:        db,
		sentiment: sentimentEngine,
		trades:    tradesEngine,
		ai:        aiClient,
		log:       logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the gin engine with all routes registered
func (s *Server) Router() *gin.Engine {
	if s.cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	corsConfig := cors.DefaultConfig()
	if s.cfg.AllowedOrigins == "" || s.cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(s.cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsConfig))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/health", s.handleHealth)

		chartAnalysis := apiGroup.Group("/chart-analysis")
		{
			chartAnalysis.POST("/analyze", s.handleAnalyzeChart)
			chartAnalysis.GET("/get/:id", s.handleGetAnalysis)
			chartAnalysis.GET("/history/:ticker", s.handleAnalysisHistory)
			chartAnalysis.DELETE("/delete/:id", s.handleDeleteAnalysis)
		}

		activeTrades := apiGroup.Group("/active-trades")
		{
			activeTrades.GET("/all", s.handleOpenTrades)
			activeTrades.GET("/all-history", s.handleTradeHistory)
			activeTrades.GET("/updates/:id", s.handleTradeUpdates)
			activeTrades.POST("/close", s.handleCloseTrade)
		}

		apiGroup.GET("/fills", s.handleListFills)

		macroSentiment := apiGroup.Group("/macro-sentiment")
		{
			macroSentiment.GET("/status", s.handleSentimentStatus)
			macroSentiment.POST("/analyze", s.handleForceAnalysis)
			macroSentiment.POST("/scan", s.handleForceScan)
			macroSentiment.GET("/history", s.handleConfidenceHistory)
			macroSentiment.POST("/bootstrap", s.handleBootstrap)
		}
	}

	return router
}

// Start runs the HTTP server until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(s.cfg.ShutdownTimeout)*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := s.db.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
