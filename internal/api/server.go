// Package api serves the read-mostly monitoring surface and the kill switch.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"volatility-trading-bot/config"
	"volatility-trading-bot/internal/store"
)

// BotAPI is what the server needs from the running bot.
type BotAPI interface {
	Status() map[string]interface{}
	Positions() []*store.Position
	RiskMetrics() map[string]interface{}
	Trades(ctx context.Context, symbol string, limit int) ([]*store.TradeRecord, error)
	Kill()
	Killed() bool
}

// RateLimiter is a simple in-memory per-key limiter guarding the mutating
// endpoints.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether another request for the key fits in the window.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	windowStart := time.Now().Add(-r.window)
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, time.Now())
	return true
}

// Server is the HTTP monitoring server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	bot         BotAPI
	cfg         config.ServerConfig
	rateLimiter *RateLimiter
	metrics     http.Handler
	logger      zerolog.Logger
}

// NewServer builds the router. The metrics handler may be nil when scraping
// is disabled.
func NewServer(cfg config.ServerConfig, bot BotAPI, metricsHandler http.Handler, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" || cfg.AllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		bot:         bot,
		cfg:         cfg,
		rateLimiter: NewRateLimiter(5, time.Minute),
		metrics:     metricsHandler,
		logger:      logger.With().Str("component", "APIServer").Logger(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/risk", s.handleRisk)
		api.GET("/trades", s.handleTrades)
		api.POST("/kill", s.handleKill)
	}

	if s.cfg.MetricsEnabled && s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
