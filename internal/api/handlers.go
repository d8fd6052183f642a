package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.bot.Status())
}

func (s *Server) handlePositions(c *gin.Context) {
	positions := s.bot.Positions()
	c.JSON(http.StatusOK, gin.H{
		"count":     len(positions),
		"positions": positions,
	})
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.bot.RiskMetrics())
}

func (s *Server) handleTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	trades, err := s.bot.Trades(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Trade query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trade query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(trades),
		"trades": trades,
	})
}

// handleKill engages the kill switch. Idempotent; rate limited to keep a
// misbehaving dashboard from hammering the endpoint.
func (s *Server) handleKill(c *gin.Context) {
	if !s.rateLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	alreadyKilled := s.bot.Killed()
	s.bot.Kill()
	s.logger.Warn().Str("client", c.ClientIP()).Msg("Kill switch triggered via API")
	c.JSON(http.StatusOK, gin.H{
		"killed":  true,
		"already": alreadyKilled,
	})
}
