package server

import (
	"net/http"
	"time"

	"github.com/danmuck/isogather/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	observability.RegisterMetrics()

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.name,
		})
	})

	s.router.GET("/progress", func(c *gin.Context) {
		if s.progress == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no run"})
			return
		}
		c.JSON(http.StatusOK, s.progress.Snapshot())
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
