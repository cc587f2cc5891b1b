package api

import (
	"github.com/gin-gonic/gin"

	"github.com/tradesentry/tradesentry/internal/metrics"
)

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", func(c *gin.Context) {
		metrics.Handler().ServeHTTP(c.Writer, c.Request)
	})

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)

		v1.POST("/orders", s.handlePlaceOrder)
		v1.GET("/orders", s.handleListOrders)

		v1.GET("/positions", s.handleListPositions)
		v1.GET("/balance", s.handleBalance)

		v1.GET("/strategies", s.handleListStrategies)
		v1.POST("/strategies/:id/enable", s.handleStrategyToggle(true))
		v1.POST("/strategies/:id/disable", s.handleStrategyToggle(false))

		v1.POST("/trading/start", s.handleStartTrading)
		v1.POST("/trading/stop", s.handleStopTrading)
	}

	s.router.GET("/ws", s.handleCommandSocket)
	s.router.GET("/ws/events", s.handleEventSocket)
}
