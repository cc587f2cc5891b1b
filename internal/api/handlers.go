package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tradesentry/tradesentry/internal/db"
	"github.com/tradesentry/tradesentry/internal/engine"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/risk"
	"github.com/tradesentry/tradesentry/internal/strategy"
)

// handleHealth is the load-balancer probe. It reports unhealthy only
// when the durable store is down, because trading without persistence
// is the one state operators must notice immediately.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     "persistence unavailable",
				"timestamp": time.Now().UTC(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Control.Status())
}

// handlePlaceOrder admits a manual order through the full gateway
// pipeline. Rejections come back as a 4xx envelope carrying the
// reject reason plus the rejected order record.
func (s *Server) handlePlaceOrder(c *gin.Context) {
	var req exchange.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, errorBody{Code: "VALIDATION_ERROR", Message: err.Error()})
		return
	}
	if req.Symbol == "" || (!req.ReduceOnly && req.Quantity <= 0) {
		writeError(c, http.StatusBadRequest, errorBody{
			Code:    "VALIDATION_ERROR",
			Message: "symbol and a positive quantity are required",
		})
		return
	}

	order, err := s.deps.Control.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		status, body := envelopeFor(err)

		var rej *risk.RejectError
		if errors.As(err, &rej) {
			c.JSON(status, gin.H{
				"error":         body,
				"reject_reason": rej.Kind,
				"order":         order,
			})
			return
		}
		writeError(c, status, body)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleListOrders(c *gin.Context) {
	if s.deps.Orders == nil {
		writeError(c, http.StatusServiceUnavailable, errorBody{
			Code:    "API_ERROR",
			Message: "order store not configured",
		})
		return
	}

	filter := db.OrderFilter{
		Symbol:   c.Query("symbol"),
		Status:   exchange.OrderStatus(c.Query("status")),
		OpenOnly: c.Query("open") == "true",
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, errorBody{Code: "VALIDATION_ERROR", Message: "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	orders, err := s.deps.Orders.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, http.StatusInternalServerError, errorBody{Code: "API_ERROR", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": len(orders)})
}

func (s *Server) handleListPositions(c *gin.Context) {
	positions, err := s.deps.Venue.GetPositions(c.Request.Context())
	if err != nil {
		status, body := envelopeFor(err)
		writeError(c, status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "total": len(positions)})
}

func (s *Server) handleBalance(c *gin.Context) {
	balance, err := s.deps.Venue.GetBalance(c.Request.Context())
	if err != nil {
		status, body := envelopeFor(err)
		writeError(c, status, body)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (s *Server) handleListStrategies(c *gin.Context) {
	if s.deps.Strategies == nil {
		writeError(c, http.StatusServiceUnavailable, errorBody{Code: "API_ERROR", Message: "strategy registry not configured"})
		return
	}
	list := s.deps.Strategies.List()
	c.JSON(http.StatusOK, gin.H{"strategies": list, "total": len(list)})
}

func (s *Server) handleStrategyToggle(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Strategies == nil {
			writeError(c, http.StatusServiceUnavailable, errorBody{Code: "API_ERROR", Message: "strategy registry not configured"})
			return
		}
		id := c.Param("id")
		if err := s.deps.Strategies.SetEnabled(id, enabled); err != nil {
			if errors.Is(err, strategy.ErrUnknownStrategy) {
				writeError(c, http.StatusNotFound, errorBody{Code: "VALIDATION_ERROR", Message: err.Error()})
				return
			}
			writeError(c, http.StatusInternalServerError, errorBody{Code: "API_ERROR", Message: err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"strategy": id, "enabled": enabled})
	}
}

func (s *Server) handleStartTrading(c *gin.Context) {
	if err := s.deps.Control.Resume("api"); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			writeError(c, http.StatusConflict, errorBody{Code: "VALIDATION_ERROR", Message: err.Error()})
			return
		}
		writeError(c, http.StatusInternalServerError, errorBody{Code: "API_ERROR", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trading": "started"})
}

func (s *Server) handleStopTrading(c *gin.Context) {
	if err := s.deps.Control.Pause("api"); err != nil {
		if errors.Is(err, engine.ErrAlreadyPaused) {
			writeError(c, http.StatusConflict, errorBody{Code: "VALIDATION_ERROR", Message: err.Error()})
			return
		}
		writeError(c, http.StatusInternalServerError, errorBody{Code: "API_ERROR", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trading": "stopped"})
}
