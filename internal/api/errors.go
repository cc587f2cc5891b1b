package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/risk"
)

// errorBody is the JSON error envelope shared by REST and websocket
// error frames.
type errorBody struct {
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after,omitempty"` // seconds
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// coder is implemented by every typed error in the taxonomy.
type coder interface {
	error
	Code() string
}

func writeError(c *gin.Context, status int, body errorBody) {
	c.JSON(status, errorEnvelope{Error: body})
}

// envelopeFor maps a pipeline error onto an HTTP status and envelope.
// Risk rejections are the caller's fault (4xx); venue and transport
// failures are upstream trouble (5xx).
func envelopeFor(err error) (int, errorBody) {
	var rate *exchange.RateLimitError
	if errors.As(err, &rate) {
		return http.StatusTooManyRequests, errorBody{
			Code:       rate.Code(),
			Message:    rate.Error(),
			RetryAfter: rate.RetryAfter.Seconds(),
		}
	}

	var timeout *exchange.TimeoutError
	if errors.As(err, &timeout) {
		return http.StatusGatewayTimeout, errorBody{Code: timeout.Code(), Message: timeout.Error()}
	}

	var suspended *exchange.SuspendedError
	if errors.As(err, &suspended) {
		return http.StatusServiceUnavailable, errorBody{Code: suspended.Code(), Message: suspended.Error()}
	}

	var rej *risk.RejectError
	if errors.As(err, &rej) {
		return http.StatusBadRequest, errorBody{Code: rej.Kind, Message: rej.Message}
	}

	var insufficient *exchange.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		return http.StatusBadRequest, errorBody{Code: insufficient.Code(), Message: insufficient.Error()}
	}

	var cerr coder
	if errors.As(err, &cerr) {
		return http.StatusBadGateway, errorBody{Code: cerr.Code(), Message: cerr.Error()}
	}

	return http.StatusInternalServerError, errorBody{Code: "API_ERROR", Message: err.Error()}
}
