package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeBreakerReason(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"daily loss 12.3% exceeds 10%", ReasonDailyLoss},
		{"drawdown 21% from high-water mark", ReasonDrawdown},
		{"5 consecutive losing trades", ReasonConsecutive},
		{"volatility 23.1% above threshold", ReasonHighVolatility},
		{"panic sell ratio 18%", ReasonPanicSell},
		{"api failure streak", ReasonAPIFailure},
		{"manual halt by operator", ReasonManualHalt},
		{"emergency shutdown requested", ReasonManualHalt},
		{"something else entirely", ReasonOther},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBreakerReason(tt.reason), tt.reason)
	}
}

func TestNormalizeVenueError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", errors.New("context deadline exceeded"), VenueErrorTimeout},
		{"rate limit", errors.New("http 429 too many requests"), VenueErrorRateLimit},
		{"auth", errors.New("401 unauthorized"), VenueErrorAuth},
		{"network", errors.New("connection refused"), VenueErrorNetwork},
		{"suspended", errors.New("market suspended after price spike"), VenueErrorSuspended},
		{"invalid", errors.New("invalid quantity precision"), VenueErrorInvalidReq},
		{"server", errors.New("http 503 service unavailable"), VenueErrorServerError},
		{"other", errors.New("mystery"), VenueErrorOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeVenueError(tt.err))
		})
	}
}

func TestRecordVenueCall(t *testing.T) {
	before := testutil.ToFloat64(VenueAPIErrors.WithLabelValues("simulated", VenueErrorTimeout))

	RecordVenueCall("simulated", "create_order", 12.5, errors.New("timeout waiting for venue"))
	RecordVenueCall("simulated", "create_order", 8.0, nil)

	after := testutil.ToFloat64(VenueAPIErrors.WithLabelValues("simulated", VenueErrorTimeout))
	assert.Equal(t, before+1, after, "only the failing call counts an error")
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/v1/status", "200"))

	RecordHTTPRequest("GET", "/api/v1/status", "200", 3.2)

	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/v1/status", "200"))
	assert.Equal(t, before+1, after)
}

func TestRecordAdvisorCall(t *testing.T) {
	okBefore := testutil.ToFloat64(AdvisorCalls.WithLabelValues("gpt-test", "ok"))
	errBefore := testutil.ToFloat64(AdvisorCalls.WithLabelValues("gpt-test", "error"))

	RecordAdvisorCall("gpt-test", 150, nil)
	RecordAdvisorCall("gpt-test", 150, errors.New("gateway 502"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(AdvisorCalls.WithLabelValues("gpt-test", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(AdvisorCalls.WithLabelValues("gpt-test", "error")))
}
