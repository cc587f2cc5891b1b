package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus scrape handler. The API server mounts
// it on GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
