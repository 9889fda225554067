package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry counts what the process asks of the exchange. The GUI
// status report and /metrics read the same counters.
type Telemetry struct {
	Requests   *prometheus.CounterVec
	Errors     *prometheus.CounterVec
	Reconnects *prometheus.CounterVec
}

// NewTelemetry registers the exchange counters on the given registerer.
func NewTelemetry(reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)
	return &Telemetry{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "solie_api_requests_total",
			Help: "REST requests issued to Binance, by endpoint.",
		}, []string{"endpoint"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "solie_api_errors_total",
			Help: "REST requests that returned an error, by endpoint.",
		}, []string{"endpoint"}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "solie_ws_reconnects_total",
			Help: "WebSocket reconnects, by stream.",
		}, []string{"stream"}),
	}
}
