package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's operational counters. Hot paths update plain
// atomics; Prometheus reads them lazily through GaugeFunc collectors.
type Metrics struct {
	// Producer side
	FramesReceived atomic.Uint64 // frames accepted from the capture source
	FramesRejected atomic.Uint64 // undersized/malformed producer buffers
	FramesCropped  atomic.Uint64 // accepted frames that needed the row crop

	// Delivery side
	HTTPFramesSent atomic.Uint64 // multipart parts written
	WSFramesSent   atomic.Uint64 // websocket binary frames written
	WSControlSent  atomic.Uint64 // websocket text control messages written
	SendErrors     atomic.Uint64 // per-session write failures

	// Clients
	ActiveClients   atomic.Uint64 // currently registered sessions
	TotalClients    atomic.Uint64 // lifetime admitted sessions
	RejectedClients atomic.Uint64 // connections closed at capacity

	registry *prometheus.Registry
}

// New creates a Metrics instance with its Prometheus collectors registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"thermal_frames_received_total", "Frames accepted from the capture source", m.FramesReceived.Load},
		{"thermal_frames_rejected_total", "Producer buffers rejected as undersized", m.FramesRejected.Load},
		{"thermal_frames_cropped_total", "Accepted frames that required the row crop", m.FramesCropped.Load},
		{"thermal_http_frames_sent_total", "Multipart parts written to HTTP clients", m.HTTPFramesSent.Load},
		{"thermal_ws_frames_sent_total", "Binary frames written to websocket clients", m.WSFramesSent.Load},
		{"thermal_ws_control_sent_total", "Control messages written to websocket clients", m.WSControlSent.Load},
		{"thermal_send_errors_total", "Per-session write failures", m.SendErrors.Load},
		{"thermal_active_clients", "Currently registered sessions", m.ActiveClients.Load},
		{"thermal_total_clients", "Lifetime admitted sessions", m.TotalClients.Load},
		{"thermal_rejected_clients_total", "Connections closed at capacity", m.RejectedClients.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr. Blocks like http.ListenAndServe.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
