// Package metrics exposes player metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records presentation, transport and audio metrics. It
// implements scheduler.Observer.
type Collector struct {
	registry *prometheus.Registry

	framesPresented prometheus.Counter
	framesDropped   prometheus.Counter
	underflows      prometheus.Counter
	lateness        prometheus.Histogram

	unitsReceived *prometheus.CounterVec
	bytesReceived *prometheus.CounterVec
	decodeErrors  prometheus.Counter
	closures      *prometheus.CounterVec
	connected     prometheus.Gauge

	audioBytes prometheus.Counter
}

// New returns a Collector registered on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		registry: reg,

		framesPresented: f.NewCounter(prometheus.CounterOpts{
			Name: "prismplay_frames_presented_total",
			Help: "Video frames drawn on the surface",
		}),
		framesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "prismplay_frames_dropped_total",
			Help: "Video frames whose draw failed",
		}),
		underflows: f.NewCounter(prometheus.CounterOpts{
			Name: "prismplay_underflows_total",
			Help: "Times the presentation queue ran empty",
		}),
		lateness: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "prismplay_frame_lateness_seconds",
			Help:    "Delay between a frame's scheduled time and its draw",
			Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		unitsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prismplay_units_received_total",
			Help: "Units received from the transport by message type",
		}, []string{"transport", "type"}),
		bytesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prismplay_bytes_received_total",
			Help: "Bytes received from the transport",
		}, []string{"transport"}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "prismplay_decode_errors_total",
			Help: "Video messages the decoder rejected",
		}),
		closures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prismplay_connection_closures_total",
			Help: "Connection closures by outcome",
		}, []string{"transport", "outcome"}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "prismplay_connected",
			Help: "1 while the transport is connected",
		}),

		audioBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "prismplay_audio_bytes_written_total",
			Help: "Audio payload bytes written to the audio output",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) FramePresented(lateness time.Duration) {
	c.framesPresented.Inc()
	c.lateness.Observe(lateness.Seconds())
}

func (c *Collector) FrameDropped() { c.framesDropped.Inc() }

func (c *Collector) Underflow() { c.underflows.Inc() }

// UnitReceived counts one unit of n bytes with the given message type name.
func (c *Collector) UnitReceived(transport, msgType string, n int) {
	c.unitsReceived.WithLabelValues(transport, msgType).Inc()
	c.bytesReceived.WithLabelValues(transport).Add(float64(n))
}

func (c *Collector) DecodeError() { c.decodeErrors.Inc() }

func (c *Collector) AudioWritten(n int) { c.audioBytes.Add(float64(n)) }

// Connected marks the transport as connected.
func (c *Collector) Connected() { c.connected.Set(1) }

// ConnectionClosed records a closure; err nil counts as graceful.
func (c *Collector) ConnectionClosed(transport string, err error) {
	c.connected.Set(0)
	outcome := "graceful"
	if err != nil {
		outcome = "error"
	}
	c.closures.WithLabelValues(transport, outcome).Inc()
}
