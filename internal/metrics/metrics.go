// Package metrics provides Prometheus metrics for the decoder.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "skydecoder"
)

// Metrics contains all Prometheus metrics for the decoder.
type Metrics struct {
	// Frame pipeline
	FramesDecoded prometheus.Counter
	DecodeErrors  *prometheus.CounterVec

	// Subscription store
	SubscriptionsActive prometheus.Gauge
	SubscriptionUpdates prometheus.Counter
	FlashWrites         prometheus.Counter

	// Wire protocol
	MessagesRead    *prometheus.CounterVec
	MessagesWritten *prometheus.CounterVec
	ProtocolErrors  prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom
// registry. Tests use this to avoid duplicate registration.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Total number of frames successfully decoded",
		}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total request handler failures by reason",
		}, []string{"reason"}),

		SubscriptionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Number of occupied subscription slots",
		}),
		SubscriptionUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_updates_total",
			Help:      "Total subscription writes committed to flash",
		}),
		FlashWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flash_writes_total",
			Help:      "Total flash slot write cycles (erase + program)",
		}),

		MessagesRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_read_total",
			Help:      "Total messages read from the host link by opcode",
		}, []string{"opcode"}),
		MessagesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_written_total",
			Help:      "Total messages written to the host link by opcode",
		}, []string{"opcode"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total framing errors on the host link",
		}),
	}
}
