package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the chat relay metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	framesTotal     *prometheus.CounterVec
	deductionsTotal *prometheus.CounterVec
	uploadsTotal    *prometheus.CounterVec
	upstreamErrors  *prometheus.CounterVec
	streamDuration  *prometheus.HistogramVec
	streamsInFlight prometheus.Gauge
	creditsDeducted prometheus.Counter
	dollarsCharged  prometheus.Counter
}

// NewCollector registers the relay metrics with reg.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		framesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_frames_total",
				Help:      "Frames written to chat clients by event type",
			},
			[]string{"type"},
		),
		deductionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credit_deductions_total",
				Help:      "Credit deductions by outcome",
			},
			[]string{"outcome"},
		),
		uploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "image_uploads_total",
				Help:      "Generated image uploads by outcome",
			},
			[]string{"outcome"},
		),
		upstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Upstream streams that ended in an error",
			},
			[]string{"vendor"},
		),
		streamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chat_stream_duration_seconds",
				Help:      "Chat stream duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"vendor", "outcome"},
		),
		streamsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_streams_in_flight",
			Help:      "Chat streams currently open",
		}),
		creditsDeducted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_deducted_total",
			Help:      "Credits deducted from user balances",
		}),
		dollarsCharged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dollars_charged_total",
			Help:      "Upstream cost in dollars billed to users, surcharges included",
		}),
	}
}

func (c *Collector) RecordFrame(eventType string) {
	if c == nil {
		return
	}
	c.framesTotal.WithLabelValues(eventType).Inc()
}

func (c *Collector) RecordDeduction(outcome string, credits, dollars float64) {
	if c == nil {
		return
	}
	c.deductionsTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		c.creditsDeducted.Add(credits)
		c.dollarsCharged.Add(dollars)
	}
}

func (c *Collector) RecordUpload(outcome string) {
	if c == nil {
		return
	}
	c.uploadsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordUpstreamError(vendor string) {
	if c == nil {
		return
	}
	c.upstreamErrors.WithLabelValues(vendor).Inc()
}

// StreamStarted marks a stream open and returns the func that closes it.
func (c *Collector) StreamStarted(vendor string) func(outcome string) {
	if c == nil {
		return func(string) {}
	}
	start := time.Now()
	c.streamsInFlight.Inc()
	return func(outcome string) {
		c.streamsInFlight.Dec()
		c.streamDuration.WithLabelValues(vendor, outcome).Observe(time.Since(start).Seconds())
	}
}
