package dbsock

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Reasons an inbound message was dropped
const (
	DropMalformed      = "malformed"
	DropMissingSeq     = "missing_request_seq"
	DropUnknownSeq     = "unknown_request_seq"
	DropUnknownCommand = "unknown_command"
)

// Collector receives connection telemetry. Calls happen inline on the send and read paths.
type Collector interface {
	IncRequestSent(command string)
	IncResponse(outcome string)
	IncPush(command string)
	IncDropped(reason string)
	SetPending(n int)
}

type noopCollector struct{}

// NoopCollector discards all metrics
func NoopCollector() Collector { return noopCollector{} }

func (noopCollector) IncRequestSent(string) {}
func (noopCollector) IncResponse(string)    {}
func (noopCollector) IncPush(string)        {}
func (noopCollector) IncDropped(string)     {}
func (noopCollector) SetPending(int)        {}

// PrometheusCollector exposes connection metrics via Prometheus
type PrometheusCollector struct {
	requests  *prometheus.CounterVec
	responses *prometheus.CounterVec
	pushes    *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	pending   prometheus.Gauge
}

// NewPrometheusCollector registers the metrics with reg (prometheus.DefaultRegisterer if nil).
// Metrics already registered with reg are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &PrometheusCollector{}
	var err error
	if c.requests, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "dbsock_requests_sent_total",
		Help: "Number of requests sent, per command.",
	}, "command"); err != nil {
		return nil, err
	}
	if c.responses, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "dbsock_responses_total",
		Help: "Number of responses matched to a pending request, per outcome.",
	}, "outcome"); err != nil {
		return nil, err
	}
	if c.pushes, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "dbsock_push_messages_total",
		Help: "Number of push messages dispatched to a handler, per command.",
	}, "command"); err != nil {
		return nil, err
	}
	if c.dropped, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "dbsock_dropped_messages_total",
		Help: "Number of inbound messages dropped, per reason.",
	}, "reason"); err != nil {
		return nil, err
	}
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dbsock_pending_requests",
		Help: "Number of requests awaiting a response.",
	})
	if err := reg.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(prometheus.Gauge)
		if !ok {
			return nil, err
		}
		gauge = existing
	}
	c.pending = gauge
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, label string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, []string{label})
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

func (c *PrometheusCollector) IncRequestSent(command string) {
	c.requests.WithLabelValues(command).Inc()
}

func (c *PrometheusCollector) IncResponse(outcome string) {
	c.responses.WithLabelValues(outcome).Inc()
}

func (c *PrometheusCollector) IncPush(command string) {
	c.pushes.WithLabelValues(command).Inc()
}

func (c *PrometheusCollector) IncDropped(reason string) {
	c.dropped.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) SetPending(n int) {
	c.pending.Set(float64(n))
}
