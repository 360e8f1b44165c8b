// Package telemetry exports kernel pipeline metrics to Prometheus.
//
// Collector implements kernel.Observer. Register it with kernel.WithObserver
// and expose Registry() however the host prefers; the CLI prints it in the
// text exposition format.
package telemetry

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/kernel"
)

// Invocation outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeReplayed = "replayed"
)

// Collector counts stage results, invocation outcomes, emitted signals, and
// refresh fan-out.
//
// Thread-safety: Prometheus collectors are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	stages      *prometheus.CounterVec
	invocations *prometheus.CounterVec
	signals     *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
}

var _ kernel.Observer = (*Collector)(nil)

// NewCollector creates a collector on a fresh registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "gooi"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.stages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "stages_total",
			Help:      "Pipeline stages finished, by stage and result (ok or error code)",
		},
		[]string{"stage", "result"},
	)

	c.invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "invocations_total",
			Help:      "Invocations finished, by entrypoint, outcome, and error code",
		},
		[]string{"entrypoint", "outcome", "code"},
	)

	c.signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "signals_emitted_total",
			Help:      "Signals emitted by fresh mutation executions",
		},
		[]string{"signal"},
	)

	c.refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "query_refreshes_total",
			Help:      "Queries marked affected by fresh mutation executions",
		},
		[]string{"query"},
	)

	c.registry.MustRegister(c.stages, c.invocations, c.signals, c.refreshes)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// StageFinished implements kernel.Observer.
func (c *Collector) StageFinished(_ string, stage string, err *ir.Error) {
	result := OutcomeOK
	if err != nil {
		result = string(err.Code)
	}
	c.stages.WithLabelValues(stage, result).Inc()
}

// InvocationFinished implements kernel.Observer.
func (c *Collector) InvocationFinished(entrypointKey string, env *ir.ResultEnvelope) {
	switch {
	case env.Meta.Replayed:
		c.invocations.WithLabelValues(entrypointKey, OutcomeReplayed, "").Inc()
		return
	case !env.OK:
		code := ""
		if env.Error != nil {
			code = string(env.Error.Code)
		}
		c.invocations.WithLabelValues(entrypointKey, OutcomeError, code).Inc()
		return
	}

	c.invocations.WithLabelValues(entrypointKey, OutcomeOK, "").Inc()
	for _, s := range env.EmittedSignals {
		c.signals.WithLabelValues(s.SignalID).Inc()
	}
	for _, q := range env.Meta.AffectedQueryIDs {
		c.refreshes.WithLabelValues(q).Inc()
	}
}

// WriteText writes every gathered metric family in the Prometheus text
// exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Reset clears every counter.
func (c *Collector) Reset() {
	c.stages.Reset()
	c.invocations.Reset()
	c.signals.Reset()
	c.refreshes.Reset()
}
