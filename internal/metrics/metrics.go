// Package metrics exports worker activity as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/mattjoyce/testworker/internal/isolate"
)

// Outcome labels on unit metrics.
const (
	OutcomeOK           = "ok"
	OutcomeFailed       = "failed"
	OutcomePanic        = "panic"
	OutcomeThreadExited = "thread_exited"
	OutcomeInterrupted  = "interrupted"
)

var states = []string{"Initializing", "Connected", "Processing", "Stopping", "Stopped"}

// Exporter implements worker.Recorder on top of Prometheus collectors.
type Exporter struct {
	unitDuration *prom.HistogramVec
	unitsTotal   *prom.CounterVec
	state        *prom.GaugeVec
}

// NewExporter registers the worker collectors on reg, or on the default
// registerer when reg is nil. Registering twice on one registry reuses the
// existing collectors.
func NewExporter(namespace string, reg prom.Registerer) (*Exporter, error) {
	if namespace == "" {
		namespace = "testworker"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "unit_duration_seconds",
		Help:      "Test class execution time in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"outcome"})
	unitsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "units_total",
		Help:      "Total number of test classes processed.",
	}, []string{"outcome"})
	stateVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "state",
		Help:      "1 for the worker's current lifecycle state, 0 otherwise.",
	}, []string{"state"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if unitsVec, err = registerCollector(reg, unitsVec); err != nil {
		return nil, err
	}
	if stateVec, err = registerCollector(reg, stateVec); err != nil {
		return nil, err
	}

	return &Exporter{
		unitDuration: durationVec,
		unitsTotal:   unitsVec,
		state:        stateVec,
	}, nil
}

func (e *Exporter) RecordState(_ context.Context, state string) error {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		e.state.WithLabelValues(s).Set(v)
	}
	return nil
}

func (e *Exporter) RecordUnit(_ context.Context, _ string, started, finished time.Time, outcome error) error {
	label := outcomeLabel(outcome)
	e.unitsTotal.WithLabelValues(label).Inc()
	e.unitDuration.WithLabelValues(label).Observe(finished.Sub(started).Seconds())
	return nil
}

func outcomeLabel(err error) string {
	var panicErr *isolate.PanicError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &panicErr):
		return OutcomePanic
	case errors.Is(err, isolate.ErrThreadExited):
		return OutcomeThreadExited
	case errors.Is(err, isolate.ErrInterrupted):
		return OutcomeInterrupted
	default:
		return OutcomeFailed
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
