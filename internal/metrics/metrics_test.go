package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/testworker/internal/isolate"
)

func TestRecordUnit(t *testing.T) {
	reg := prom.NewRegistry()
	e, err := NewExporter("testworker", reg)
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Now()
	end := start.Add(250 * time.Millisecond)

	require.NoError(t, e.RecordUnit(ctx, "a.OkTest", start, end, nil))
	require.NoError(t, e.RecordUnit(ctx, "a.OkTest", start, end, nil))
	require.NoError(t, e.RecordUnit(ctx, "a.BadTest", start, end, errors.New("assertion")))
	require.NoError(t, e.RecordUnit(ctx, "a.PanicTest", start, end, fmt.Errorf("class: %w", &isolate.PanicError{Value: "boom"})))
	require.NoError(t, e.RecordUnit(ctx, "a.ExitTest", start, end, isolate.ErrThreadExited))

	assert.Equal(t, 2.0, testutil.ToFloat64(e.unitsTotal.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.unitsTotal.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.unitsTotal.WithLabelValues(OutcomePanic)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.unitsTotal.WithLabelValues(OutcomeThreadExited)))
	assert.Equal(t, 4, testutil.CollectAndCount(e.unitDuration))
}

func TestRecordStateIsOneHot(t *testing.T) {
	e, err := NewExporter("testworker", prom.NewRegistry())
	require.NoError(t, err)

	require.NoError(t, e.RecordState(context.Background(), "Connected"))
	require.NoError(t, e.RecordState(context.Background(), "Processing"))

	assert.Equal(t, 1.0, testutil.ToFloat64(e.state.WithLabelValues("Processing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.state.WithLabelValues("Connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.state.WithLabelValues("Stopped")))
}

func TestNewExporterReusesRegisteredCollectors(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewExporter("testworker", reg)
	require.NoError(t, err)
	second, err := NewExporter("testworker", reg)
	require.NoError(t, err)

	require.NoError(t, first.RecordUnit(context.Background(), "a.Test", time.Now(), time.Now(), nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(second.unitsTotal.WithLabelValues(OutcomeOK)))
}
