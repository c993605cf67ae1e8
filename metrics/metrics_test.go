package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_RegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)

	AddRebates(2, 1)
	IncJobError("rebate")
	ObserveReconcileRun(ResultSuccess, 3, 1, 10*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(rebatesTotal.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(rebatesTotal.WithLabelValues("skipped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(jobErrors.WithLabelValues("rebate")))
	assert.Equal(t, float64(3), testutil.ToFloat64(reconcileEntries.WithLabelValues("overwritten")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// second Init is a no-op
	assert.NotPanics(t, func() { Init(prometheus.NewRegistry()) })
}

func TestResult(t *testing.T) {
	assert.Equal(t, ResultSuccess, Result(nil))
	assert.Equal(t, ResultError, Result(errors.New("x")))
}
