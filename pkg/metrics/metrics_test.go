package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordExecution(t *testing.T) {
	m := NewMetrics()

	m.RecordExecution("cable_sizing", "completed", 10*time.Millisecond)
	m.RecordExecution("cable_sizing", "completed", 20*time.Millisecond)
	m.RecordExecution("cable_sizing", "failed", time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.executionsTotal.WithLabelValues("cable_sizing", "completed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.executionsTotal.WithLabelValues("cable_sizing", "failed")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.executionDuration))
}

func TestMetrics_RecordStep(t *testing.T) {
	m := NewMetrics()

	m.RecordStep("cable_sizing", "formula", "completed", time.Millisecond)
	m.RecordStep("cable_sizing", "table", "failed", time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.stepsTotal.WithLabelValues("cable_sizing", "formula", "completed")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.stepsTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stepDuration))
}

func TestMetrics_RecordReaped(t *testing.T) {
	m := NewMetrics()

	m.RecordReaped(3)
	m.RecordReaped(0)

	assert.InDelta(t, 3, testutil.ToFloat64(m.executionsReaped), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordExecution("p", "completed", time.Second)
		m.RecordStep("p", "formula", "completed", time.Second)
		m.RecordReaped(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordExecution("cable_sizing", "completed", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `calcflow_executions_total{pipeline="cable_sizing",status="completed"} 1`)
}
