package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/calcflow/pkg/metrics"
	"github.com/dukex/calcflow/pkg/mocks"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/dukex/calcflow/pkg/persistence/file"
	"github.com/dukex/calcflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func reapedTotal(t *testing.T, m *metrics.Metrics) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() == "calcflow_executions_reaped_total" {
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}

	t.Fatal("calcflow_executions_reaped_total not registered")

	return 0
}

func TestNewReaper(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		opts    []Option
		wantErr bool
	}{
		{name: "default schedule", timeout: time.Minute},
		{name: "cron schedule", timeout: time.Minute, opts: []Option{WithSchedule("*/5 * * * *")}},
		{name: "descriptor schedule", timeout: time.Minute, opts: []Option{WithSchedule("@every 30s")}},
		{name: "zero timeout", timeout: 0, wantErr: true},
		{name: "negative timeout", timeout: -time.Second, wantErr: true},
		{name: "invalid schedule", timeout: time.Minute, opts: []Option{WithSchedule("every so often")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reaper, err := NewReaper(testutil.Logger(), &mocks.MockPersistence{}, tt.timeout, tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, reaper)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, reaper)
		})
	}
}

func TestReaper_Reap(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	store := file.NewPersistence(t.TempDir())

	stale := testutil.CreateTestExecution("cable_sizing", now.Add(-time.Hour))
	fresh := testutil.CreateTestExecution("cable_sizing", now.Add(-time.Minute))
	finished := testutil.CreateTestExecution("cable_sizing", now.Add(-2*time.Hour), func(e *models.CalculationExecution) {
		e.Status = models.ExecutionStatusCompleted
	})
	busy := testutil.CreateTestExecution("cable_sizing", now.Add(-time.Hour), func(e *models.CalculationExecution) {
		e.UpdatedAt = now.Add(-2 * time.Minute)
	})

	for _, execution := range []*models.CalculationExecution{stale, fresh, finished, busy} {
		require.NoError(t, store.CreateExecution(t.Context(), execution))
	}

	m := metrics.NewMetrics()

	reaper, err := NewReaper(testutil.Logger(), store, 10*time.Minute,
		WithClock(func() time.Time { return now }),
		WithMetrics(m))
	require.NoError(t, err)

	count, err := reaper.Reap(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.InDelta(t, 1, reapedTotal(t, m), 0)

	aborted, err := store.ExecutionByID(t.Context(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusAborted, aborted.Status)
	assert.Equal(t, "execution abandoned after 10m0s", aborted.ErrorMessage)
	require.NotNil(t, aborted.EndTime)
	assert.InDelta(t, 3600, aborted.ExecutionTime, 1e-6)

	untouched, err := store.ExecutionByID(t.Context(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, untouched.Status)

	untouched, err = store.ExecutionByID(t.Context(), busy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, untouched.Status, "recent step activity keeps a long run alive")

	count, err = reaper.Reap(t.Context())
	require.NoError(t, err)
	assert.Zero(t, count, "aborted executions are terminal")
}

func TestReaper_ReapStoreErrors(t *testing.T) {
	start := time.Now().Add(-time.Hour)

	t.Run("listing fails", func(t *testing.T) {
		store := &mocks.MockPersistence{}
		store.On("StaleExecutions", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

		reaper, err := NewReaper(testutil.Logger(), store, time.Minute)
		require.NoError(t, err)

		_, err = reaper.Reap(t.Context())
		assert.ErrorContains(t, err, "failed to list stale executions")
	})

	t.Run("finalized concurrently", func(t *testing.T) {
		racing := testutil.CreateTestExecution("p", start)
		broken := testutil.CreateTestExecution("p", start)
		healthy := testutil.CreateTestExecution("p", start)

		store := &mocks.MockPersistence{}
		store.On("StaleExecutions", mock.Anything, mock.Anything).
			Return([]*models.CalculationExecution{racing, broken, healthy}, nil)
		store.On("UpdateExecution", mock.Anything, racing).
			Return(persistence.NewExecutionError("UpdateExecution", racing.ID, persistence.ErrExecutionFinalized))
		store.On("UpdateExecution", mock.Anything, broken).Return(errors.New("disk full"))
		store.On("UpdateExecution", mock.Anything, healthy).Return(nil)

		reaper, err := NewReaper(testutil.Logger(), store, time.Minute)
		require.NoError(t, err)

		count, err := reaper.Reap(t.Context())
		assert.Equal(t, 1, count)
		require.Error(t, err)
		assert.Contains(t, err.Error(), broken.ID)
		assert.NotContains(t, err.Error(), racing.ID)

		store.AssertExpectations(t)
	})
}

func TestReaper_StartStop(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	stale := testutil.CreateTestExecution("cable_sizing", time.Now().Add(-time.Hour))
	require.NoError(t, store.CreateExecution(t.Context(), stale))

	reaper, err := NewReaper(testutil.Logger(), store, time.Minute, WithSchedule("@every 1s"))
	require.NoError(t, err)

	assert.True(t, reaper.NextRun().IsZero())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, reaper.Start(ctx))
	assert.Error(t, reaper.Start(ctx), "second start is rejected")
	assert.False(t, reaper.NextRun().IsZero())

	require.Eventually(t, func() bool {
		execution, err := store.ExecutionByID(t.Context(), stale.ID)

		return err == nil && execution.Status == models.ExecutionStatusAborted
	}, 5*time.Second, 50*time.Millisecond)

	reaper.Stop()
	assert.True(t, reaper.NextRun().IsZero())

	reaper.Stop()
}
