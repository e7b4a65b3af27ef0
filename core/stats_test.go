package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDelta(t *testing.T) {
	t.Parallel()

	var st RuleStats
	latencies := []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 6 * time.Millisecond}
	for i, l := range latencies {
		st = ApplyDelta(st, RuleStatsDelta{
			RuleID:     "r",
			Matched:    i != 1,
			Failed:     i == 2,
			Latency:    l,
			ExecutedAt: testNow.Add(time.Duration(i) * time.Second),
		})
	}

	assert.Equal(t, int64(3), st.ExecutionCount)
	assert.Equal(t, int64(2), st.SuccessCount)
	assert.InDelta(t, 4.0, st.AvgExecutionTimeMs, 1e-9)
	assert.Equal(t, testNow.Add(2*time.Second), st.LastExecuted)

	older := ApplyDelta(st, RuleStatsDelta{RuleID: "r", Latency: 4 * time.Millisecond, ExecutedAt: testNow})
	assert.Equal(t, st.LastExecuted, older.LastExecuted, "last executed never moves backwards")
}

func TestStatsAggregator(t *testing.T) {
	t.Parallel()

	agg := NewStatsAggregator([]Rule{
		{ID: "seeded", Stats: RuleStats{ExecutionCount: 10, SuccessCount: 5, AvgExecutionTimeMs: 1}},
	})
	t.Cleanup(agg.Close)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, agg.Submit(ctx,
				RuleStatsDelta{RuleID: "seeded", Matched: true, Latency: time.Millisecond},
				RuleStatsDelta{RuleID: "fresh", Latency: 3 * time.Millisecond},
			))
		}()
	}
	wg.Wait()

	st, ok, err := agg.Stats(ctx, "seeded")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(60), st.ExecutionCount)
	assert.Equal(t, int64(55), st.SuccessCount)
	assert.InDelta(t, 1.0, st.AvgExecutionTimeMs, 1e-9)

	all, err := agg.All(ctx)
	require.NoError(t, err)
	require.Contains(t, all, "fresh")
	assert.Equal(t, int64(50), all["fresh"].ExecutionCount)
	assert.Zero(t, all["fresh"].SuccessCount)
	assert.InDelta(t, 3.0, all["fresh"].AvgExecutionTimeMs, 1e-9)

	_, ok, err = agg.Stats(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatsAggregatorClose(t *testing.T) {
	t.Parallel()

	agg := NewStatsAggregator(nil)
	ctx := context.Background()

	require.NoError(t, agg.Submit(ctx, RuleStatsDelta{RuleID: "r"}))
	require.NoError(t, agg.Submit(ctx))
	agg.Close()
	agg.Close()

	require.ErrorIs(t, agg.Submit(ctx, RuleStatsDelta{RuleID: "r"}), ErrAggregatorClosed)
	_, err := agg.All(ctx)
	require.ErrorIs(t, err, ErrAggregatorClosed)
}

func TestStatsAggregatorSubmitCopiesBatch(t *testing.T) {
	t.Parallel()

	agg := NewStatsAggregator(nil)
	t.Cleanup(agg.Close)
	ctx := context.Background()

	deltas := []RuleStatsDelta{{RuleID: "a"}}
	require.NoError(t, agg.Submit(ctx, deltas...))
	deltas[0].RuleID = "b"

	all, err := agg.All(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, "a")
	assert.NotContains(t, all, "b")
}
