package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SamuelRCrider/csp-classify/utils"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestCache(t *testing.T, config PatternCacheConfig) *PatternCache {
	t.Helper()

	if config.Logger == nil {
		config.Logger = discardLogger()
	}
	cache, err := NewPatternCache(config)
	require.NoError(t, err)
	return cache
}

// sequentialIDs returns an IDGenerator producing id-1, id-2, ...
func sequentialIDs() IDGenerator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

func newTestEvaluator(t *testing.T, config EvaluatorConfig) *Evaluator {
	t.Helper()

	if config.Logger == nil {
		config.Logger = discardLogger()
	}
	if config.Cache == nil {
		config.Cache = newTestCache(t, PatternCacheConfig{Logger: config.Logger})
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return testNow }
	}
	if config.IDs == nil {
		config.IDs = sequentialIDs()
	}

	e, err := NewEvaluator(config)
	require.NoError(t, err)
	return e
}

// matchOne runs a single rule through its matcher
func matchOne(t *testing.T, rule Rule, entity *Entity) utils.MatchOutcome {
	t.Helper()

	e := newTestEvaluator(t, EvaluatorConfig{})
	out, err := e.matchRule(context.Background(), &rule, entity, ExtractText(entity), 0)
	require.NoError(t, err)
	return out
}

type fakeResolver struct {
	terms map[string][]string
	err   error
	calls atomic.Int64
}

func (f *fakeResolver) ResolveTerms(_ context.Context, key string) ([]string, bool, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, false, f.err
	}
	terms, ok := f.terms[key]
	return terms, ok, nil
}
