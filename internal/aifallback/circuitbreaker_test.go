package aifallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyAdapter struct {
	fail bool
}

func (a *flakyAdapter) Generate(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
	if a.fail {
		return Result{}, errors.New("boom")
	}
	return Result{Subtitles: []string{"ok"}}, nil
}

func (a *flakyAdapter) Translate(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
	return Result{}, ErrTaskUnsupported
}

func TestBreakerResolver_TripsAfterConsecutiveFailures(t *testing.T) {
	flaky := &flakyAdapter{fail: true}
	resolver := NewBreakerResolver(mapResolver{"p": flaky}, []string{"p"}, gobreaker.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 2 },
	})

	adapter, err := resolver.Resolve("p")
	require.NoError(t, err)

	_, err = adapter.Generate(context.Background(), ModelConfig{Provider: "p"}, Params{})
	require.Error(t, err)
	_, err = adapter.Generate(context.Background(), ModelConfig{Provider: "p"}, Params{})
	require.Error(t, err)

	_, err = adapter.Generate(context.Background(), ModelConfig{Provider: "p"}, Params{})
	require.Error(t, err)
	assert.Equal(t, ErrorRetryable, Classify(err))
}

func TestBreakerResolver_UnknownProviderPassesThrough(t *testing.T) {
	healthy := &flakyAdapter{fail: false}
	resolver := NewBreakerResolver(mapResolver{"p": healthy}, []string{"other"}, DefaultBreakerSettings())

	adapter, err := resolver.Resolve("p")
	require.NoError(t, err)

	result, err := adapter.Generate(context.Background(), ModelConfig{Provider: "p"}, Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, result.Subtitles)
}
