package aifallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	generate func(ctx context.Context, cfg ModelConfig, params Params) (Result, error)
	translate func(ctx context.Context, cfg ModelConfig, params Params) (Result, error)
	calls    *int
}

func (a stubAdapter) Generate(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
	if a.calls != nil {
		*a.calls++
	}
	if a.generate == nil {
		return Result{}, ErrTaskUnsupported
	}
	return a.generate(ctx, cfg, params)
}

func (a stubAdapter) Translate(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
	if a.calls != nil {
		*a.calls++
	}
	if a.translate == nil {
		return Result{}, ErrTaskUnsupported
	}
	return a.translate(ctx, cfg, params)
}

type mapResolver map[string]Adapter

func (m mapResolver) Resolve(provider string) (Adapter, error) {
	a, ok := m[provider]
	if !ok {
		return nil, fmt.Errorf("no adapter for provider %q", provider)
	}
	return a, nil
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string  { return e.msg }
func (e *statusError) StatusCode() int { return e.code }

func TestProcess_SafetyRefusalFallsBackToNextProvider(t *testing.T) {
	geminiCalls := 0
	openaiCalls := 0

	resolver := mapResolver{
		"gemini": stubAdapter{calls: &geminiCalls, generate: func(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
			return Result{}, errors.New("candidate was blocked due to safety")
		}},
		"openai": stubAdapter{calls: &openaiCalls, generate: func(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
			return Result{Provider: "openai", ModelName: cfg.ModelName, Subtitles: []string{"hello"}}, nil
		}},
	}

	chain := []ModelConfig{
		{Provider: "gemini", ModelName: "gemini-pro", Enabled: true},
		{Provider: "openai", ModelName: "gpt-4", Enabled: true},
	}

	result, err := Process(context.Background(), TaskGenerate, Params{Prompt: "hi"}, chain, resolver)
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Provider)
	assert.Equal(t, 1, geminiCalls)
	assert.Equal(t, 1, openaiCalls)
}

func TestProcess_FatalErrorStopsChain(t *testing.T) {
	openaiCalls := 0
	resolver := mapResolver{
		"gemini": stubAdapter{generate: func(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
			return Result{}, errors.New("invalid api key")
		}},
		"openai": stubAdapter{calls: &openaiCalls, generate: func(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
			return Result{Provider: "openai", Subtitles: []string{"hello"}}, nil
		}},
	}
	chain := []ModelConfig{
		{Provider: "gemini", Enabled: true},
		{Provider: "openai", Enabled: true},
	}

	_, err := Process(context.Background(), TaskGenerate, Params{Prompt: "hi"}, chain, resolver)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Equal(t, 0, openaiCalls)
}

func TestProcess_RetryableStatusCodeReroutes(t *testing.T) {
	resolver := mapResolver{
		"a": stubAdapter{generate: func(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
			return Result{}, &statusError{code: 429, msg: "rate limited"}
		}},
		"b": stubAdapter{generate: func(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
			return Result{Provider: "b", Subtitles: []string{"ok"}}, nil
		}},
	}
	chain := []ModelConfig{{Provider: "a", Enabled: true}, {Provider: "b", Enabled: true}}

	result, err := Process(context.Background(), TaskGenerate, Params{}, chain, resolver)
	require.NoError(t, err)
	assert.Equal(t, "b", result.Provider)
}

func TestProcess_EmptySubtitlesTreatedAsFailureAndRerouted(t *testing.T) {
	resolver := mapResolver{
		"a": stubAdapter{generate: func(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
			return Result{Provider: "a", Subtitles: nil}, nil
		}},
		"b": stubAdapter{generate: func(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
			return Result{Provider: "b", Subtitles: []string{"ok"}}, nil
		}},
	}
	chain := []ModelConfig{{Provider: "a", Enabled: true}, {Provider: "b", Enabled: true}}

	result, err := Process(context.Background(), TaskGenerate, Params{}, chain, resolver)
	require.NoError(t, err)
	assert.Equal(t, "b", result.Provider)
}

func TestProcess_NoEnabledModels(t *testing.T) {
	chain := []ModelConfig{{Provider: "a", Enabled: false}}
	_, err := Process(context.Background(), TaskGenerate, Params{}, chain, mapResolver{})
	assert.ErrorIs(t, err, ErrNoEnabledModels)
}

func TestProcess_AllModelsExhaustedReturnsLastError(t *testing.T) {
	resolver := mapResolver{
		"a": stubAdapter{generate: func(ctx context.Context, cfg ModelConfig, params Params) (Result, error) {
			return Result{}, errors.New("blocked by safety policy")
		}},
	}
	chain := []ModelConfig{{Provider: "a", Enabled: true}}

	_, err := Process(context.Background(), TaskGenerate, Params{}, chain, resolver)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked by safety policy")
}

func TestProcess_TranslateValidatesSubtitleLimits(t *testing.T) {
	subs := make([]Subtitle, MaxSubtitleEntries+1)
	chain := []ModelConfig{{Provider: "a", Enabled: true}}

	_, err := Process(context.Background(), TaskTranslate, Params{Subtitles: subs}, chain, mapResolver{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubtitleLimitExceeded)
}

func TestProcess_TranslateValidatesCharacterBudget(t *testing.T) {
	subs := []Subtitle{{Text: strings.Repeat("x", MaxSubtitleCharSize+1)}}
	chain := []ModelConfig{{Provider: "a", Enabled: true}}

	_, err := Process(context.Background(), TaskTranslate, Params{Subtitles: subs}, chain, mapResolver{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubtitleLimitExceeded)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorSafetyRefusal, Classify(errors.New("content filter triggered")))
	assert.Equal(t, ErrorRetryable, Classify(&statusError{code: 503, msg: "unavailable"}))
	assert.Equal(t, ErrorRetryable, Classify(&statusError{code: 429, msg: "too many requests"}))
	assert.Equal(t, ErrorFatal, Classify(errors.New("invalid request body")))
}

func TestProcess_UnknownTaskIsRejected(t *testing.T) {
	_, err := Process(context.Background(), Task("summarize"), Params{}, nil, mapResolver{})
	assert.ErrorIs(t, err, ErrUnknownTask)
}
