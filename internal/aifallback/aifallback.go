// Package aifallback implements the AI provider fallback engine (component
// D): an ordered chain of model configurations tried in sequence, with
// safety-refusal and retryable errors re-routed to the next link and fatal
// errors propagated immediately.
package aifallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Task is one of the two capabilities the engine dispatches.
type Task string

const (
	TaskGenerate  Task = "generate"
	TaskTranslate Task = "translate"
)

// Limits enforced on translate payloads before dispatch (spec §4.D.2.a).
const (
	MaxSubtitleEntries  = 10_000
	MaxSubtitleCharSize = 1_000_000
)

// Subtitle is one entry of a translate payload.
type Subtitle struct {
	Text          string
	SecondaryText string
}

// Params is the task payload. Prompt is used by generate; Subtitles and
// SourceLanguage/TargetLanguage are used by translate.
type Params struct {
	Prompt         string
	Subtitles      []Subtitle
	SourceLanguage string
	TargetLanguage string
}

// ModelConfig is one link in the fallback chain.
type ModelConfig struct {
	Provider  string `yaml:"provider"`
	ModelName string `yaml:"modelName"`
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"apiKey"`
}

// Result is what a successful adapter call (or the engine as a whole)
// returns.
type Result struct {
	DetectedLanguage string
	Subtitles        []string
	Provider         string
	ModelName        string
}

// Adapter is the capability set a provider must expose. An adapter may
// return ErrTaskUnsupported for a task it does not implement.
type Adapter interface {
	Generate(ctx context.Context, cfg ModelConfig, params Params) (Result, error)
	Translate(ctx context.Context, cfg ModelConfig, params Params) (Result, error)
}

// AdapterResolver maps a ModelConfig's provider name to the Adapter that
// serves it.
type AdapterResolver interface {
	Resolve(provider string) (Adapter, error)
}

var (
	// ErrNoEnabledModels is returned when the chain has no enabled entries.
	ErrNoEnabledModels = errors.New("aifallback: no enabled models in chain")
	// ErrTaskUnsupported is returned by an Adapter that does not implement
	// the requested task.
	ErrTaskUnsupported = errors.New("aifallback: provider does not support task")
	// ErrSubtitleLimitExceeded is a fatal validation failure, never re-routed.
	ErrSubtitleLimitExceeded = errors.New("aifallback: subtitle payload exceeds hard limits")
	// ErrEmptyResult marks an adapter success with no subtitles as a failure
	// (spec §9 Open Question: treated as failure, re-routed).
	ErrEmptyResult = errors.New("aifallback: provider returned no subtitles")
	// ErrAllModelsFailed is synthesized when the chain is exhausted without
	// any captured error.
	ErrAllModelsFailed = errors.New("aifallback: all models failed")
	// ErrUnknownTask is returned for a Task value other than generate/translate.
	ErrUnknownTask = errors.New("aifallback: unknown task")
)

var safetyMarkers = []string{"safety", "blocked", "policy", "content filter", "refused"}

// ErrorKind classifies an adapter failure for routing purposes.
type ErrorKind int

const (
	ErrorFatal ErrorKind = iota
	ErrorSafetyRefusal
	ErrorRetryable
)

// StatusCoder lets an adapter error carry an HTTP-like status code for
// retryable classification without the engine depending on net/http.
type StatusCoder interface {
	StatusCode() int
}

// ContentFiltered lets an adapter error flag a structured safety refusal
// without relying on message sniffing.
type ContentFiltered interface {
	ContentFiltered() bool
}

// Classify determines how an adapter error should be handled.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorFatal
	}

	var cf ContentFiltered
	if errors.As(err, &cf) && cf.ContentFiltered() {
		return ErrorSafetyRefusal
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range safetyMarkers {
		if strings.Contains(msg, marker) {
			return ErrorSafetyRefusal
		}
	}
	if strings.Contains(msg, "400") && strings.Contains(msg, "candidate") {
		return ErrorSafetyRefusal
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		if code == 429 || (code >= 500 && code < 600) {
			return ErrorRetryable
		}
	}

	return ErrorFatal
}

// Process iterates the chain's enabled entries in order, calling the
// matching adapter for task, re-routing on safety-refusal or retryable
// errors, and propagating fatal errors immediately.
func Process(ctx context.Context, task Task, params Params, chain []ModelConfig, resolver AdapterResolver) (Result, error) {
	if task != TaskGenerate && task != TaskTranslate {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}

	if task == TaskTranslate {
		if err := validateSubtitles(params.Subtitles); err != nil {
			return Result{}, err
		}
	}

	var enabled []ModelConfig
	for _, c := range chain {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	if len(enabled) == 0 {
		return Result{}, ErrNoEnabledModels
	}

	var lastErr error
	for _, cfg := range enabled {
		adapter, err := resolver.Resolve(cfg.Provider)
		if err != nil {
			lastErr = err
			continue
		}

		result, err := dispatch(ctx, adapter, task, cfg, params)
		if err == nil {
			if len(result.Subtitles) == 0 {
				lastErr = fmt.Errorf("%w (provider=%s)", ErrEmptyResult, cfg.Provider)
				continue
			}
			return result, nil
		}

		switch Classify(err) {
		case ErrorSafetyRefusal, ErrorRetryable:
			lastErr = err
			continue
		default:
			return Result{}, err
		}
	}

	if lastErr != nil {
		return Result{}, lastErr
	}
	return Result{}, ErrAllModelsFailed
}

func dispatch(ctx context.Context, adapter Adapter, task Task, cfg ModelConfig, params Params) (Result, error) {
	switch task {
	case TaskGenerate:
		return adapter.Generate(ctx, cfg, params)
	case TaskTranslate:
		return adapter.Translate(ctx, cfg, params)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}
}

func validateSubtitles(subs []Subtitle) error {
	if len(subs) > MaxSubtitleEntries {
		return fmt.Errorf("%w: %d entries exceeds limit of %d", ErrSubtitleLimitExceeded, len(subs), MaxSubtitleEntries)
	}
	total := 0
	for _, s := range subs {
		total += utf8.RuneCountInString(s.Text) + utf8.RuneCountInString(s.SecondaryText)
		if total > MaxSubtitleCharSize {
			return fmt.Errorf("%w: character count exceeds limit of %d", ErrSubtitleLimitExceeded, MaxSubtitleCharSize)
		}
	}
	return nil
}
