// Package anthropicadapter adapts the Anthropic Messages API to the
// aifallback.Adapter capability set, for use as one link in a fallback
// chain alongside other providers.
package anthropicadapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/maauso/mediaqueue/internal/aifallback"
)

// ErrTranslateUnsupported is returned by Translate; this adapter only
// implements the generate capability.
var ErrTranslateUnsupported = fmt.Errorf("anthropicadapter: %w", aifallback.ErrTaskUnsupported)

const defaultMaxTokens = 4096

// Adapter calls the Anthropic Messages API for the generate task.
type Adapter struct {
	clientOpts []option.RequestOption
}

// New constructs an Adapter. It takes no key: a non-empty cfg.APIKey is
// applied per call, otherwise the SDK client's defaults (including the
// ANTHROPIC_API_KEY environment variable) apply.
func New() *Adapter {
	return &Adapter{}
}

var _ aifallback.Adapter = (*Adapter)(nil)

// Generate sends params.Prompt as a single user turn and returns one
// subtitle entry per text block of the response.
func (a *Adapter) Generate(ctx context.Context, cfg aifallback.ModelConfig, params aifallback.Params) (aifallback.Result, error) {
	opts := a.clientOpts
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	model := anthropic.Model(cfg.ModelName)
	if cfg.ModelName == "" {
		model = anthropic.ModelClaude3_5SonnetLatest
	}

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(params.Prompt)),
		},
	})
	if err != nil {
		return aifallback.Result{}, classifyAnthropicErr(err)
	}

	var texts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}

	return aifallback.Result{
		Subtitles: texts,
		Provider:  "anthropic",
		ModelName: string(model),
	}, nil
}

// Translate is unsupported; this adapter only covers generate.
func (a *Adapter) Translate(ctx context.Context, cfg aifallback.ModelConfig, params aifallback.Params) (aifallback.Result, error) {
	return aifallback.Result{}, ErrTranslateUnsupported
}

// apiStatusError surfaces an anthropic.Error's HTTP status so
// aifallback.Classify can route 429/5xx as retryable.
type apiStatusError struct {
	code int
	err  error
}

func (e *apiStatusError) Error() string   { return e.err.Error() }
func (e *apiStatusError) Unwrap() error   { return e.err }
func (e *apiStatusError) StatusCode() int { return e.code }

func classifyAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &apiStatusError{code: apiErr.StatusCode, err: err}
	}
	return err
}
