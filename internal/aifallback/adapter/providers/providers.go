// Package providers supplies httpadapter RequestBuilder/ResponseParser
// pairs for the OpenAI-compatible chat-completions wire format (used by
// OpenAI and DeepSeek) and Google's Gemini generateContent format.
package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maauso/mediaqueue/internal/aifallback"
	"github.com/maauso/mediaqueue/internal/aifallback/adapter/httpadapter"
)

// OpenAIChatEndpoint is the default OpenAI chat-completions endpoint.
const OpenAIChatEndpoint = "https://api.openai.com/v1/chat/completions"

// DeepSeekChatEndpoint is the default DeepSeek chat-completions endpoint,
// which mirrors the OpenAI wire format.
const DeepSeekChatEndpoint = "https://api.deepseek.com/chat/completions"

// GeminiEndpointTemplate is the default Gemini generateContent endpoint;
// %s is the model name.
const GeminiEndpointTemplate = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOpenAIStyleAdapter builds an httpadapter.Adapter for OpenAI/DeepSeek's
// shared chat-completions wire format.
func NewOpenAIStyleAdapter(baseURL string, opts ...httpadapter.Option) *httpadapter.Adapter {
	return httpadapter.New(baseURL, buildOpenAIRequest, parseOpenAIResponse, opts...)
}

func buildOpenAIRequest(cfg aifallback.ModelConfig, task aifallback.Task, params aifallback.Params) (any, error) {
	prompt := params.Prompt
	if task == aifallback.TaskTranslate {
		prompt = translatePrompt(params)
	}
	return openAIRequest{
		Model:    cfg.ModelName,
		Messages: []openAIMessage{{Role: "user", Content: prompt}},
	}, nil
}

func parseOpenAIResponse(raw []byte) (aifallback.Result, error) {
	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return aifallback.Result{}, fmt.Errorf("providers: decode openai-style response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return aifallback.Result{}, nil
	}
	return aifallback.Result{
		Subtitles: []string{resp.Choices[0].Message.Content},
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// NewGeminiAdapter builds an httpadapter.Adapter for Gemini's
// generateContent wire format. baseURL should already include the model
// path (see GeminiEndpointTemplate); the API key is sent as a query
// parameter by Gemini's convention, so callers typically bake it into
// ModelConfig.Endpoint rather than relying on the Bearer header.
func NewGeminiAdapter(baseURL string, opts ...httpadapter.Option) *httpadapter.Adapter {
	return httpadapter.New(baseURL, buildGeminiRequest, parseGeminiResponse, opts...)
}

func buildGeminiRequest(cfg aifallback.ModelConfig, task aifallback.Task, params aifallback.Params) (any, error) {
	prompt := params.Prompt
	if task == aifallback.TaskTranslate {
		prompt = translatePrompt(params)
	}
	return geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	}, nil
}

func parseGeminiResponse(raw []byte) (aifallback.Result, error) {
	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return aifallback.Result{}, fmt.Errorf("providers: decode gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return aifallback.Result{}, nil
	}
	return aifallback.Result{
		Subtitles: []string{resp.Candidates[0].Content.Parts[0].Text},
	}, nil
}

func translatePrompt(params aifallback.Params) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the following subtitles from %s to %s:\n", params.SourceLanguage, params.TargetLanguage)
	for _, s := range params.Subtitles {
		b.WriteString(s.Text)
		b.WriteString("\n")
	}
	return b.String()
}
