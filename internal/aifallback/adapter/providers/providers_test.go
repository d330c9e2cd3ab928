package providers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediaqueue/internal/aifallback"
)

func TestNewOpenAIStyleAdapter_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"hello there"}}]}`))
	}))
	defer srv.Close()

	a := NewOpenAIStyleAdapter(srv.URL)
	result, err := a.Generate(t.Context(), aifallback.ModelConfig{Provider: "openai", ModelName: "gpt-4o"}, aifallback.Params{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello there"}, result.Subtitles)
	assert.Equal(t, "openai", result.Provider)
}

func TestNewGeminiAdapter_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"bonjour"}]}}]}`))
	}))
	defer srv.Close()

	a := NewGeminiAdapter(srv.URL)
	result, err := a.Generate(t.Context(), aifallback.ModelConfig{Provider: "gemini", ModelName: "gemini-2.0-flash"}, aifallback.Params{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bonjour"}, result.Subtitles)
}

func TestTranslatePrompt_IncludesLanguagesAndSubtitleText(t *testing.T) {
	req, err := buildOpenAIRequest(aifallback.ModelConfig{ModelName: "gpt-4o"}, aifallback.TaskTranslate, aifallback.Params{
		SourceLanguage: "en",
		TargetLanguage: "fr",
		Subtitles:      []aifallback.Subtitle{{Text: "hello"}},
	})
	require.NoError(t, err)
	body := req.(openAIRequest)
	assert.Contains(t, body.Messages[0].Content, "en")
	assert.Contains(t, body.Messages[0].Content, "fr")
	assert.Contains(t, body.Messages[0].Content, "hello")
}
