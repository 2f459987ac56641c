package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAI_MultipartUserMessage(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",`+
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"a dog"}}]}`)
	}))
	t.Cleanup(srv.Close)

	p := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
	text, err := p.Generate(context.Background(), []Part{
		TextPart("What is this?"),
		InlinePart("image/jpeg", []byte("jpegbytes")),
	})
	require.NoError(t, err)
	assert.Equal(t, "a dog", text)

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string           `json:"role"`
			Content []map[string]any `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	require.Len(t, req.Messages[0].Content, 2)
	assert.Equal(t, "text", req.Messages[0].Content[0]["type"])
	assert.Equal(t, "image_url", req.Messages[0].Content[1]["type"])
	imageURL, _ := req.Messages[0].Content[1]["image_url"].(map[string]any)
	assert.Equal(t, "data:image/jpeg;base64,anBlZ2J5dGVz", imageURL["url"])
}

func TestOpenAI_EmptyChoicesIsEmptyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	}))
	t.Cleanup(srv.Close)

	p := NewOpenAIProvider(Config{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	text, err := p.Generate(context.Background(), []Part{TextPart("Hello")})
	require.NoError(t, err)
	assert.Equal(t, "", text)
}
