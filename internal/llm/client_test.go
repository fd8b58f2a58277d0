package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pmbus/internal/config"
	"git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

type captured struct {
	path string
	auth string
	chatRequest
}

func completionServer(t *testing.T, content string, seen *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.path = r.URL.Path
		seen.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&seen.chatRequest)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete_SendsMessagesAndDefaults(t *testing.T) {
	var seen captured
	srv := completionServer(t, "all good", &seen)
	c := New(config.LLMConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test"})

	out, err := c.Complete(context.Background(), Request{Prompt: "status?", SystemPrompt: "be brief"})
	require.NoError(t, err)
	require.Equal(t, "all good", out)
	require.Equal(t, "/v1/chat/completions", seen.path)
	require.Equal(t, "Bearer sk-test", seen.auth)

	require.Equal(t, DefaultModel, seen.Model)
	require.InDelta(t, DefaultTemperature, seen.Temperature, 1e-9)
	require.Equal(t, DefaultMaxTokens, seen.MaxTokens)
	require.Nil(t, seen.ResponseFormat)
	require.Equal(t, []chatMessage{{Role: "system", Content: "be brief"}, {Role: "user", Content: "status?"}}, seen.Messages)
}

func TestCompleteJSON_RequestsJSONObject(t *testing.T) {
	var seen captured
	srv := completionServer(t, `{"severity":"high","requires_attention":true}`, &seen)
	c := New(config.LLMConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "local"})

	out, err := c.CompleteJSON(context.Background(), Request{Prompt: "risk?", Temperature: 0.7, MaxTokens: 50})
	require.NoError(t, err)
	require.Equal(t, "high", out["severity"])
	require.Equal(t, true, out["requires_attention"])
	require.Equal(t, "/v1/chat/completions", seen.path)

	require.NotNil(t, seen.ResponseFormat)
	require.Equal(t, "json_object", seen.ResponseFormat.Type)
	require.Equal(t, "local", seen.Model)
	require.InDelta(t, 0.7, seen.Temperature, 1e-9)
	require.Equal(t, 50, seen.MaxTokens)
	require.Len(t, seen.Messages, 1)
}

func TestCompleteJSON_RejectsNonObject(t *testing.T) {
	var seen captured
	srv := completionServer(t, "not json", &seen)
	c := New(config.LLMConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test"})

	_, err := c.CompleteJSON(context.Background(), Request{Prompt: "x"})
	require.True(t, errors.HasCategory(err, errors.CategoryLLM))
	require.False(t, errors.IsTransient(err))
}

func TestComplete_StatusErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", status)
	}))
	defer srv.Close()
	c := New(config.LLMConfig{BaseURL: srv.URL})

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.True(t, errors.HasCategory(err, errors.CategoryLLM))
	require.True(t, errors.IsTransient(err))

	status = http.StatusBadRequest
	_, err = c.Complete(context.Background(), Request{Prompt: "x"})
	require.True(t, errors.HasCategory(err, errors.CategoryLLM))
	require.False(t, errors.IsTransient(err))
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := New(config.LLMConfig{BaseURL: srv.URL}).Complete(context.Background(), Request{Prompt: "x"})
	require.True(t, errors.HasCategory(err, errors.CategoryLLM))
}

func TestComplete_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(config.LLMConfig{BaseURL: url, Timeout: time.Second})
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.True(t, errors.IsTransient(err))
}
