package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*OpenAI, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewOpenAI(OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client, srv
}

func TestOpenAI_CompleteSuccess(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)
		require.Nil(t, req.ResponseFormat)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "A concise description."}},
			},
			"usage": map[string]int64{"prompt_tokens": 120, "completion_tokens": 42},
		})
	})

	got, err := client.Complete(context.Background(), Request{
		System:    "You describe web pages.",
		Prompt:    "Describe this page.",
		MaxTokens: 256,
	})
	require.NoError(t, err)
	require.Equal(t, "A concise description.", got.Text)
	require.Equal(t, Usage{PromptTokens: 120, CompletionTokens: 42}, got.Usage)
}

func TestOpenAI_JSONOnlySetsResponseFormat(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.ResponseFormat)
		require.Equal(t, "json_object", req.ResponseFormat.Type)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"ok":true}`}},
			},
		})
	})

	got, err := client.Complete(context.Background(), Request{Prompt: "x", JSONOnly: true})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, got.Text)
}

func TestOpenAI_ErrorKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{name: "auth", status: http.StatusUnauthorized, want: ErrAuth},
		{name: "forbidden", status: http.StatusForbidden, want: ErrAuth},
		{name: "rate limit", status: http.StatusTooManyRequests, want: ErrRateLimit},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, want: ErrTimeout},
		{name: "server error", status: http.StatusInternalServerError, want: ErrTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			})
			_, err := client.Complete(context.Background(), Request{Prompt: "x"})
			var llmErr *Error
			require.ErrorAs(t, err, &llmErr)
			require.Equal(t, tc.want, llmErr.Kind)
		})
	}
}

func TestOpenAI_TimeoutClassified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	client, err := NewOpenAI(OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "k",
		Model:   "m",
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{Prompt: "x"})
	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	require.Equal(t, ErrTimeout, llmErr.Kind)
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})
	_, err := client.Complete(context.Background(), Request{Prompt: "x"})
	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	require.Equal(t, ErrInvalidOutput, llmErr.Kind)
}

func TestNewOpenAI_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAI(OpenAIConfig{Model: "m"})
	require.Error(t, err)
	_, err = NewOpenAI(OpenAIConfig{APIKey: "k"})
	require.Error(t, err)
}
