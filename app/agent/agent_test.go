package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	name   string
	result Result
	panics bool
	got    Prompt
}

func (s *stubBackend) Name() string     { return s.name }
func (s *stubBackend) Models() []string { return []string{"stub-model"} }
func (s *stubBackend) Generate(_ context.Context, p Prompt) Result {
	s.got = p
	if s.panics {
		panic("boom")
	}
	return s.result
}

func TestResultText(t *testing.T) {
	assert.Equal(t, "hi", Answer("hi").Text())
	assert.False(t, Answer("hi").Failed())

	r := Failure(errors.New("broken pipe"))
	assert.True(t, r.Failed())
	assert.Equal(t, "Error generating response: broken pipe", r.Text())

	r = Failure(&StatusError{API: "OpenAI", Code: 401})
	assert.Equal(t, "Error calling OpenAI API: 401", r.Text())
}

func TestDispatcher_Routing(t *testing.T) {
	local := &stubBackend{name: BackendLocal, result: Answer("local answer")}
	aiml := &stubBackend{name: BackendAIML, result: Answer("aiml answer")}
	d := NewDispatcher(nil, local, aiml)

	ctx := context.Background()
	assert.Equal(t, "local answer", d.Generate(ctx, Request{Backend: "local", Question: "q"}))
	assert.Equal(t, "local answer", d.Generate(ctx, Request{Backend: "huggingface", Question: "q"}))
	assert.Equal(t, "aiml answer", d.Generate(ctx, Request{Backend: "aiml", Question: "q", Model: "m", APIKey: "k"}))
	assert.Equal(t, "m", aiml.got.Model)
	assert.Equal(t, "k", aiml.got.APIKey)
	assert.Equal(t, InvalidBackendMessage, d.Generate(ctx, Request{Backend: "nope"}))

	assert.Equal(t, []string{BackendAIML, BackendLocal}, d.Names())
	assert.Equal(t, []string{"stub-model"}, d.Catalog()[BackendLocal])
}

func TestDispatcher_PromptComposition(t *testing.T) {
	b := &stubBackend{name: BackendOpenAI, result: Answer("ok")}
	d := NewDispatcher(nil, b)

	d.Generate(context.Background(), Request{
		Backend:             BackendOpenAI,
		Context:             "From a.pdf: facts",
		Question:            "what?",
		ConversationContext: "Previous Question: before",
	})
	assert.Equal(t, "what?", b.got.Question)
	assert.Contains(t, b.got.Text, "Previous Conversation Context:\nPrevious Question: before")
	assert.Contains(t, b.got.Text, "Current Context from Documents:\nFrom a.pdf: facts")
	assert.Contains(t, b.got.Text, "Current Question: what?")
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	d := NewDispatcher(nil, &stubBackend{name: BackendLocal, panics: true})
	res := d.Dispatch(context.Background(), Request{Backend: BackendLocal})
	require.True(t, res.Failed())
	assert.Equal(t, "Error generating response: boom", res.Text())
}

func chatServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatBackend_Success(t *testing.T) {
	var seen map[string]any
	srv := chatServer(t, http.StatusOK, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Paris."},"finish_reason":"stop"}]}`, &seen)

	b := NewAIMLBackend(ChatConfig{BaseURL: srv.URL, Temperature: 0.7})
	res := b.Generate(context.Background(), Prompt{Text: "ctx", Question: "capital?", APIKey: "key", Model: "openai/gpt-4o"})
	require.False(t, res.Failed(), res.Text())
	assert.Equal(t, "Paris.", res.Text())

	assert.Equal(t, "openai/gpt-4o", seen["model"])
	assert.EqualValues(t, 500, seen["max_tokens"])
	msgs := seen["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, systemInstruction, msgs[0].(map[string]any)["content"])
	assert.Equal(t, "ctx\n\nQuestion: capital?", msgs[1].(map[string]any)["content"])
}

func TestChatBackend_Unauthorized(t *testing.T) {
	srv := chatServer(t, http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, nil)

	d := NewDispatcher(nil, NewOpenAIBackend(ChatConfig{BaseURL: srv.URL}))
	answer := d.Generate(context.Background(), Request{Backend: BackendOpenAI, Question: "q", APIKey: "bad"})
	assert.Equal(t, "Error calling OpenAI API: 401", answer)
}

func TestChatBackend_NonJSONError(t *testing.T) {
	srv := chatServer(t, http.StatusBadGateway, `upstream down`, nil)

	b := NewGeminiBackend(ChatConfig{BaseURL: srv.URL})
	res := b.Generate(context.Background(), Prompt{Text: "ctx", Question: "q"})
	require.True(t, res.Failed())
	assert.Contains(t, res.Text(), "502")
}

func TestLocalBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/show":
			w.WriteHeader(http.StatusOK)
		case "/api/generate":
			var req GenerateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if strings.Contains(req.Prompt, "silent") {
				w.Write([]byte(`{"response":"  "}`))
				return
			}
			w.Write([]byte("{\"response\":\"The \"}\n{\"response\":\"answer.\"}\n"))
		}
	}))
	defer srv.Close()

	l := NewLocalBackend(LocalConfig{URL: srv.URL + "/api/generate", Model: "llama3.2"})
	assert.False(t, l.Loaded())
	require.NoError(t, l.Probe(context.Background()))
	assert.True(t, l.Loaded())

	res := l.Generate(context.Background(), Prompt{Text: "ctx", Question: "q"})
	assert.Equal(t, "The answer.", res.Text())

	res = l.Generate(context.Background(), Prompt{Text: "silent", Question: "q"})
	assert.Equal(t, EmptyResponseMessage, res.Text())
}

func TestLocalBackend_NotConfigured(t *testing.T) {
	l := NewLocalBackend(LocalConfig{})
	assert.Equal(t, NotLoadedMessage, l.Generate(context.Background(), Prompt{}).Text())
	assert.Error(t, l.Probe(context.Background()))
	assert.Empty(t, l.Models())
}

func TestLocalBackend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := NewLocalBackend(LocalConfig{URL: srv.URL, Model: "m"})
	res := l.Generate(context.Background(), Prompt{Text: "ctx"})
	require.True(t, res.Failed())
	assert.Equal(t, "Error generating response: local model returned status 500", res.Text())
}

func TestLocalBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	t.Run("after failed health check", func(t *testing.T) {
		l := NewLocalBackend(LocalConfig{URL: addr + "/api/generate", Model: "llama3.2"})
		require.Error(t, l.Probe(context.Background()))
		assert.False(t, l.Loaded())

		d := NewDispatcher(nil, l)
		answer := d.Generate(context.Background(), Request{Backend: BackendLocal, Question: "q", Context: "ctx"})
		assert.Equal(t, NotLoadedMessage, answer)
	})

	t.Run("without health check", func(t *testing.T) {
		l := NewLocalBackend(LocalConfig{URL: addr + "/api/generate", Model: "llama3.2"})
		res := l.Generate(context.Background(), Prompt{Text: "ctx", Question: "q"})
		assert.False(t, res.Failed())
		assert.Equal(t, NotLoadedMessage, res.Text())
		assert.False(t, l.Loaded())
	})
}

func TestLocalBackend_RecoversAfterRestart(t *testing.T) {
	var up atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Path == "/api/generate" {
			w.Write([]byte(`{"response":"back online"}`))
		}
	}))
	defer srv.Close()

	l := NewLocalBackend(LocalConfig{URL: srv.URL + "/api/generate", Model: "llama3.2"})
	require.Error(t, l.Probe(context.Background()))
	assert.Equal(t, NotLoadedMessage, l.Generate(context.Background(), Prompt{Question: "q"}).Text())

	up.Store(true)
	assert.Equal(t, "back online", l.Generate(context.Background(), Prompt{Question: "q"}).Text())
	assert.True(t, l.Loaded())
}
