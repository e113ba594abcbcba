package agent

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const systemInstruction = "You are a helpful assistant that answers questions based on the provided context and conversation history. If the context doesn't contain relevant information, say so clearly."

type ChatConfig struct {
	Name    string // backend tag
	API     string // display name used in error answers
	BaseURL string
	Model   string
	Models  []string // advertised catalog
	// AllowModelOverride lets the request pick the model.
	AllowModelOverride bool
	APIKey             string
	MaxTokens          int
	Temperature        float32
	Timeout            time.Duration
}

// ChatBackend talks to an OpenAI-style chat completions endpoint.
type ChatBackend struct {
	cfg    ChatConfig
	client *http.Client
}

func NewChatBackend(cfg ChatConfig) *ChatBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &ChatBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func NewOpenAIBackend(cfg ChatConfig) *ChatBackend {
	cfg.Name, cfg.API = BackendOpenAI, "OpenAI"
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	if cfg.Models == nil {
		cfg.Models = []string{openai.GPT3Dot5Turbo, openai.GPT4oMini, openai.GPT4o}
	}
	return NewChatBackend(cfg)
}

func NewGeminiBackend(cfg ChatConfig) *ChatBackend {
	cfg.Name, cfg.API = BackendGemini, "Gemini"
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Models == nil {
		cfg.Models = []string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"}
	}
	return NewChatBackend(cfg)
}

func NewAIMLBackend(cfg ChatConfig) *ChatBackend {
	cfg.Name, cfg.API = BackendAIML, "AIML"
	cfg.AllowModelOverride = true
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.aimlapi.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "openai/gpt-4o-mini"
	}
	if cfg.Models == nil {
		cfg.Models = []string{
			"openai/gpt-4o-mini",
			"openai/gpt-4o",
			"openai/gpt-3.5-turbo",
			"google/gemini-pro",
			"anthropic/claude-3-sonnet",
			"meta-llama/llama-3.1-8b-instruct",
		}
	}
	return NewChatBackend(cfg)
}

func (b *ChatBackend) Name() string     { return b.cfg.Name }
func (b *ChatBackend) Models() []string { return b.cfg.Models }

func (b *ChatBackend) Generate(ctx context.Context, p Prompt) Result {
	key := p.APIKey
	if key == "" {
		key = b.cfg.APIKey
	}
	model := b.cfg.Model
	if b.cfg.AllowModelOverride && p.Model != "" {
		model = p.Model
	}

	conf := openai.DefaultConfig(key)
	conf.BaseURL = b.cfg.BaseURL
	conf.HTTPClient = b.client
	client := openai.NewClientWithConfig(conf)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: p.Text + "\n\nQuestion: " + p.Question},
		},
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: b.cfg.Temperature,
	})
	if err != nil {
		if code := statusCode(err); code != 0 {
			return Failure(&StatusError{API: b.cfg.API, Code: code, Err: err})
		}
		return Failure(err)
	}
	if len(resp.Choices) == 0 {
		return Failure(errors.New(b.cfg.API + " API returned no choices"))
	}
	return Answer(resp.Choices[0].Message.Content)
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
