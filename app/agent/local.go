package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

const (
	NotLoadedMessage     = "Local model not loaded. Please select a different model."
	EmptyResponseMessage = "I couldn't generate a response based on the provided context."
)

type GenerateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options GenerateOptions `json:"options"`
}

type GenerateOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type GenerateResponse struct {
	Response string `json:"response"`
}

type LocalConfig struct {
	URL         string // Ollama generate endpoint, e.g. http://localhost:11434/api/generate
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// LocalBackend generates answers with a model served by a local Ollama.
type LocalBackend struct {
	cfg    LocalConfig
	client *http.Client
	loaded atomic.Bool

	// set once a health check or a generation could not reach the model
	unavailable atomic.Bool
}

func NewLocalBackend(cfg LocalConfig) *LocalBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &LocalBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (l *LocalBackend) Name() string { return BackendLocal }

func (l *LocalBackend) Models() []string {
	if l.cfg.Model == "" {
		return []string{}
	}
	return []string{l.cfg.Model}
}

func (l *LocalBackend) configured() bool {
	return l.cfg.URL != "" && l.cfg.Model != ""
}

// Loaded reports whether the last probe or generation reached the model.
func (l *LocalBackend) Loaded() bool {
	return l.configured() && l.loaded.Load()
}

// Probe checks that the Ollama server answers and knows the model.
func (l *LocalBackend) Probe(ctx context.Context) error {
	if !l.configured() {
		return fmt.Errorf("local model is not configured")
	}
	u, err := url.Parse(l.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid local model url: %w", err)
	}
	u.Path = "/api/show"

	body, _ := json.Marshal(map[string]string{"model": l.cfg.Model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		l.markUnavailable()
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		l.markUnavailable()
		return fmt.Errorf("model %s unavailable: status %d", l.cfg.Model, resp.StatusCode)
	}
	l.markLoaded()
	return nil
}

func (l *LocalBackend) markLoaded() {
	l.loaded.Store(true)
	l.unavailable.Store(false)
}

func (l *LocalBackend) markUnavailable() {
	l.loaded.Store(false)
	l.unavailable.Store(true)
}

// Generate answers NotLoadedMessage while the model cannot be reached. A
// backend marked unavailable is checked again first so a model started later
// is picked up.
func (l *LocalBackend) Generate(ctx context.Context, p Prompt) Result {
	if !l.configured() {
		return Answer(NotLoadedMessage)
	}
	if l.unavailable.Load() {
		if err := l.Probe(ctx); err != nil {
			return Answer(NotLoadedMessage)
		}
	}

	prompt := fmt.Sprintf("Context: %s\n\nQuestion: %s\n\nAnswer based on the context provided:", p.Text, p.Question)
	reqBody, err := json.Marshal(GenerateRequest{
		Model: l.cfg.Model,
		System: `You are a helpful assistant that answers questions based on the provided context and conversation history.
If the context doesn't contain relevant information, say so clearly.`,
		Prompt: prompt,
		Options: GenerateOptions{
			Temperature: l.cfg.Temperature,
			NumPredict:  l.cfg.MaxTokens,
		},
	})
	if err != nil {
		return Failure(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.URL, bytes.NewReader(reqBody))
	if err != nil {
		return Failure(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Failure(err)
		}
		l.markUnavailable()
		return Answer(NotLoadedMessage)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failure(err)
	}
	if resp.StatusCode != http.StatusOK {
		return Failure(fmt.Errorf("local model returned status %d", resp.StatusCode))
	}
	l.markLoaded()

	output := strings.TrimSpace(decodeGenerate(body))
	if output == "" {
		return Answer(EmptyResponseMessage)
	}
	return Answer(output)
}

// decodeGenerate accepts both a single response object and a stream of
// newline-delimited chunks.
func decodeGenerate(body []byte) string {
	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil {
		return genResp.Response
	}

	var output strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			break
		}
		output.WriteString(chunk.Response)
	}
	return output.String()
}
