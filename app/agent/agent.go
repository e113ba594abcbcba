package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	BackendLocal  = "local"
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
	BackendAIML   = "aiml_gateway"

	InvalidBackendMessage = "Invalid model type specified."
)

var aliases = map[string]string{
	"huggingface": BackendLocal,
	"aiml":        BackendAIML,
}

// Prompt is what a backend receives: the composite prompt, the bare
// question and per-request credentials.
type Prompt struct {
	Text     string
	Question string
	APIKey   string
	Model    string
}

// Backend is one generation strategy. Implementations report failures in
// the Result and never panic past Generate.
type Backend interface {
	Name() string
	Models() []string
	Generate(ctx context.Context, p Prompt) Result
}

type Request struct {
	Context             string
	Question            string
	ConversationContext string
	Backend             string
	APIKey              string
	Model               string
}

// Dispatcher routes requests to registered backends by tag.
type Dispatcher struct {
	counter TokenCounter
	logger  *slog.Logger

	mu       sync.RWMutex
	backends map[string]Backend
}

func NewDispatcher(counter TokenCounter, backends ...Backend) *Dispatcher {
	d := &Dispatcher{
		counter:  counter,
		logger:   slog.Default(),
		backends: make(map[string]Backend),
	}
	for _, b := range backends {
		d.Register(b)
	}
	return d
}

func (d *Dispatcher) Register(b Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends[b.Name()] = b
}

// Resolve finds the backend for tag, following the legacy aliases.
func (d *Dispatcher) Resolve(tag string) (Backend, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if canonical, ok := aliases[tag]; ok {
		tag = canonical
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.backends[tag]
	return b, ok
}

// Catalog lists the model identifiers each backend supports.
func (d *Dispatcher) Catalog() map[string][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string][]string, len(d.backends))
	for name, b := range d.backends {
		out[name] = b.Models()
	}
	return out
}

func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.backends))
	for name := range d.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the request against its backend and returns the raw result.
// An unknown tag yields the fixed invalid-backend answer.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (res Result) {
	b, ok := d.Resolve(req.Backend)
	if !ok {
		return Answer(InvalidBackendMessage)
	}

	prompt := BuildPrompt(req.ConversationContext, req.Context, req.Question)
	if d.counter != nil {
		if n, err := d.counter.CountTokens(prompt); err == nil {
			d.logger.Debug("[GENERATE] prompt size", "backend", b.Name(), "tokens", n, "chars", len(prompt))
		}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Failure(fmt.Errorf("%v", r))
		}
		if res.Failed() {
			d.logger.Error("[GENERATE] backend failed", "backend", b.Name(), "err", res.Err(), "took", time.Since(start))
			return
		}
		d.logger.Info("[GENERATE] answer ready", "backend", b.Name(), "took", time.Since(start))
	}()

	return b.Generate(ctx, Prompt{
		Text:     prompt,
		Question: req.Question,
		APIKey:   req.APIKey,
		Model:    req.Model,
	})
}

// Generate always returns answer text. Failures are rendered in band.
func (d *Dispatcher) Generate(ctx context.Context, req Request) string {
	return d.Dispatch(ctx, req).Text()
}

func BuildPrompt(conversationContext, context, question string) string {
	return fmt.Sprintf(`Previous Conversation Context:
%s

Current Context from Documents:
%s

Current Question: %s

Please provide a comprehensive answer based on both the document context and the conversation history. If this question relates to previous questions, acknowledge that connection.`,
		conversationContext, context, question)
}
