// Package rag is the session-scoped retrieval engine: it chunks and indexes
// uploaded documents, keeps one combined index per session and answers
// questions from the passages it retrieves.
package rag

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"docqa/app/agent"
	"docqa/chunker"
	"docqa/index"
	"docqa/loader"
	"docqa/memory"
	"docqa/model"
	"docqa/store"
	"docqa/types"
)

var ErrNoText = errors.New("no text found in document")

const (
	DefaultTopK = 5

	NoResultsAnswer = "I couldn't find relevant information in the uploaded documents to answer your question."

	sourcePreviewRunes = 200
)

type Config struct {
	TopK         int
	ContextTurns int
}

// Engine is the composed root. All per-session state is reached through it.
type Engine struct {
	chunker   *chunker.Chunker
	embedder  model.Embedder
	extractor loader.Extractor
	docs      *store.DocumentStore
	perDoc    *index.DocumentIndices
	memory    *memory.Memory
	agent     *agent.Dispatcher
	logger    *slog.Logger
	now       func() time.Time

	topK         int
	contextTurns int

	mu       sync.Mutex
	sessions map[string]*session
}

// session holds the cached combined index. stale is set by every change to
// the session's document set and cleared by a successful rebuild. refs counts
// the callers holding the session and is guarded by Engine.mu.
type session struct {
	mu       sync.Mutex
	combined *index.Combined
	stale    bool
	refs     int
}

type Deps struct {
	Chunker   *chunker.Chunker
	Embedder  model.Embedder
	Extractor loader.Extractor
	Documents *store.DocumentStore
	Memory    *memory.Memory
	Agent     *agent.Dispatcher
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = memory.DefaultContextTurns
	}
	if deps.Chunker == nil {
		deps.Chunker = chunker.New()
	}
	if deps.Documents == nil {
		deps.Documents = store.NewDocumentStore(nil)
	}
	if deps.Memory == nil {
		deps.Memory = memory.New(memory.DefaultMaxHistory)
	}
	if deps.Agent == nil {
		deps.Agent = agent.NewDispatcher(nil)
	}
	return &Engine{
		chunker:      deps.Chunker,
		embedder:     deps.Embedder,
		extractor:    deps.Extractor,
		docs:         deps.Documents,
		perDoc:       index.NewDocumentIndices(deps.Embedder),
		memory:       deps.Memory,
		agent:        deps.Agent,
		logger:       slog.Default(),
		now:          time.Now,
		topK:         cfg.TopK,
		contextTurns: cfg.ContextTurns,
		sessions:     make(map[string]*session),
	}
}

// acquire returns the session for id, creating it if needed, and holds it
// until the matching release.
func (e *Engine) acquire(id string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		s = &session{stale: true}
		e.sessions[id] = s
	}
	s.refs++
	return s
}

// release drops a hold taken by acquire. The last holder forgets a session
// that has neither documents nor a cached index. It must be called after
// s.mu is unlocked.
func (e *Engine) release(id string, s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.refs--
	if s.refs > 0 || s.combined != nil || e.docs.HasSession(id) {
		return
	}
	if e.sessions[id] == s {
		delete(e.sessions, id)
	}
}

// Restore loads persisted documents and rebuilds their per-document indices.
// Combined indices are built on the first query of each session.
func (e *Engine) Restore(ctx context.Context) error {
	n, err := e.docs.Load(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sessionID := range e.docs.Sessions() {
		for _, doc := range e.docs.SessionDocuments(sessionID) {
			vectors, err := e.documentVectors(ctx, doc)
			if err != nil {
				return fmt.Errorf("restore index for %s: %w", doc.ID, err)
			}
			if err := e.perDoc.Add(ctx, doc.ID, doc.Filename, doc.Texts(), vectors); err != nil {
				return err
			}
		}
		e.sessions[sessionID] = &session{stale: true}
	}
	return nil
}

// documentVectors reuses stored embeddings when they match the current
// embedder and re-embeds otherwise.
func (e *Engine) documentVectors(ctx context.Context, doc types.Document) ([][]float32, error) {
	dim := e.embedder.Dimensions()
	vectors := make([][]float32, len(doc.Chunks))
	for i, c := range doc.Chunks {
		if len(c.Embedding) == 0 || (dim > 0 && len(c.Embedding) != dim) {
			return e.embedder.Embed(ctx, doc.Texts())
		}
		vectors[i] = c.Embedding
	}
	return vectors, nil
}

// Upload extracts text from a PDF and adds it to the session.
func (e *Engine) Upload(ctx context.Context, sessionID, filename string, r io.ReadSeeker) (types.Document, error) {
	if e.extractor == nil {
		return types.Document{}, errors.New("no text extractor configured")
	}
	text, meta, err := e.extractor.Extract(ctx, r)
	if err != nil {
		return types.Document{}, fmt.Errorf("extract %s: %w", filename, err)
	}
	if strings.TrimSpace(text) == "" {
		return types.Document{}, ErrNoText
	}
	return e.AddDocument(ctx, sessionID, filename, text, meta)
}

// AddDocument chunks, embeds and indexes text as a new document of the
// session. Either the document, its per-document index and the rebuilt
// combined index are all committed, or nothing changes.
func (e *Engine) AddDocument(ctx context.Context, sessionID, filename, text string, meta types.Metadata) (types.Document, error) {
	start := time.Now()
	passages := e.chunker.Chunk(text)
	if len(passages) == 0 {
		return types.Document{}, ErrNoText
	}

	s := e.acquire(sessionID)
	defer e.release(sessionID, s)
	s.mu.Lock()
	defer s.mu.Unlock()

	vectors, err := e.embedder.Embed(ctx, passages)
	if err != nil {
		return types.Document{}, fmt.Errorf("embed passages: %w", err)
	}
	if len(vectors) != len(passages) {
		return types.Document{}, fmt.Errorf("embedder returned %d vectors for %d passages", len(vectors), len(passages))
	}

	uploaded := e.now()
	doc := types.Document{
		ID:         e.newDocID(filename, sessionID, uploaded),
		Filename:   filename,
		SessionID:  sessionID,
		Metadata:   meta,
		UploadTime: uploaded,
		Chunks:     make([]types.Chunk, len(passages)),
	}
	for i, p := range passages {
		doc.Chunks[i] = types.Chunk{DocID: doc.ID, Index: i, Content: p, Embedding: vectors[i]}
	}

	combined, err := e.buildCombined(ctx, append(e.docs.SessionDocuments(sessionID), doc))
	if err != nil {
		return types.Document{}, fmt.Errorf("build session index: %w", err)
	}
	if err := e.perDoc.Add(ctx, doc.ID, doc.Filename, passages, vectors); err != nil {
		return types.Document{}, err
	}
	if err := e.docs.Add(ctx, doc); err != nil {
		if rmErr := e.perDoc.Remove(doc.ID); rmErr != nil {
			e.logger.Error("[UPLOAD] failed to drop document index", "doc_id", doc.ID, "err", rmErr)
		}
		return types.Document{}, err
	}
	s.combined, s.stale = combined, false

	e.logger.Info("[UPLOAD] document stored",
		"session_id", sessionID,
		"doc_id", doc.ID,
		"filename", filename,
		"chunks", len(passages),
		"took", time.Since(start),
	)
	return doc, nil
}

// newDocID derives an id from filename, upload time and session, salting it
// until it is unused.
func (e *Engine) newDocID(filename, sessionID string, at time.Time) string {
	for attempt := 0; ; attempt++ {
		seed := filename + at.Format(time.RFC3339Nano) + sessionID
		if attempt > 0 {
			seed += fmt.Sprintf("#%d", attempt)
		}
		sum := md5.Sum([]byte(seed))
		id := hex.EncodeToString(sum[:])
		if !e.docs.Exists(id) && !e.perDoc.Has(id) {
			return id
		}
	}
}

// RemoveDocument drops a document from its session and rebuilds the
// combined index. Unknown documents are not an error.
func (e *Engine) RemoveDocument(ctx context.Context, sessionID, docID string) error {
	s := e.acquire(sessionID)
	defer e.release(sessionID, s)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := e.docs.Remove(ctx, sessionID, docID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	if err := e.perDoc.Remove(docID); err != nil {
		e.logger.Warn("[DELETE] failed to drop document index", "doc_id", docID, "err", err)
	}
	s.combined, s.stale = nil, true

	if err := e.rebuildLocked(ctx, sessionID, s); err != nil {
		e.logger.Warn("[DELETE] session index left for lazy rebuild", "session_id", sessionID, "err", err)
	}
	e.logger.Info("[DELETE] document removed", "session_id", sessionID, "doc_id", docID)
	return nil
}

// Rebuild forces a full rebuild of the session's combined index.
func (e *Engine) Rebuild(ctx context.Context, sessionID string) error {
	s := e.acquire(sessionID)
	defer e.release(sessionID, s)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
	return e.rebuildLocked(ctx, sessionID, s)
}

func (e *Engine) rebuildLocked(ctx context.Context, sessionID string, s *session) error {
	combined, err := e.buildCombined(ctx, e.docs.SessionDocuments(sessionID))
	if err != nil {
		return err
	}
	s.combined, s.stale = combined, false
	return nil
}

// buildCombined re-embeds every passage of docs, in document order and then
// passage order. An empty document set yields a nil index.
func (e *Engine) buildCombined(ctx context.Context, docs []types.Document) (*index.Combined, error) {
	var (
		entries []index.Entry
		texts   []string
	)
	for _, doc := range docs {
		for _, c := range doc.Chunks {
			entries = append(entries, index.Entry{
				DocID:      doc.ID,
				DocName:    doc.Filename,
				ChunkIndex: c.Index,
				Text:       c.Content,
			})
			texts = append(texts, c.Content)
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}

	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed session passages: %w", err)
	}
	return index.NewCombined(entries, vectors)
}

// IndexedPassages returns the provenance of the session's combined index in
// index order, building it first if needed.
func (e *Engine) IndexedPassages(ctx context.Context, sessionID string) ([]index.Entry, error) {
	s := e.acquire(sessionID)
	defer e.release(sessionID, s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := e.ensureIndexLocked(ctx, sessionID, s); err != nil {
		return nil, err
	}
	if s.combined == nil {
		return nil, nil
	}
	return s.combined.Entries(), nil
}

func (e *Engine) ensureIndexLocked(ctx context.Context, sessionID string, s *session) error {
	if s.stale || s.combined == nil {
		return e.rebuildLocked(ctx, sessionID, s)
	}
	return nil
}

// Retrieve returns up to topK passages of the session ordered by distance.
// A session without documents, or whose index cannot be built, yields
// nothing.
func (e *Engine) Retrieve(ctx context.Context, sessionID, query string, topK int) []types.Passage {
	s := e.acquire(sessionID)
	defer e.release(sessionID, s)
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.retrieveLocked(ctx, sessionID, s, query, topK)
}

func (e *Engine) retrieveLocked(ctx context.Context, sessionID string, s *session, query string, topK int) []types.Passage {
	if topK <= 0 {
		topK = e.topK
	}
	if err := e.ensureIndexLocked(ctx, sessionID, s); err != nil {
		e.logger.Error("[SEARCH] failed to build session index", "session_id", sessionID, "err", err)
		return nil
	}
	if s.combined == nil {
		return nil
	}

	q, err := model.EmbedOne(ctx, e.embedder, query)
	if err != nil {
		e.logger.Error("[SEARCH] failed to embed query", "session_id", sessionID, "err", err)
		return nil
	}
	hits, err := s.combined.Search(q, topK)
	if err != nil {
		e.logger.Error("[SEARCH] search failed", "session_id", sessionID, "err", err)
		return nil
	}

	passages := make([]types.Passage, 0, len(hits))
	for _, h := range hits {
		entry, ok := s.combined.Lookup(h.Position)
		if !ok {
			continue
		}
		passages = append(passages, types.Passage{
			Text:       entry.Text,
			Distance:   h.Distance,
			DocID:      entry.DocID,
			DocName:    entry.DocName,
			ChunkIndex: entry.ChunkIndex,
		})
	}
	e.logger.Debug("[SEARCH] passages retrieved", "session_id", sessionID, "found", len(passages))
	return passages
}

// SearchDocument queries a single document's own index.
func (e *Engine) SearchDocument(ctx context.Context, sessionID, docID, query string, k int) ([]index.Match, error) {
	doc, ok := e.docs.Get(docID)
	if !ok || doc.SessionID != sessionID {
		return nil, nil
	}
	if k <= 0 {
		k = e.topK
	}
	q, err := model.EmbedOne(ctx, e.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.perDoc.Search(ctx, docID, q, k)
}

// Ask runs one question/answer cycle. Generation failures come back as the
// answer text; Ask itself never fails.
func (e *Engine) Ask(ctx context.Context, params types.AskParams) types.AskResponse {
	s := e.acquire(params.SessionID)
	defer e.release(params.SessionID, s)
	s.mu.Lock()
	defer s.mu.Unlock()

	convCtx := e.memory.GetConversationContext(params.SessionID, e.contextTurns)
	e.memory.AddMessage(params.SessionID, types.RoleUser, params.Question, nil)

	passages := e.retrieveLocked(ctx, params.SessionID, s, params.Question, e.topK)

	var answer string
	sources := make([]types.Source, 0, len(passages))
	if len(passages) == 0 {
		answer = NoResultsAnswer
	} else {
		parts := make([]string, len(passages))
		for i, p := range passages {
			parts[i] = fmt.Sprintf("From %s: %s", p.DocName, p.Text)
		}
		answer = e.agent.Generate(ctx, agent.Request{
			Context:             strings.Join(parts, "\n\n"),
			Question:            params.Question,
			ConversationContext: convCtx,
			Backend:             params.ModelType,
			APIKey:              params.APIKey,
			Model:               params.AIMLModel,
		})
		for _, p := range passages {
			sources = append(sources, types.Source{
				Text:       previewSource(p.Text),
				Score:      p.Distance,
				DocName:    p.DocName,
				DocID:      p.DocID,
				ChunkIndex: p.ChunkIndex,
			})
		}
	}

	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = src.DocName
	}
	e.memory.AddMessage(params.SessionID, types.RoleAssistant, answer, names)

	return types.AskResponse{
		Answer:                  answer,
		Sources:                 sources,
		ModelUsed:               params.ModelType,
		SessionID:               params.SessionID,
		ConversationContextUsed: convCtx != "",
	}
}

func previewSource(text string) string {
	r := []rune(text)
	if len(r) <= sourcePreviewRunes {
		return text
	}
	return string(r[:sourcePreviewRunes]) + "..."
}

func (e *Engine) Documents(sessionID string) []types.DocumentInfo {
	docs := e.docs.SessionDocuments(sessionID)
	out := make([]types.DocumentInfo, len(docs))
	for i, d := range docs {
		out[i] = types.DocumentInfo{
			DocID:      d.ID,
			Filename:   d.Filename,
			Chunks:     len(d.Chunks),
			Metadata:   d.Metadata,
			UploadTime: d.UploadTime,
			SessionID:  d.SessionID,
		}
	}
	return out
}

func (e *Engine) Conversation(sessionID string) []types.Turn {
	return e.memory.GetFullConversation(sessionID)
}

func (e *Engine) ClearConversation(sessionID string) {
	e.memory.ClearConversation(sessionID)
}

func (e *Engine) Summary(sessionID string) types.SessionSummary {
	docs := e.docs.SessionDocuments(sessionID)
	turns := e.memory.GetFullConversation(sessionID)

	sum := types.SessionSummary{
		SessionID: sessionID,
		Documents: types.DocumentsSummary{
			Count: len(docs),
			Files: make([]types.FileSummary, len(docs)),
		},
		Conversation: types.ConversationSummary{TotalMessages: len(turns)},
	}
	for i, d := range docs {
		sum.Documents.TotalChunks += len(d.Chunks)
		sum.Documents.Files[i] = types.FileSummary{Name: d.Filename, Chunks: len(d.Chunks)}
	}
	for _, t := range turns {
		switch t.Role {
		case types.RoleUser:
			sum.Conversation.UserQuestions++
		case types.RoleAssistant:
			sum.Conversation.AssistantResponses++
		}
	}
	if len(turns) > 0 {
		last := turns[len(turns)-1].Timestamp
		sum.Conversation.LastActivity = &last
	}
	return sum
}

type Stats struct {
	Sessions      int
	Documents     int
	Conversations int
}

func (e *Engine) Stats() Stats {
	return Stats{
		Sessions:      e.docs.SessionCount(),
		Documents:     e.docs.DocumentCount(),
		Conversations: e.memory.ActiveConversations(),
	}
}

func (e *Engine) Embedder() model.Embedder { return e.embedder }
