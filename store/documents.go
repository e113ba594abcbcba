package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"docqa/types"
)

// DocumentStore is the in-memory registry of documents and session
// membership, written through to a DBStorer. Each session keeps its documents
// in insertion order.
type DocumentStore struct {
	db DBStorer

	mu       sync.RWMutex
	docs     map[string]*types.Document
	sessions map[string][]string
}

// NewDocumentStore returns a registry backed by db. A nil db keeps documents
// in memory only.
func NewDocumentStore(db DBStorer) *DocumentStore {
	return &DocumentStore{
		db:       db,
		docs:     make(map[string]*types.Document),
		sessions: make(map[string][]string),
	}
}

// Load restores every persisted document, ordered by upload time.
func (s *DocumentStore) Load(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, nil
	}
	docs, err := s.db.ListDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("load documents: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range docs {
		doc := docs[i]
		if _, ok := s.docs[doc.ID]; ok {
			continue
		}
		s.docs[doc.ID] = &doc
		s.sessions[doc.SessionID] = append(s.sessions[doc.SessionID], doc.ID)
	}
	slog.Info("[STORE] documents restored", "documents", len(docs), "sessions", len(s.sessions))
	return len(docs), nil
}

// Add persists doc and then registers it. Nothing is registered when the
// durable write fails.
func (s *DocumentStore) Add(ctx context.Context, doc types.Document) error {
	if s.Exists(doc.ID) {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	if s.db != nil {
		if err := s.db.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("save document %s: %w", doc.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = &doc
	s.sessions[doc.SessionID] = append(s.sessions[doc.SessionID], doc.ID)
	return nil
}

// Remove deletes docID from sessionID. It reports false when the document
// does not exist or belongs to another session.
func (s *DocumentStore) Remove(ctx context.Context, sessionID, docID string) (bool, error) {
	s.mu.RLock()
	doc, ok := s.docs[docID]
	s.mu.RUnlock()
	if !ok || doc.SessionID != sessionID {
		return false, nil
	}

	if s.db != nil {
		err := s.db.DeleteDocument(ctx, sessionID, docID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return false, fmt.Errorf("delete document %s: %w", docID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docID)
	ids := s.sessions[sessionID]
	for i, id := range ids {
		if id == docID {
			s.sessions[sessionID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(s.sessions[sessionID]) == 0 {
		delete(s.sessions, sessionID)
	}
	return true, nil
}

func (s *DocumentStore) Get(docID string) (types.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docID]
	if !ok {
		return types.Document{}, false
	}
	return *doc, true
}

func (s *DocumentStore) Exists(docID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[docID]
	return ok
}

// SessionDocuments returns the session's documents in insertion order. An
// unknown session yields an empty slice.
func (s *DocumentStore) SessionDocuments(sessionID string) []types.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sessions[sessionID]
	out := make([]types.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.docs[id])
	}
	return out
}

// Sessions lists sessions that own at least one document.
func (s *DocumentStore) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasSession reports whether the session owns at least one document.
func (s *DocumentStore) HasSession(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID]) > 0
}

func (s *DocumentStore) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *DocumentStore) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
