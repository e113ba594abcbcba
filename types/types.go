package types

import (
	"time"
)

// Role of a conversation turn author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Metadata is what the extractor could read from the PDF itself.
type Metadata struct {
	Pages   int    `json:"pages"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Subject string `json:"subject"`
}

// Chunk is one passage of a document. Chunks are immutable once created.
type Chunk struct {
	DocID     string
	Index     int // 0-based, contiguous within the document
	Content   string
	Embedding []float32
}

type Document struct {
	ID         string    // md5 of filename, upload time and session
	Filename   string    // display name, used for provenance
	SessionID  string    // owning session
	Chunks     []Chunk   // ordered by Index
	Metadata   Metadata  // extraction metadata
	UploadTime time.Time // set when the document is accepted
}

// Texts returns passage texts in ordinal order.
func (d *Document) Texts() []string {
	texts := make([]string, len(d.Chunks))
	for i, ch := range d.Chunks {
		texts[i] = ch.Content
	}
	return texts
}

// Turn is a single message in a session conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []string  `json:"sources"`
}

// Passage is a retrieval hit mapped back to its text and provenance.
type Passage struct {
	Text       string
	Distance   float32
	DocID      string
	DocName    string
	ChunkIndex int
}
