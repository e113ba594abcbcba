// Package chunker splits extracted document text into overlapping passages.
//
// Text is normalized, split into sentences on '.', '!' and '?', and the
// sentences are packed greedily into passages of at most chunkSize
// characters. A sentence longer than chunkSize becomes its own passage; it is
// never cut. Every passage after the first is prefixed with the tail of the
// preceding packed passage.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

var (
	spaceRe     = regexp.MustCompile(`[\s\v\p{Z}]+`)
	newlineRe   = regexp.MustCompile(`\n+`)
	sentenceEnd = regexp.MustCompile(`[.!?]+`)
)

type Chunker struct {
	chunkSize int
	overlap   int
}

type Option func(*Chunker)

// WithChunkSize sets the soft passage size in characters. Non-positive values are ignored.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets how many trailing characters of the previous passage are
// prepended to the next one. Zero or less disables overlap.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chunker) ChunkSize() int { return c.chunkSize }
func (c *Chunker) Overlap() int   { return c.overlap }

// Chunk returns the overlapped passages for text, in document order.
func (c *Chunker) Chunk(text string) []string {
	packed := c.Pack(text)
	return ApplyOverlap(packed, c.overlap)
}

// Pack returns the passages before the overlap pass.
func (c *Chunker) Pack(text string) []string {
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var (
		chunks  []string
		current strings.Builder
		curLen  int
	)
	for _, sentence := range sentences {
		sLen := utf8.RuneCountInString(sentence)
		if curLen+sLen+1 <= c.chunkSize {
			current.WriteString(sentence)
			current.WriteString(". ")
			curLen += sLen + 2
			continue
		}
		if curLen > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
		}
		current.Reset()
		current.WriteString(sentence)
		current.WriteString(". ")
		curLen = sLen + 2
	}
	if curLen > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

// Normalize collapses whitespace runs to a single space and newline runs to a
// single newline.
func Normalize(text string) string {
	text = spaceRe.ReplaceAllString(text, " ")
	return newlineRe.ReplaceAllString(text, "\n")
}

// Sentences normalizes text and returns its trimmed, non-empty sentences.
func Sentences(text string) []string {
	parts := sentenceEnd.Split(Normalize(text), -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// ApplyOverlap prefixes every passage after the first with the last overlap
// characters of the previous raw passage, separated by a space.
func ApplyOverlap(chunks []string, overlap int) []string {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]string, len(chunks))
	for i, chunk := range chunks {
		if i == 0 || overlap <= 0 {
			out[i] = chunk
			continue
		}
		out[i] = Tail(chunks[i-1], overlap) + " " + chunk
	}
	return out
}

// Tail returns the last n characters of s, or s when it is shorter.
func Tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
