package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// TiktokenCounter counts prompt tokens with a BPE encoding. The encoding is
// loaded on first use.
type TiktokenCounter struct {
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTiktokenCounter(model string) *TiktokenCounter {
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return &TiktokenCounter{model: model}
}

func (c *TiktokenCounter) CountTokens(text string) (int, error) {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.EncodingForModel(c.model)
	})
	if c.err != nil {
		return 0, c.err
	}
	return len(c.enc.Encode(text, nil, nil)), nil
}
