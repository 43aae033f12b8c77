package conversation

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text against the memory budget.
type TokenCounter interface {
	Count(text string) int
}

// WordCounter counts whitespace-separated words.
type WordCounter struct{}

// Count implements TokenCounter.
func (WordCounter) Count(text string) int { return len(strings.Fields(text)) }

// TiktokenCounter counts BPE tokens the way the completion model does.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base". The
// encoding file is fetched and cached by tiktoken-go on first use.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
