// Package tokenizer counts tokens for context budgeting.
package tokenizer

import (
	"github.com/pkoukk/tiktoken-go"
)

// Counter implements ports.Tokenizer. It uses the tiktoken encoding for the
// configured model when one can be resolved and a length/4 heuristic
// otherwise, so budgeting keeps working without the BPE tables.
type Counter struct {
	encoding *tiktoken.Tiktoken
}

func New(model string) *Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	}
	return &Counter{encoding: enc}
}

func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if c.encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(c.encoding.Encode(text, nil, nil))
}
