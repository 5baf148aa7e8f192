package truncate

import (
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tiktoken encoding used for token counts. Counts for
// non-OpenAI models are approximations, which is fine for journal metadata.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens with a tiktoken encoding. A nil Counter counts
// everything as zero.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter loads the default encoding. Loading can fail when the encoding
// data is not available; callers treat that as counting disabled.
func NewCounter() (*Counter, error) {
	return NewCounterForEncoding(DefaultEncoding)
}

// NewCounterForEncoding loads a specific tiktoken encoding.
func NewCounterForEncoding(encoding string) (*Counter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", encoding, err)
	}
	return &Counter{enc: enc}, nil
}

// Count returns the number of tokens in text, or zero on a nil Counter.
func (c *Counter) Count(text string) int {
	if c == nil || c.enc == nil {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}
