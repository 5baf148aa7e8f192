// Package truncate bounds journal payloads to a fixed byte limit and
// reports their size in model tokens.
package truncate

import "unicode/utf8"

// DefaultMaxBytes is the default response cap for stored journal records.
const DefaultMaxBytes = 64 * 1024

const truncationMarker = "...[truncated]"

// Result describes one truncation pass.
type Result struct {
	Text          string `json:"text"`
	Truncated     bool   `json:"truncated"`
	OriginalBytes int    `json:"original_bytes"`
	Tokens        int    `json:"tokens,omitempty"`
}

// Truncator caps text at a byte limit, cutting on a rune boundary, and
// counts tokens on whatever ends up stored.
type Truncator struct {
	maxBytes int
	counter  *Counter
}

// New creates a truncator. A non-positive limit selects DefaultMaxBytes;
// counter may be nil to skip token counting.
func New(maxBytes int, counter *Counter) *Truncator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Truncator{maxBytes: maxBytes, counter: counter}
}

// MaxBytes returns the configured cap.
func (t *Truncator) MaxBytes() int {
	return t.maxBytes
}

// Truncate caps text at the byte limit. The marker is appended after the
// cut, so stored text can slightly exceed the limit by the marker length.
func (t *Truncator) Truncate(text string) Result {
	result := Result{
		Text:          text,
		OriginalBytes: len(text),
	}
	if len(text) > t.maxBytes {
		cut := t.maxBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		result.Text = text[:cut] + truncationMarker
		result.Truncated = true
	}
	result.Tokens = t.counter.Count(result.Text)
	return result
}
