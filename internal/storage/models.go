package storage

import (
	"encoding/json"
	"time"
)

// Bucket names for the bbolt database
const (
	CallRecordsBucket = "call_records"
	MetaBucket        = "meta"
)

// Meta keys
const (
	SchemaVersionKey = "schema"
)

// Current schema version
const CurrentSchemaVersion = 1

// CallRecord is one routed tool call as the router observed it.
type CallRecord struct {
	ID                string                 `json:"id"`                           // Unique identifier (ULID format)
	Tool              string                 `json:"tool"`                         // Tool name the client called
	RouteMode         string                 `json:"route_mode"`                   // Route mode the call was dispatched under
	Backend           string                 `json:"backend,omitempty"`            // Backend that produced the returned result
	BoostTool         string                 `json:"boost_tool,omitempty"`         // Fast tool that satisfied a boosted read
	Arguments         map[string]interface{} `json:"arguments,omitempty"`          // Call arguments
	Response          string                 `json:"response,omitempty"`           // Response text (potentially truncated)
	ResponseTruncated bool                   `json:"response_truncated,omitempty"` // True if the response was truncated
	ResponseBytes     int                    `json:"response_bytes,omitempty"`     // Size of the full response before truncation
	ResponseTokens    int                    `json:"response_tokens,omitempty"`    // Token count of the stored response text
	Status            string                 `json:"status"`                       // "success" or "error"
	ErrorMessage      string                 `json:"error_message,omitempty"`      // Error details if status is "error"
	DurationMs        int64                  `json:"duration_ms,omitempty"`        // Call duration in milliseconds
	Timestamp         time.Time              `json:"timestamp"`                    // When the call happened
	Metadata          map[string]interface{} `json:"metadata,omitempty"`           // Additional context-specific data
}

// MarshalBinary implements encoding.BinaryMarshaler for bbolt storage
func (r *CallRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for bbolt storage
func (r *CallRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// Filter represents query parameters for listing call records
type Filter struct {
	Tool      string    // Filter by tool name
	Backend   string    // Filter by backend name
	Status    string    // Filter by status (success/error)
	StartTime time.Time // Calls after this time
	EndTime   time.Time // Calls before this time
	Limit     int       // Max records to return (default 50, max 100)
	Offset    int       // Pagination offset
}

// DefaultFilter returns a Filter with sensible defaults
func DefaultFilter() Filter {
	return Filter{
		Limit:  50,
		Offset: 0,
	}
}

// Validate normalizes the filter bounds
func (f *Filter) Validate() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches checks if a call record matches the filter criteria
func (f *Filter) Matches(record *CallRecord) bool {
	if f.Tool != "" && record.Tool != f.Tool {
		return false
	}
	if f.Backend != "" && record.Backend != f.Backend {
		return false
	}
	if f.Status != "" && record.Status != f.Status {
		return false
	}
	if !f.StartTime.IsZero() && record.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && record.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}
