package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix identifies the key namespace and schema generation. Bumping the
// version invalidates every previously persisted entry.
const Prefix = "openapi-cache:v1"

// ContextKey is the reserved params sub-key callers use to inject request
// context (auth fingerprint, base URL) into the hashed document. A change to
// either value changes every key.
const ContextKey = "__mcpFastContext"

// Operation identifies an OpenAPI operation for keying purposes.
type Operation struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	OperationID string `json:"operation_id,omitempty"`
}

// Build produces the cache key for an operation and its parameter tree:
// "openapi-cache:v1:<METHOD>:<PATH>:<OP_ID|->:<hex-sha256>". The hash input
// is the canonical serialization of {operation, params}, so any two parameter
// trees that are structurally equal up to object key order produce the same
// key. The only error condition is a cyclic parameter tree.
func Build(op Operation, params map[string]interface{}) (string, error) {
	method := strings.ToUpper(op.Method)

	doc := map[string]interface{}{
		"operation": map[string]interface{}{
			"method":       method,
			"path":         op.Path,
			"operation_id": operationIDOrNil(op.OperationID),
		},
		"params": params,
	}

	canonical, err := Canonicalize(doc)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize cache key input: %w", err)
	}

	sum := sha256.Sum256([]byte(canonical))

	opID := op.OperationID
	if opID == "" {
		opID = "-"
	}

	return fmt.Sprintf("%s:%s:%s:%s:%s", Prefix, method, op.Path, opID, hex.EncodeToString(sum[:])), nil
}

// AuthFingerprint derives the short hash of the credential material injected
// into the params tree: sha256("<authorization>|<api-version>").
func AuthFingerprint(authorization, apiVersion string) string {
	sum := sha256.Sum256([]byte(authorization + "|" + apiVersion))
	return hex.EncodeToString(sum[:])
}

// WithContext returns a copy of params carrying the request context under the
// reserved sub-key. The input map is not mutated.
func WithContext(params map[string]interface{}, authFingerprint, baseURL string) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[ContextKey] = map[string]interface{}{
		"auth_fingerprint": authFingerprint,
		"base_url":         baseURL,
	}
	return out
}

func operationIDOrNil(opID string) interface{} {
	if opID == "" {
		return nil
	}
	return opID
}
