// Package openapi carries the embedded Notion API operations manifest and
// the read-only allowlist that decides which of those operations the local
// backend will list and serve.
package openapi

import (
	"embed"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

//go:embed manifest.json
var manifestFS embed.FS

// MaxToolNameLength is the longest tool name exposed over MCP. Longer
// operation ids are truncated and resolved back through the alias table.
const MaxToolNameLength = 64

// ambiguousAlias marks a truncated name shared by several operations. Such
// a name cannot be resolved. The NUL byte keeps it out of the id namespace.
const ambiguousAlias = "\x00ambiguous"

// readOnlyAllowlist is the single source of truth for which operations the
// local backend may execute, and with which HTTP method. Operations absent
// from this map are neither listed nor callable.
var readOnlyAllowlist = map[string]string{
	"get-self":                 http.MethodGet,
	"get-user":                 http.MethodGet,
	"get-users":                http.MethodGet,
	"retrieve-a-page":          http.MethodGet,
	"retrieve-a-page-property": http.MethodGet,
	"retrieve-a-block":         http.MethodGet,
	"get-block-children":       http.MethodGet,
	"retrieve-a-database":      http.MethodGet,
	"retrieve-a-data-source":   http.MethodGet,
	"retrieve-a-comment":       http.MethodGet,
	"post-database-query":      http.MethodPost,
	"post-search":              http.MethodPost,
}

// Parameter describes one input of an operation and where it travels in the
// HTTP request.
type Parameter struct {
	Name        string `json:"name"`
	In          string `json:"in"` // "path", "query" or "body"
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Operation describes one Notion API operation. The id doubles as the
// canonical MCP tool name.
type Operation struct {
	ID          string      `json:"id"`
	Method      string      `json:"method"`
	Path        string      `json:"path"`
	Summary     string      `json:"summary"`
	Description string      `json:"description,omitempty"`
	Parameters  []Parameter `json:"parameters"`
}

// ToolName returns the name this operation is exposed under, truncated to
// the MCP limit.
func (o Operation) ToolName() string {
	return TruncateName(o.ID)
}

type manifest struct {
	Name       string      `json:"name"`
	Version    string      `json:"version"`
	Operations []Operation `json:"operations"`
}

// Registry resolves tool names to operations and knows which of them are on
// the read-only allowlist.
type Registry struct {
	ops      map[string]Operation
	aliases  map[string]string
	readOnly []Operation
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the registry built from the embedded manifest.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		data, err := manifestFS.ReadFile("manifest.json")
		if err != nil {
			panic("embedded operations manifest missing: " + err.Error())
		}
		var m manifest
		if err := json.Unmarshal(data, &m); err != nil {
			panic("embedded operations manifest invalid: " + err.Error())
		}
		defaultRegistry = NewRegistry(m.Operations)
	})
	return defaultRegistry
}

// NewRegistry builds a registry over the given operations.
func NewRegistry(operations []Operation) *Registry {
	r := &Registry{
		ops:     make(map[string]Operation, len(operations)),
		aliases: make(map[string]string, len(operations)),
	}
	for _, op := range operations {
		r.ops[op.ID] = op
		if IsReadOnly(op.ID) {
			r.readOnly = append(r.readOnly, op)
		}

		alias := TruncateName(op.ID)
		if existing, ok := r.aliases[alias]; ok && existing != op.ID {
			r.aliases[alias] = ambiguousAlias
			continue
		}
		r.aliases[alias] = op.ID
	}
	sort.Slice(r.readOnly, func(i, j int) bool { return r.readOnly[i].ID < r.readOnly[j].ID })
	return r
}

// Resolve maps a tool name, canonical or truncated, to its operation. A
// truncated name shared by several operations does not resolve.
func (r *Registry) Resolve(name string) (Operation, bool) {
	if op, ok := r.ops[name]; ok {
		return op, true
	}
	id, ok := r.aliases[name]
	if !ok || id == ambiguousAlias {
		return Operation{}, false
	}
	op, ok := r.ops[id]
	return op, ok
}

// ReadOnly returns the allowlisted operations in stable id order. These are
// the tools the local backend lists.
func (r *Registry) ReadOnly() []Operation {
	out := make([]Operation, len(r.readOnly))
	copy(out, r.readOnly)
	return out
}

// All returns every operation in the manifest, allowlisted or not.
func (r *Registry) All() []Operation {
	out := make([]Operation, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsReadOnly reports whether the operation id is on the allowlist.
func IsReadOnly(operationID string) bool {
	_, ok := readOnlyAllowlist[operationID]
	return ok
}

// AllowedMethod returns the HTTP method the allowlist permits for the
// operation id.
func AllowedMethod(operationID string) (string, bool) {
	method, ok := readOnlyAllowlist[operationID]
	return method, ok
}

// TruncateName shortens a tool name to the MCP limit.
func TruncateName(name string) string {
	if len(name) <= MaxToolNameLength {
		return name
	}
	return name[:MaxToolNameLength]
}
