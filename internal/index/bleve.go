// Package index maintains an in-memory full-text index over the merged
// tool surface. It backs the tool-discovery meta tool with BM25-ranked
// matches and is rebuilt whenever the route table changes.
package index

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"go.uber.org/zap"
)

// DefaultSearchLimit bounds result counts when the caller does not say.
const DefaultSearchLimit = 5

// MaxSearchLimit is the hard ceiling on result counts.
const MaxSearchLimit = 20

// ToolDocument represents one exposed tool in the index.
type ToolDocument struct {
	ToolName    string `json:"tool_name"`
	Backend     string `json:"backend"`
	Description string `json:"description"`
	ParamsJSON  string `json:"params_json"`
}

// SearchResult is one scored match.
type SearchResult struct {
	ToolName    string  `json:"tool_name"`
	Backend     string  `json:"backend"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// Index wraps a memory-only Bleve index over the exposed tools.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	logger *zap.Logger
}

// New creates an empty index.
func New(logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx, err := newMemIndex()
	if err != nil {
		return nil, err
	}
	return &Index{index: idx, logger: logger}, nil
}

func newMemIndex() (bleve.Index, error) {
	indexMapping := bleve.NewIndexMapping()
	toolMapping := bleve.NewDocumentMapping()

	// Tool name field (keyword analyzer - exact match)
	toolNameField := bleve.NewTextFieldMapping()
	toolNameField.Analyzer = keyword.Name
	toolNameField.Store = true
	toolNameField.Index = true
	toolMapping.AddFieldMappingsAt("tool_name", toolNameField)

	// Backend field (keyword analyzer)
	backendField := bleve.NewTextFieldMapping()
	backendField.Analyzer = keyword.Name
	backendField.Store = true
	backendField.Index = true
	toolMapping.AddFieldMappingsAt("backend", backendField)

	// Description field (standard analyzer for full-text search)
	descriptionField := bleve.NewTextFieldMapping()
	descriptionField.Analyzer = standard.Name
	descriptionField.Store = true
	descriptionField.Index = true
	toolMapping.AddFieldMappingsAt("description", descriptionField)

	// Parameters JSON field (standard analyzer)
	paramsField := bleve.NewTextFieldMapping()
	paramsField.Analyzer = standard.Name
	paramsField.Store = true
	paramsField.Index = true
	toolMapping.AddFieldMappingsAt("params_json", paramsField)

	indexMapping.AddDocumentMapping("tool", toolMapping)
	indexMapping.DefaultMapping = toolMapping

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool index: %w", err)
	}
	return idx, nil
}

// Rebuild replaces the index contents with the given documents. The old
// index is swapped out atomically and closed.
func (ix *Index) Rebuild(docs []ToolDocument) error {
	fresh, err := newMemIndex()
	if err != nil {
		return err
	}

	batch := fresh.NewBatch()
	for i := range docs {
		doc := docs[i]
		if err := batch.Index(doc.ToolName, &doc); err != nil {
			fresh.Close()
			return fmt.Errorf("failed to index tool %s: %w", doc.ToolName, err)
		}
	}
	if err := fresh.Batch(batch); err != nil {
		fresh.Close()
		return fmt.Errorf("failed to apply index batch: %w", err)
	}

	ix.mu.Lock()
	old := ix.index
	ix.index = fresh
	ix.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			ix.logger.Warn("Failed to close replaced tool index", zap.Error(err))
		}
	}

	ix.logger.Debug("Rebuilt tool index", zap.Int("tools", len(docs)))
	return nil
}

// Search returns BM25-ranked matches for the query. Tool names are indexed
// as single keyword terms, so a prefix query on the name runs alongside the
// full-text match to catch partial names like "retrieve-a".
func (ix *Index) Search(query string, limit int) ([]SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	matchQuery := bleve.NewMatchQuery(query)
	prefixQuery := bleve.NewPrefixQuery(query)
	prefixQuery.SetField("tool_name")
	searchReq := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(matchQuery, prefixQuery))
	searchReq.Size = limit
	searchReq.Fields = []string{"tool_name", "backend", "description"}

	ix.mu.RLock()
	if ix.index == nil {
		ix.mu.RUnlock()
		return nil, fmt.Errorf("tool index is closed")
	}
	searchResult, err := ix.index.Search(searchReq)
	ix.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("tool search failed: %w", err)
	}

	var results []SearchResult
	for _, hit := range searchResult.Hits {
		results = append(results, SearchResult{
			ToolName:    getStringField(hit.Fields, "tool_name"),
			Backend:     getStringField(hit.Fields, "backend"),
			Description: getStringField(hit.Fields, "description"),
			Score:       hit.Score,
		})
	}
	return results, nil
}

// DocCount returns the number of indexed tools.
func (ix *Index) DocCount() (uint64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.index == nil {
		return 0, fmt.Errorf("tool index is closed")
	}
	return ix.index.DocCount()
}

// Close closes the underlying index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.index == nil {
		return nil
	}
	err := ix.index.Close()
	ix.index = nil
	return err
}

func getStringField(fields map[string]interface{}, fieldName string) string {
	if val, ok := fields[fieldName]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
