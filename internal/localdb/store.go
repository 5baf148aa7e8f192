// Package localdb answers a small set of read operations straight from the
// Notion desktop app's SQLite cache, skipping the network entirely. It is a
// best-effort fast path: every validation failure, missing row, or database
// problem is a silent miss and the caller falls through to the API.
package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// DefaultMaxPageSize caps a children page when the caller does not specify
// a smaller clamp.
const DefaultMaxPageSize = 100

// Store reads the desktop app's block table.
type Store struct {
	db          *sql.DB
	maxPageSize int
	logger      *zap.Logger
}

// Open opens the database read-only. The file must already exist and be
// readable; the desktop app owns it and this process never writes.
func Open(path string, maxPageSize int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("local app database not readable: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open local app database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("local app database not readable: %w", err)
	}

	return &Store{db: db, maxPageSize: maxPageSize, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup serves one of the whitelisted read operations from the local
// database. A nil return means miss; the method never fails. Unexpected
// database errors are logged and reported as a miss.
func (s *Store) Lookup(ctx context.Context, operationID string, args map[string]interface{}) map[string]interface{} {
	switch operationID {
	case "retrieve-a-page":
		return s.lookupPage(ctx, stringArg(args, "page_id"))
	case "retrieve-a-block":
		return s.lookupBlock(ctx, stringArg(args, "block_id"))
	case "get-block-children":
		return s.lookupChildren(ctx, args)
	default:
		return nil
	}
}

// blockRow mirrors the columns consumed from the desktop app's block table.
// Timestamps are Unix milliseconds.
type blockRow struct {
	ID             string
	Type           sql.NullString
	ParentTable    sql.NullString
	ParentID       sql.NullString
	SpaceID        sql.NullString
	CreatedTime    sql.NullInt64
	LastEditedTime sql.NullInt64
	Alive          sql.NullInt64
	Properties     sql.NullString
	Content        sql.NullString
	MetaLastAccess sql.NullInt64
}

const blockColumns = "id, type, parent_table, parent_id, space_id, created_time, last_edited_time, alive, properties, content, meta_last_access_timestamp"

func scanBlockRow(row *sql.Row) (*blockRow, error) {
	var r blockRow
	err := row.Scan(&r.ID, &r.Type, &r.ParentTable, &r.ParentID, &r.SpaceID,
		&r.CreatedTime, &r.LastEditedTime, &r.Alive, &r.Properties, &r.Content, &r.MetaLastAccess)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) lookupPage(ctx context.Context, rawID string) map[string]interface{} {
	id, ok := NormalizeID(rawID)
	if !ok {
		return nil
	}

	// Duplicated rows exist in practice; the most recently accessed one is
	// the live copy.
	query := "SELECT " + blockColumns + " FROM block WHERE id = ? AND type = 'page' ORDER BY meta_last_access_timestamp DESC LIMIT 1"
	row, err := scanBlockRow(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Debug("Local page lookup failed", zap.String("id", id), zap.Error(err))
		}
		return nil
	}

	return projectPage(row)
}

func (s *Store) lookupBlock(ctx context.Context, rawID string) map[string]interface{} {
	id, ok := NormalizeID(rawID)
	if !ok {
		return nil
	}

	query := "SELECT " + blockColumns + " FROM block WHERE id = ? LIMIT 1"
	row, err := scanBlockRow(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Debug("Local block lookup failed", zap.String("id", id), zap.Error(err))
		}
		return nil
	}

	return projectBlock(row)
}

func (s *Store) lookupChildren(ctx context.Context, args map[string]interface{}) map[string]interface{} {
	id, ok := NormalizeID(stringArg(args, "block_id"))
	if !ok {
		return nil
	}

	var content sql.NullString
	query := "SELECT content FROM block WHERE id = ? LIMIT 1"
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&content); err != nil {
		if err != sql.ErrNoRows {
			s.logger.Debug("Local children lookup failed", zap.String("id", id), zap.Error(err))
		}
		return nil
	}

	childIDs := parseContentIDs(content)
	if childIDs == nil {
		return nil
	}

	pageSize := clampPageSize(intArg(args, "page_size"), s.maxPageSize)

	start := 0
	if cursor := stringArg(args, "start_cursor"); cursor != "" {
		normalized, ok := NormalizeID(cursor)
		if !ok {
			return nil
		}
		pos := indexOf(childIDs, normalized)
		if pos < 0 {
			return nil
		}
		// The cursor is the last child of the previous page.
		start = pos + 1
	}

	end := start + pageSize
	if end > len(childIDs) {
		end = len(childIDs)
	}
	var window []string
	if start < len(childIDs) {
		window = childIDs[start:end]
	}
	hasMore := end < len(childIDs)

	results := make([]interface{}, 0, len(window))
	if len(window) > 0 {
		rows := s.fetchBlocks(ctx, window)
		if rows == nil {
			return nil
		}
		for _, childID := range window {
			row, ok := rows[childID]
			if !ok {
				// A missing child means the local copy is stale; do not
				// emit a partial page.
				return nil
			}
			projected := projectBlock(row)
			if projected == nil {
				return nil
			}
			results = append(results, projected)
		}
	}

	var nextCursor interface{}
	if hasMore && len(window) > 0 {
		nextCursor = window[len(window)-1]
	}

	return map[string]interface{}{
		"object":      "list",
		"results":     results,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
		"type":        "block",
		"block":       map[string]interface{}{},
	}
}

// fetchBlocks loads all requested children in one query. IDs were
// normalized by the caller, so they are safe to bind.
func (s *Store) fetchBlocks(ctx context.Context, ids []string) map[string]*blockRow {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := "SELECT " + blockColumns + " FROM block WHERE id IN (" + placeholders + ")"

	bind := make([]interface{}, len(ids))
	for i, id := range ids {
		bind[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, bind...)
	if err != nil {
		s.logger.Debug("Local children fetch failed", zap.Error(err))
		return nil
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*blockRow, len(ids))
	for rows.Next() {
		var r blockRow
		if err := rows.Scan(&r.ID, &r.Type, &r.ParentTable, &r.ParentID, &r.SpaceID,
			&r.CreatedTime, &r.LastEditedTime, &r.Alive, &r.Properties, &r.Content, &r.MetaLastAccess); err != nil {
			s.logger.Debug("Local children scan failed", zap.Error(err))
			return nil
		}
		out[r.ID] = &r
	}
	if err := rows.Err(); err != nil {
		s.logger.Debug("Local children iteration failed", zap.Error(err))
		return nil
	}
	return out
}

// parseContentIDs decodes the content column, a JSON array of child IDs.
func parseContentIDs(content sql.NullString) []string {
	if !content.Valid || content.String == "" {
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal([]byte(content.String), &raw); err != nil {
		return nil
	}
	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		str, ok := item.(string)
		if !ok {
			return nil
		}
		id, ok := NormalizeID(str)
		if !ok {
			return nil
		}
		ids = append(ids, id)
	}
	return ids
}

func clampPageSize(requested int, max int) int {
	if requested <= 0 {
		return max
	}
	if requested > max {
		return max
	}
	return requested
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

func stringArg(args map[string]interface{}, name string) string {
	if args == nil {
		return ""
	}
	value, _ := args[name].(string)
	return value
}

func intArg(args map[string]interface{}, name string) int {
	if args == nil {
		return 0
	}
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}
