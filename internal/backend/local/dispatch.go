package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"notionfast-go/internal/cachekey"
	"notionfast-go/internal/notionapi"
	"notionfast-go/internal/openapi"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// CallTool serves one allowlisted read. The stages run strictly in order
// with early return: response cache, desktop database, HTTP API. Stage
// failures in the first two never surface; the HTTP stage is authoritative
// and its errors come back as error results.
func (b *Backend) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	op, ok := b.registry.Resolve(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown tool: %s", name)), nil
	}
	if !openapi.IsReadOnly(op.ID) {
		return blockedResult(op.ID), nil
	}

	sanitized, forceRefresh := SplitControls(Rehydrate(args))

	key, err := b.cacheKey(op, sanitized)
	if err != nil {
		// Cyclic argument trees cannot come off the wire; treat as bad input.
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments for %s: %v", op.ID, err)), nil
	}

	if !forceRefresh {
		if b.cache != nil {
			if value, ok := b.cache.Get(key); ok {
				b.logger.Debug("Response cache hit", zap.String("operation", op.ID))
				return mcp.NewToolResultText(value), nil
			}
		}

		if store := b.store(); store != nil {
			if payload := store.Lookup(ctx, op.ID, sanitized); payload != nil {
				text, err := json.Marshal(payload)
				if err == nil {
					b.logger.Debug("Local app database hit", zap.String("operation", op.ID))
					if b.cache != nil {
						b.cache.Set(key, string(text))
					}
					return mcp.NewToolResultText(string(text)), nil
				}
				b.logger.Debug("Failed to serialize local app database payload",
					zap.String("operation", op.ID),
					zap.Error(err))
			}
		}
	}

	body, err := b.api.Call(ctx, op, sanitized)
	if err != nil {
		var apiErr *notionapi.APIError
		if errors.As(err, &apiErr) {
			return apiErrorResult(apiErr), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("notion api request failed: %v", err)), nil
	}

	if b.cache != nil {
		b.cache.Set(key, body)
		go func() {
			if err := b.cache.Save(); err != nil {
				b.logger.Debug("Failed to persist response cache", zap.Error(err))
			}
		}()
	}

	return mcp.NewToolResultText(body), nil
}

// cacheKey hashes the sanitized argument tree together with the credential
// fingerprint and base URL, so a token or endpoint change never replays
// another identity's responses.
func (b *Backend) cacheKey(op openapi.Operation, sanitized map[string]interface{}) (string, error) {
	fingerprint := cachekey.AuthFingerprint(b.api.AuthorizationHeader(), b.api.Version())
	keyed := cachekey.WithContext(sanitized, fingerprint, b.api.BaseURL())
	return cachekey.Build(cachekey.Operation{
		Method:      op.Method,
		Path:        op.Path,
		OperationID: op.ID,
	}, keyed)
}

// blockedResult is the structured refusal for operations that exist in the
// manifest but are not on the read-only allowlist.
func blockedResult(operationID string) *mcp.CallToolResult {
	payload, err := json.Marshal(map[string]interface{}{
		"error":     "READ_ONLY_OPERATION_BLOCKED",
		"operation": operationID,
		"message":   fmt.Sprintf("operation %s modifies data and is not served here; write operations go through the official backend", operationID),
	})
	if err != nil {
		return mcp.NewToolResultError("READ_ONLY_OPERATION_BLOCKED: " + operationID)
	}
	return mcp.NewToolResultError(string(payload))
}

// apiErrorResult mirrors the remote error document into an error result. The
// "status" field always reads "error", shadowing the numeric HTTP status the
// API reports inside its body. Errors are never cached.
func apiErrorResult(apiErr *notionapi.APIError) *mcp.CallToolResult {
	payload := map[string]interface{}{}
	switch data := apiErr.Data.(type) {
	case map[string]interface{}:
		for k, v := range data {
			payload[k] = v
		}
	case nil:
	default:
		payload["message"] = fmt.Sprintf("%v", data)
	}
	payload["status"] = "error"

	text, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(apiErr.Error())
	}
	return mcp.NewToolResultError(string(text))
}
