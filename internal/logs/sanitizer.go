package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core to sanitize credential material from
// log output. The proxy handles a Notion integration token, an Authorization
// header, and OAuth access tokens from the remote backend; none of them may
// reach a log sink in the clear.
type SecretSanitizer struct {
	zapcore.Core
	patterns      []*secretPattern
	resolvedCache *sync.Map // Resolved secret values registered for masking
}

// secretPattern defines a pattern for detecting and masking secrets
type secretPattern struct {
	name     string
	regex    *regexp.Regexp
	maskFunc func(string) string
}

// NewSecretSanitizer creates a new sanitizing core that wraps the provided core
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	s := &SecretSanitizer{
		Core:          core,
		patterns:      make([]*secretPattern, 0),
		resolvedCache: &sync.Map{},
	}
	s.registerDefaultPatterns()
	return s
}

// registerDefaultPatterns registers patterns for the secret formats this
// process actually touches.
func (s *SecretSanitizer) registerDefaultPatterns() {
	// Notion integration tokens (ntn_..., legacy secret_...)
	s.patterns = append(s.patterns, &secretPattern{
		name:  "notion_token",
		regex: regexp.MustCompile(`\b((?:ntn|secret)_[A-Za-z0-9]{20,})\b`),
		maskFunc: func(token string) string {
			prefix, _, _ := strings.Cut(token, "_")
			if len(token) <= len(prefix)+5 {
				return prefix + "_****"
			}
			return prefix + "_" + token[len(prefix)+1:len(prefix)+4] + "***" + token[len(token)-2:]
		},
	})

	// Authorization header values
	s.patterns = append(s.patterns, &secretPattern{
		name:  "bearer_token",
		regex: regexp.MustCompile(`\b(Bearer\s+[A-Za-z0-9\-\._~\+\/]+=*)\b`),
		maskFunc: func(token string) string {
			parts := strings.SplitN(token, " ", 2)
			if len(parts) != 2 || len(parts[1]) <= 4 {
				return "Bearer ****"
			}
			return "Bearer " + parts[1][:4] + "***" + parts[1][len(parts[1])-2:]
		},
	})

	// OAuth access tokens in JWT form (eyJ...)
	s.patterns = append(s.patterns, &secretPattern{
		name:  "jwt",
		regex: regexp.MustCompile(`\b(eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+)\b`),
		maskFunc: func(jwt string) string {
			parts := strings.Split(jwt, ".")
			if len(parts) != 3 || len(parts[2]) < 4 {
				return "****"
			}
			// Keep the header, mask payload and most of the signature
			return parts[0] + ".***." + parts[2][len(parts[2])-4:]
		},
	})
}

// RegisterResolvedSecret registers a secret value resolved from the
// environment so it can be masked wherever it appears.
func (s *SecretSanitizer) RegisterResolvedSecret(value string) {
	if len(value) < 8 {
		return
	}
	s.resolvedCache.Store(value, true)
}

// sanitizeString applies all registered patterns to mask secrets
func (s *SecretSanitizer) sanitizeString(str string) string {
	result := str

	s.resolvedCache.Range(func(key, _ interface{}) bool {
		secretValue, ok := key.(string)
		if !ok || secretValue == "" {
			return true
		}
		result = strings.ReplaceAll(result, secretValue, maskValue(secretValue))
		return true
	})

	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllStringFunc(result, pattern.maskFunc)
	}

	return result
}

// Write sanitizes the entry before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitizeString(entry.Message)

	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}

	return s.Core.Write(entry, sanitizedFields)
}

// sanitizeField sanitizes a zap field
func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.sanitizeString(field.String)
	case zapcore.ByteStringType:
		if raw, ok := field.Interface.([]byte); ok {
			field.Interface = []byte(s.sanitizeString(string(raw)))
		}
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok {
			sanitized := s.sanitizeString(err.Error())
			if sanitized != err.Error() {
				field = zapcore.Field{
					Key:    field.Key,
					Type:   zapcore.StringType,
					String: sanitized,
				}
			}
		}
	}
	return field
}

// With creates a sanitizing child core
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}
	return &SecretSanitizer{
		Core:          s.Core.With(sanitizedFields),
		patterns:      s.patterns,
		resolvedCache: s.resolvedCache,
	}
}

// Check delegates to the wrapped core
func (s *SecretSanitizer) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

// maskValue masks a secret value showing first 3 and last 2 characters
func maskValue(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}
