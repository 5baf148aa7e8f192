package localdb

import (
	"regexp"
	"strings"
)

var (
	compactIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)
	dashedIDPattern  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// NormalizeID accepts a 32-hex-character or canonical dashed UUID and
// returns the lowercase dashed form. Anything else is rejected. Only
// normalized IDs may reach SQL.
func NormalizeID(raw string) (string, bool) {
	id := strings.TrimSpace(raw)
	switch {
	case dashedIDPattern.MatchString(id):
		return strings.ToLower(id), true
	case compactIDPattern.MatchString(id):
		id = strings.ToLower(id)
		return id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:32], true
	default:
		return "", false
	}
}

// CompactID strips the dashes from a normalized ID, the form Notion uses in
// public URLs.
func CompactID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}
