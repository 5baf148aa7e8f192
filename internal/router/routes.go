package router

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// RouteMode says which backend answers a tool and what happens when the
// preferred one cannot.
type RouteMode int

const (
	// ModeOfficial sends the call to the official backend only.
	ModeOfficial RouteMode = iota
	// ModeFastOnly sends the call to the fast backend only.
	ModeFastOnly
	// ModeOfficialWithFastBoost tries a fast equivalent under a different
	// tool name before falling back to the official backend.
	ModeOfficialWithFastBoost
	// ModeFastThenOfficialSameName tries the fast backend first and repeats
	// the call against the official backend when the fast answer is an
	// error or an empty read.
	ModeFastThenOfficialSameName
)

// String returns the wire name of the route mode
func (m RouteMode) String() string {
	switch m {
	case ModeOfficial:
		return "OFFICIAL"
	case ModeFastOnly:
		return "FAST_ONLY"
	case ModeOfficialWithFastBoost:
		return "OFFICIAL_WITH_FAST_BOOST"
	case ModeFastThenOfficialSameName:
		return "FAST_THEN_OFFICIAL_SAME_NAME"
	default:
		return "UNKNOWN"
	}
}

// route binds one exposed tool to its dispatch mode.
type route struct {
	tool mcp.Tool
	mode RouteMode
}

// routeTable is the immutable routing plan a call samples at entry. It is
// replaced wholesale when the tool surface changes, never mutated in place.
type routeTable struct {
	order  []string
	routes map[string]route
}

func newRouteTable() *routeTable {
	return &routeTable{routes: make(map[string]route)}
}

func (rt *routeTable) add(tool mcp.Tool, mode RouteMode) {
	if _, exists := rt.routes[tool.Name]; exists {
		return
	}
	rt.order = append(rt.order, tool.Name)
	rt.routes[tool.Name] = route{tool: tool, mode: mode}
}

func (rt *routeTable) get(name string) (route, bool) {
	r, ok := rt.routes[name]
	return r, ok
}

// tools returns the exposed tools in registration order.
func (rt *routeTable) tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(rt.order))
	for _, name := range rt.order {
		out = append(out, rt.routes[name].tool)
	}
	return out
}

func (rt *routeTable) len() int {
	return len(rt.order)
}

// namePrefixes are stripped once before any name classification. Clients of
// the hosted server see tools like "notion-search"; the manifest side uses
// bare operation ids.
var namePrefixes = []string{"notion-", "notion_", "notion:"}

// normalize lowercases a tool name and strips one leading vendor prefix.
func normalize(name string) string {
	n := strings.ToLower(name)
	for _, prefix := range namePrefixes {
		if strings.HasPrefix(n, prefix) {
			return strings.TrimPrefix(n, prefix)
		}
	}
	return n
}

// Verb heuristics used to classify tool names when only the fast backend is
// up. "post" is absent from the write list on purpose: the manifest names its
// search and query reads post-search and post-database-query.
var (
	readVerbs = []string{
		"get", "retrieve", "list", "search", "query",
		"fetch", "find", "read", "view",
	}
	writeVerbs = []string{
		"create", "update", "delete", "patch", "append",
		"move", "duplicate", "archive", "trash", "restore",
		"remove", "insert", "upload", "write",
	}
)

func matchesAnyVerb(name string, verbs []string) bool {
	for _, verb := range verbs {
		if strings.Contains(name, verb) {
			return true
		}
	}
	return false
}

// looksLikeRead reports whether a tool name matches a read verb.
func looksLikeRead(name string) bool {
	return matchesAnyVerb(normalize(name), readVerbs)
}

// looksLikeWrite reports whether a tool name matches a write verb.
func looksLikeWrite(name string) bool {
	return matchesAnyVerb(normalize(name), writeVerbs)
}

// boostableNames are official-only reads with a known fast equivalent.
var boostableNames = map[string]struct{}{
	"fetch":     {},
	"search":    {},
	"get-users": {},
}

func isBoostable(name string) bool {
	_, ok := boostableNames[normalize(name)]
	return ok
}

// buildRoutes derives the routing plan from the two discovered tool sets.
// When the official backend contributed tools they define the exposed
// surface; otherwise only read-looking fast tools are exposed.
func buildRoutes(official, fast []mcp.Tool) *routeTable {
	fastNames := make(map[string]struct{}, len(fast))
	for _, t := range fast {
		fastNames[t.Name] = struct{}{}
	}

	table := newRouteTable()

	if len(official) > 0 {
		for _, t := range official {
			mode := ModeOfficial
			_, onFast := fastNames[t.Name]
			switch {
			case onFast && looksLikeRead(t.Name) && !looksLikeWrite(t.Name):
				mode = ModeFastThenOfficialSameName
			case !onFast && isBoostable(t.Name):
				mode = ModeOfficialWithFastBoost
			}
			table.add(t, mode)
		}
		return table
	}

	for _, t := range fast {
		if looksLikeRead(t.Name) && !looksLikeWrite(t.Name) {
			table.add(t, ModeFastOnly)
		}
	}
	return table
}
