package wsagent

import "strings"

// aliasTable pairs upstream tool names with the client-facing name a tool
// call should be re-materialized as, when no exact or case-insensitive
// match is found (§4.10 Tool-name mapping).
var aliasTable = map[string]string{
	"ripgrep":            "grep",
	"grep":               "ripgrep",
	"write":              "create_file",
	"create_file":        "write",
	"run_command":        "bash",
	"bash":               "run_command",
	"execute_command":    "run_command",
	"str-replace-editor": "edit",
	"edit":               "str-replace-editor",
}

// MapToolName resolves an upstream tool name to the name the requesting
// client knows it by: exact match, then case-insensitive, then last dotted
// segment, then the fixed alias table, then input-schema property overlap,
// finally falling back to the raw upstream name.
func MapToolName(upstream string, clientTools []ClientTool) string {
	if len(clientTools) == 0 {
		return upstream
	}
	normalized := normalizeToolName(upstream)

	for _, t := range clientTools {
		if t.Name == upstream {
			return t.Name
		}
	}
	for _, t := range clientTools {
		if strings.EqualFold(t.Name, upstream) {
			return t.Name
		}
	}
	for _, t := range clientTools {
		if strings.EqualFold(lastSegment(t.Name), normalized) {
			return t.Name
		}
	}
	if alias, ok := aliasTable[normalized]; ok {
		for _, t := range clientTools {
			if strings.EqualFold(t.Name, alias) {
				return t.Name
			}
		}
	}
	if best := matchByPropertyOverlap(normalized, clientTools); best != "" {
		return best
	}
	return upstream
}

func normalizeToolName(name string) string {
	return strings.ToLower(lastSegment(name))
}

func lastSegment(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// matchByPropertyOverlap picks the client tool whose declared input schema
// shares the most property names with the upstream tool's known shape hint
// (keyed by normalized upstream name in toolPropertyHints); used only when
// every simpler heuristic has failed.
func matchByPropertyOverlap(normalized string, clientTools []ClientTool) string {
	hint, ok := toolPropertyHints[normalized]
	if !ok {
		return ""
	}
	bestName := ""
	bestScore := 0
	for _, t := range clientTools {
		props, _ := t.InputSchema["properties"].(map[string]any)
		score := 0
		for key := range hint {
			if _, exists := props[key]; exists {
				score++
			}
		}
		if score > bestScore {
			bestScore, bestName = score, t.Name
		}
	}
	if bestScore == 0 {
		return ""
	}
	return bestName
}

// toolPropertyHints describes the canonical input-schema shape of the
// built-in FS operations, used only as a last-resort matching signal.
var toolPropertyHints = map[string]map[string]struct{}{
	"read":        {"path": {}},
	"write":       {"path": {}, "content": {}},
	"delete":      {"path": {}},
	"list":        {"path": {}},
	"glob":        {"pattern": {}},
	"grep":        {"pattern": {}, "path": {}},
	"run_command": {"command": {}},
}
