package wsagent

import "testing"

func TestMapToolNameNoClientToolsReturnsUpstream(t *testing.T) {
	if got := MapToolName("grep", nil); got != "grep" {
		t.Errorf("MapToolName with no client tools = %q, want grep", got)
	}
}

func TestMapToolNameExactMatch(t *testing.T) {
	tools := []ClientTool{{Name: "grep"}, {Name: "read"}}
	if got := MapToolName("grep", tools); got != "grep" {
		t.Errorf("MapToolName = %q, want grep", got)
	}
}

func TestMapToolNameCaseInsensitiveMatch(t *testing.T) {
	tools := []ClientTool{{Name: "Grep"}}
	if got := MapToolName("grep", tools); got != "Grep" {
		t.Errorf("MapToolName = %q, want Grep", got)
	}
}

func TestMapToolNameDottedSegmentMatch(t *testing.T) {
	tools := []ClientTool{{Name: "grep"}}
	if got := MapToolName("tools.grep", tools); got != "grep" {
		t.Errorf("MapToolName = %q, want grep", got)
	}
}

func TestMapToolNameAliasTableMatch(t *testing.T) {
	tools := []ClientTool{{Name: "bash"}}
	if got := MapToolName("run_command", tools); got != "bash" {
		t.Errorf("MapToolName = %q, want bash (via alias table)", got)
	}
}

func TestMapToolNamePropertyOverlapFallback(t *testing.T) {
	tools := []ClientTool{
		{Name: "mystery_tool", InputSchema: map[string]any{"properties": map[string]any{"command": map[string]any{}}}},
	}
	if got := MapToolName("run_command", tools); got != "mystery_tool" {
		t.Errorf("MapToolName = %q, want mystery_tool via property overlap", got)
	}
}

func TestMapToolNameFallsBackToUpstreamName(t *testing.T) {
	tools := []ClientTool{{Name: "completely_unrelated"}}
	if got := MapToolName("some_unknown_op", tools); got != "some_unknown_op" {
		t.Errorf("MapToolName = %q, want the raw upstream name", got)
	}
}

func TestMapToolNamePrefersExactOverAlias(t *testing.T) {
	tools := []ClientTool{{Name: "run_command"}, {Name: "bash"}}
	if got := MapToolName("run_command", tools); got != "run_command" {
		t.Errorf("MapToolName = %q, want exact match run_command over alias bash", got)
	}
}
