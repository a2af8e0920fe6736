package backend

import "testing"

func TestNormalizeAliases(t *testing.T) {
	cases := map[string]string{
		"openclaw":    ClaudeCLI,
		"claude":      ClaudeCLI,
		"claude-code": ClaudeCLI,
		"code":        ClaudeCLI,
		"codex":       CodexCLI,
		"codex-cli":   CodexCLI,
		"":            ClaudeCLI,
		"unknown-xyz": ClaudeCLI,
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveFallbackChain(t *testing.T) {
	if got := Resolve("codex", "claude", "claude-cli"); got != CodexCLI {
		t.Fatalf("execution backend should win: got %q", got)
	}
	if got := Resolve("", "codex", "claude-cli"); got != CodexCLI {
		t.Fatalf("prompt backend should win when execution unset: got %q", got)
	}
	if got := Resolve("", "", "codex-cli"); got != CodexCLI {
		t.Fatalf("runner default should win when both unset: got %q", got)
	}
	if got := Resolve("", "", ""); got != ClaudeCLI {
		t.Fatalf("final fallback should be claude-cli: got %q", got)
	}
}
