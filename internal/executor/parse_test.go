package executor

import (
	"testing"

	"github.com/fluxhive/squads/internal/backend"
)

// TestParseOutputScenarioS6 matches spec §8 scenario S6 exactly.
func TestParseOutputScenarioS6(t *testing.T) {
	cases := []struct {
		name   string
		stdout string
		want   string
	}{
		{"nested json result string", `{"result":"{\"x\":1}"}`, `{"x":1}`},
		{"embedded object in noise", `garbage{"y":2}tail`, `{"y":2}`},
		{"plain text passthrough", `hello`, `hello`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseOutput(tc.stdout); got != tc.want {
				t.Errorf("ParseOutput(%q) = %q, want %q", tc.stdout, got, tc.want)
			}
		})
	}
}

func TestParseOutputResponseField(t *testing.T) {
	got := ParseOutput(`{"response":"{\"ok\":true}"}`)
	if got != `{"ok":true}` {
		t.Errorf("got %q", got)
	}
}

func TestParseOutputWhitespaceTrim(t *testing.T) {
	got := ParseOutput("  hello world  \n")
	if got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestClassifyAbortedWinsOverExitCode(t *testing.T) {
	outcome := Classify(backend.Result{ExitCode: 1, Stderr: "boom"}, true)
	if outcome.Status != StatusCancelled {
		t.Fatalf("status = %v, want cancelled", outcome.Status)
	}
}

func TestClassifyNonZeroExitIsFailed(t *testing.T) {
	outcome := Classify(backend.Result{ExitCode: 2, Stderr: "boom"}, false)
	if outcome.Status != StatusFailed || outcome.Err == nil || outcome.Err.Error() != "boom" {
		t.Fatalf("got %#v", outcome)
	}
}

func TestClassifySuccessParsesOutput(t *testing.T) {
	outcome := Classify(backend.Result{ExitCode: 0, Stdout: `{"result":"{\"x\":1}"}`}, false)
	if outcome.Status != StatusDone || outcome.Output != `{"x":1}` {
		t.Fatalf("got %#v", outcome)
	}
}

func TestMaterializePromptPrefersRendered(t *testing.T) {
	p := Packet{}
	p.Prompt.Rendered = "use this"
	p.Prompt.Template = "ignored"
	if got := MaterializePrompt(p, "task block"); got != "use this" {
		t.Errorf("got %q", got)
	}
}

func TestMaterializePromptConcatenatesFallback(t *testing.T) {
	p := Packet{}
	p.Prompt.Template = "template"
	p.Prompt.Vars = "vars"
	p.Prompt.Context = "context"
	got := MaterializePrompt(p, "task")
	want := "template\nvars\ncontext\ntask"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
