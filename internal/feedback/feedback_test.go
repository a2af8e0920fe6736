package feedback

import (
	"strings"
	"testing"
)

func TestCommentBodyWithOutput(t *testing.T) {
	got := CommentBody("Fix the bug", "t1", "todo", "done", "ev1", "all good")
	want := "Squads status update\n" +
		"- Task: Fix the bug\n" +
		"- Transition: todo -> done\n" +
		"- Feedback event: ev1\n\n" +
		"Output:\n```text\n" +
		"all good\n" +
		"```"
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestCommentBodyNoOutputOmitsBlock(t *testing.T) {
	got := CommentBody("", "t1", "", "failed", "ev1", "")
	if strings.Contains(got, "Output:") {
		t.Fatalf("expected no Output block for empty output, got:\n%s", got)
	}
	if !strings.Contains(got, "- Task: t1") {
		t.Fatalf("expected fallback to taskId when goal is empty, got:\n%s", got)
	}
	if !strings.Contains(got, "unknown -> failed") {
		t.Fatalf("expected fromStatus fallback to \"unknown\", got:\n%s", got)
	}
}

func TestCommentBodyTailTruncatesAt1500(t *testing.T) {
	long := strings.Repeat("x", 2000)
	got := CommentBody("g", "t1", "a", "b", "ev1", long)
	lines := strings.Split(got, "\n")
	var body string
	for i, l := range lines {
		if l == "```text" {
			body = lines[i+1]
			break
		}
	}
	if len(body) != 1503 || !strings.HasSuffix(body, "...") {
		t.Fatalf("truncated body length = %d, suffix check failed; body=%q", len(body), body)
	}
}

func TestParseOwnerRepo(t *testing.T) {
	repo, ok := parseOwnerRepo("acme/widgets")
	if !ok || repo.Owner != "acme" || repo.Repo != "widgets" {
		t.Fatalf("got %#v, %v", repo, ok)
	}
	if _, ok := parseOwnerRepo("nothingtosplit"); ok {
		t.Fatalf("expected failure to parse a resourceId without a slash")
	}
}
