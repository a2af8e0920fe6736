package executor

import (
	"encoding/json"
	"strings"

	"github.com/fluxhive/squads/internal/backend"
)

// ParseOutput recovers a CLI backend's output string from raw stdout,
// matching spec §4.8/§8 scenario S6 exactly:
//
//  1. json.Unmarshal the whole of stdout; if it yields an object with a
//     "result" or "response" string field that is itself valid JSON,
//     return that inner string.
//  2. If the outer parse fails, scan for the first `{...}` substring that
//     itself parses as JSON, and return it (re-marshaled to canonical
//     form is not attempted — the original substring is returned as-is).
//  3. Otherwise return stdout, trimmed.
func ParseOutput(stdout string) string {
	trimmed := strings.TrimSpace(stdout)

	var envelope struct {
		Result   *string `json:"result"`
		Response *string `json:"response"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err == nil {
		inner := envelope.Result
		if inner == nil {
			inner = envelope.Response
		}
		if inner != nil && json.Valid([]byte(*inner)) {
			return *inner
		}
	}

	if sub, ok := firstParsableObject(trimmed); ok {
		return sub
	}

	return trimmed
}

// firstParsableObject scans s for the first `{` and, scanning forward,
// the shortest-growing `{...}` substring starting there that parses as
// valid JSON. This recovers a JSON object embedded in noisy stdout, e.g.
// "garbage{\"y\":2}tail" -> `{"y":2}`.
func firstParsableObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	for end := start + 1; end <= len(s); end++ {
		if s[end-1] != '}' {
			continue
		}
		candidate := s[start:end]
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

// Classify maps a raw subprocess outcome to the terminal Status per
// §4.8: aborted wins over exit code, then non-zero exit is failed, else
// done with the parsed output.
func Classify(result backend.Result, aborted bool) Outcome {
	if aborted {
		return Outcome{Status: StatusCancelled, Output: "Cancelled by user request"}
	}
	if result.ExitCode != 0 {
		msg := result.Stderr
		if msg == "" {
			msg = result.Stdout
		}
		return Outcome{Status: StatusFailed, Err: errString(msg)}
	}
	return Outcome{Status: StatusDone, Output: ParseOutput(result.Stdout)}
}

type errString string

func (e errString) Error() string { return string(e) }
