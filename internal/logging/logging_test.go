package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_EmitsStructuredSchema(t *testing.T) {
	stateDir := t.TempDir()
	logger, closer, err := New(stateDir, "debug", true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer closer.Close()

	logger.Info("startup phase", "phase", "config_loaded", "task_id", "task-1")

	logPath := filepath.Join(stateDir, "logs", "daemon.jsonl")
	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["component"] != "squadsd" {
		t.Fatalf("expected component=squadsd, got %v", entry["component"])
	}
	if entry["phase"] != "config_loaded" {
		t.Fatalf("expected phase=config_loaded, got %v", entry["phase"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatal("expected timestamp field")
	}
}

func TestNew_RedactsSecretValues(t *testing.T) {
	stateDir := t.TempDir()
	logger, closer, err := New(stateDir, "info", true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer closer.Close()

	logger.Info("gateway call", "auth_token", "super-secret-value-123456")

	raw, err := os.ReadFile(filepath.Join(stateDir, "logs", "daemon.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(raw), "super-secret-value-123456") {
		t.Fatal("expected auth_token value to be redacted")
	}
	if !strings.Contains(string(raw), "[REDACTED]") {
		t.Fatal("expected redacted placeholder in log output")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"warn":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for input, want := range cases {
		if got := parseLevel(input).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}
