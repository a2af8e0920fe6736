// Package config loads daemon configuration from ~/.flux/config.json with
// environment-variable overrides, following the recognized environment
// variables of spec §6.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the daemon's effective configuration after file-load and
// env-override.
type Config struct {
	ConfigPath        string `json:"-"`
	StateDir          string `json:"stateDir"`
	RepoWorkspaceRoot string `json:"repoWorkspaceRoot"`
	GatewayURL        string `json:"gatewayUrl"`
	GatewayToken      string `json:"-"`

	StoreURL   string `json:"storeUrl"`   // CONVEX_URL / FLUX_HOST
	StoreToken string `json:"-"`          // FLUX_TOKEN
	OrgID      string `json:"orgId"`      // FLUX_ORG_ID
	Backend    string `json:"backend"`    // FLUX_BACKEND
	AllowDirectCLI bool `json:"allowDirectCli"`

	ClaudeBin string `json:"claudeBin"`
	NoColor   bool   `json:"-"`
	LogLevel  string `json:"logLevel"`

	MaxConcurrent      int `json:"maxConcurrent"`
	MaxPendingReview   int `json:"maxPendingReview"`
	AutoPauseAfterNFails int `json:"autoPauseAfterNFails"`
}

// HomeDir returns the user's home directory, or "." if it cannot be
// determined (matching the teacher's tolerant fallback).
func HomeDir() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	return "."
}

func defaultConfigPath() string {
	return filepath.Join(HomeDir(), ".flux", "config.json")
}

func defaultStateDir() string {
	return filepath.Join(HomeDir(), ".flux")
}

// Load reads config.json (if present) and then applies environment
// overrides; a missing file is not an error — defaults and env vars still
// apply.
func Load() (Config, error) {
	cfg := Config{
		ConfigPath:           defaultConfigPath(),
		StateDir:             defaultStateDir(),
		Backend:              "claude-cli",
		ClaudeBin:            "claude",
		LogLevel:             "info",
		MaxConcurrent:        4,
		MaxPendingReview:     5,
		AutoPauseAfterNFails: 5,
	}

	if path := os.Getenv("OPENCLAW_CONFIG_PATH"); path != "" {
		cfg.ConfigPath = path
	}

	if data, err := os.ReadFile(cfg.ConfigPath); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", cfg.ConfigPath, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read %s: %w", cfg.ConfigPath, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides layers the recognized environment variables over
// whatever config.json provided, env always winning.
func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("OPENCLAW_STATE_DIR", &cfg.StateDir)
	str("OPENCLAW_REPO_WORKSPACE_ROOT", &cfg.RepoWorkspaceRoot)
	str("OPENCLAW_GATEWAY_URL", &cfg.GatewayURL)
	str("OPENCLAW_GATEWAY_TOKEN", &cfg.GatewayToken)
	str("CLAUDE_BIN", &cfg.ClaudeBin)
	str("OPENCLAW_LOG_LEVEL", &cfg.LogLevel)
	str("FLUX_ORG_ID", &cfg.OrgID)
	str("FLUX_BACKEND", &cfg.Backend)

	if v := os.Getenv("CONVEX_URL"); v != "" {
		cfg.StoreURL = v
	}
	if v := os.Getenv("FLUX_HOST"); v != "" {
		cfg.StoreURL = v
	}
	str("FLUX_TOKEN", &cfg.StoreToken)

	if v := os.Getenv("FLUX_ALLOW_DIRECT_CLI"); v == "1" || v == "true" {
		cfg.AllowDirectCLI = true
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		cfg.NoColor = true
	}

	intVar := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	intVar("SQUAD_MAX_CONCURRENT", &cfg.MaxConcurrent)
	intVar("SQUAD_MAX_PENDING_REVIEW", &cfg.MaxPendingReview)
	intVar("SQUAD_AUTO_PAUSE_AFTER_N_FAILS", &cfg.AutoPauseAfterNFails)
}
