package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/fluxhive/squads/internal/config"
	"github.com/fluxhive/squads/internal/identity"
	"github.com/fluxhive/squads/internal/storeclient"
)

// diagnosticResult is one check's outcome: PASS, WARN, FAIL, or SKIP.
type diagnosticResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type diagnosticReport struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	System    struct {
		OS   string `json:"os"`
		Arch string `json:"arch"`
		Go   string `json:"go"`
	} `json:"system"`
	Results []diagnosticResult `json:"results"`
}

func runDoctor(ctx context.Context, cfg config.Config) diagnosticReport {
	var report diagnosticReport
	report.Timestamp = time.Now().UTC()
	report.Version = Version
	report.System.OS = runtime.GOOS
	report.System.Arch = runtime.GOARCH
	report.System.Go = runtime.Version()

	report.Results = append(report.Results, checkStateDir(cfg))
	report.Results = append(report.Results, checkIdentity(cfg))
	report.Results = append(report.Results, checkStoreConfigured(cfg))
	report.Results = append(report.Results, checkStoreReachable(ctx, cfg))
	report.Results = append(report.Results, checkBackendCLI("claude", cfg.ClaudeBin))
	report.Results = append(report.Results, checkBackendCLI("codex", codexBin()))
	return report
}

func checkStateDir(cfg config.Config) diagnosticResult {
	if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
		return diagnosticResult{Name: "state_dir", Status: "FAIL", Message: "not writable", Detail: err.Error()}
	}
	return diagnosticResult{Name: "state_dir", Status: "PASS", Message: cfg.StateDir}
}

func checkIdentity(cfg config.Config) diagnosticResult {
	device, err := identity.LoadOrCreateDevice(cfg.StateDir)
	if err != nil {
		return diagnosticResult{Name: "device_identity", Status: "FAIL", Message: "load/create failed", Detail: err.Error()}
	}
	deviceID, err := device.DeviceID()
	if err != nil {
		return diagnosticResult{Name: "device_identity", Status: "FAIL", Message: "derive device id failed", Detail: err.Error()}
	}
	return diagnosticResult{Name: "device_identity", Status: "PASS", Message: deviceID}
}

func checkStoreConfigured(cfg config.Config) diagnosticResult {
	if cfg.StoreURL == "" {
		return diagnosticResult{Name: "store_config", Status: "FAIL", Message: "CONVEX_URL / FLUX_HOST not set"}
	}
	return diagnosticResult{Name: "store_config", Status: "PASS", Message: cfg.StoreURL}
}

func checkStoreReachable(ctx context.Context, cfg config.Config) diagnosticResult {
	if cfg.StoreURL == "" {
		return diagnosticResult{Name: "store_reachable", Status: "SKIP", Message: "store not configured"}
	}
	store := storeclient.New(storeclient.Config{BaseURL: cfg.StoreURL, Token: cfg.StoreToken})
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := store.GetReadyTasks(reqCtx); err != nil {
		return diagnosticResult{Name: "store_reachable", Status: "FAIL", Message: "tasks.getReady failed", Detail: err.Error()}
	}
	return diagnosticResult{Name: "store_reachable", Status: "PASS", Message: "tasks.getReady ok"}
}

func checkBackendCLI(label, bin string) diagnosticResult {
	if bin == "" {
		return diagnosticResult{Name: "backend_" + label, Status: "SKIP", Message: "not configured"}
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return diagnosticResult{Name: "backend_" + label, Status: "WARN", Message: bin + " not on PATH"}
	}
	return diagnosticResult{Name: "backend_" + label, Status: "PASS", Message: path}
}

func runDoctorCommand(ctx context.Context, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
	}

	report := runDoctor(ctx, cfg)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "encode json: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("squadsd doctor report (%s)\n", report.Timestamp.Format(time.RFC3339))
	fmt.Printf("system: %s/%s (%s)\n", report.System.OS, report.System.Arch, report.System.Go)
	fmt.Println("---")

	failCount := 0
	for _, res := range report.Results {
		icon := "✅"
		switch res.Status {
		case "FAIL":
			icon = "❌"
			failCount++
		case "WARN":
			icon = "⚠️ "
		case "SKIP":
			icon = "⏩"
		}
		fmt.Printf("%s %-16s: %s\n", icon, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Printf("    %s\n", res.Detail)
		}
	}

	if failCount > 0 {
		return 1
	}
	return 0
}

func codexBin() string {
	if v := os.Getenv("CODEX_BIN"); v != "" {
		return v
	}
	return "codex"
}
