// Package integration runs the receiptctl binary end to end.
package integration

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

var (
	// receiptctlBin is the path to the built receiptctl binary.
	receiptctlBin string
	// buildErr captures any build error.
	buildErr error
)

// BuildError wraps a build error with output.
type BuildError struct {
	Err    error
	Output string
}

func (e *BuildError) Error() string {
	return e.Err.Error() + ": " + e.Output
}

// FindProjectRoot finds the project root by walking up and looking for go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

// Party addresses registered in every test environment.
const (
	OwnerAddr     = "0x1111111111111111111111111111111111111111"
	Owner2Addr    = "0x2222222222222222222222222222222222222222"
	WarehouseAddr = "0x3333333333333333333333333333333333333333"
	BankAddr      = "0x4444444444444444444444444444444444444444"
	AdminAddr     = "0x5555555555555555555555555555555555555555"
)

const testConfig = `backend: sqlite
data_dir: %DATA%
log:
  level: error
unfreeze_policy: admin
administrators: [admin]
parties:
  - id: owner-1
    address: "` + OwnerAddr + `"
  - id: owner-2
    address: "` + Owner2Addr + `"
  - id: wh-1
    address: "` + WarehouseAddr + `"
  - id: bank-1
    address: "` + BankAddr + `"
  - id: admin
    address: "` + AdminAddr + `"
`

// TestEnv provides an isolated environment with its own config and data
// directory.
type TestEnv struct {
	t       *testing.T
	TempDir string
	Config  string
	DataDir string
}

// NewTestEnv creates a new isolated test environment.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if buildErr != nil {
		t.Fatalf("failed to build receiptctl: %v", buildErr)
	}
	if receiptctlBin == "" {
		t.Fatal("receiptctl binary not built")
	}

	tempDir := t.TempDir()
	dataDir := filepath.Join(tempDir, "data")
	configDir := filepath.Join(tempDir, "config")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	content := bytes.ReplaceAll([]byte(testConfig), []byte("%DATA%"), []byte(dataDir))
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), content, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return &TestEnv{t: t, TempDir: tempDir, Config: configDir, DataDir: dataDir}
}

// CmdResult holds the result of a receiptctl invocation.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes receiptctl as actor with the given arguments. An empty
// actor omits the flag.
func (e *TestEnv) Run(actor string, args ...string) CmdResult {
	e.t.Helper()
	all := []string{"--config-dir", e.Config, "--data-dir", e.DataDir}
	if actor != "" {
		all = append(all, "--actor", actor)
	}
	cmd := exec.Command(receiptctlBin, append(all, args...)...)
	cmd.Env = append(os.Environ(), "RECEIPTS_ACTOR=")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			e.t.Fatalf("failed to run receiptctl: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return CmdResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}
}

// MustRun executes receiptctl and fails the test on a non-zero exit.
func (e *TestEnv) MustRun(actor string, args ...string) CmdResult {
	e.t.Helper()
	result := e.Run(actor, args...)
	if result.ExitCode != 0 {
		e.t.Fatalf("receiptctl %v failed with exit code %d:\nstdout: %s\nstderr: %s",
			args, result.ExitCode, result.Stdout, result.Stderr)
	}
	return result
}

// WriteFile writes a file under the environment's temp dir and returns its
// path.
func (e *TestEnv) WriteFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.TempDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// ParseJSON parses JSON output into the target type.
func ParseJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", s, err)
	}
	return v
}

// Receipt is the subset of receipt JSON the tests read.
type Receipt struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Status string `json:"status"`
	Ledger struct {
		Sync  string `json:"sync_status"`
		TxRef string `json:"tx_ref"`
	} `json:"ledger"`
	Goods struct {
		Quantity   string `json:"quantity"`
		TotalValue string `json:"total_value"`
	} `json:"goods"`
	ParentID string `json:"parent_id"`
}

// Result is the JSON shape of a mutating command's outcome.
type Result struct {
	ReceiptID         string   `json:"receipt_id"`
	Status            string   `json:"status"`
	TxRef             string   `json:"tx_ref"`
	ApplicationID     string   `json:"application_id"`
	ApplicationStatus string   `json:"application_status"`
	ChildIDs          []string `json:"child_ids"`
	MergedID          string   `json:"merged_id"`
	Synced            bool     `json:"synced"`
	FailedStep        string   `json:"failed_step"`
}

// AuditEntry is the subset of audit JSON the tests read.
type AuditEntry struct {
	Action string `json:"action"`
	Actor  string `json:"actor"`
	From   string `json:"from"`
	To     string `json:"to"`
}
