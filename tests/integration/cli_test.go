package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	projectRoot, err := FindProjectRoot()
	if err != nil {
		buildErr = err
		os.Exit(1)
	}

	tmpDir, err := os.MkdirTemp("", "receiptctl-test-*")
	if err != nil {
		buildErr = err
		os.Exit(1)
	}
	receiptctlBin = filepath.Join(tmpDir, "receiptctl")

	cmd := exec.Command("go", "build", "-o", receiptctlBin, "./cmd/receiptctl")
	cmd.Dir = projectRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		buildErr = &BuildError{Err: err, Output: string(output)}
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// createNormal creates a receipt as owner-1 and approves it as wh-1.
func createNormal(t *testing.T, env *TestEnv, qty, price string) Receipt {
	t.Helper()
	out := env.MustRun("owner-1", "receipt", "create", "--json",
		"--owner", "owner-1", "--warehouse", "wh-1",
		"--goods", "Copper cathode", "--unit", "t",
		"--quantity", qty, "--unit-price", price, "--location", "A-01")
	r := ParseJSON[Receipt](t, out.Stdout)
	require.Equal(t, "DRAFT", r.Status)

	res := ParseJSON[Result](t, env.MustRun("wh-1", "receipt", "approve", r.ID, "--json").Stdout)
	require.Equal(t, "NORMAL", res.Status)
	require.True(t, res.Synced)
	require.NotEmpty(t, res.TxRef)

	return ParseJSON[Receipt](t, env.MustRun("", "receipt", "get", r.ID, "--json").Stdout)
}

func TestInit(t *testing.T) {
	env := NewTestEnv(t)

	result := env.MustRun("", "init")
	assert.Contains(t, result.Stdout, "receipts initialized")

	_, err := os.Stat(env.DataDir)
	assert.NoError(t, err, "data directory should exist after init")
}

func TestInit_RequiresUnfreezePolicy(t *testing.T) {
	env := NewTestEnv(t)
	cfg := filepath.Join(env.Config, "config.yaml")
	data, err := os.ReadFile(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg, []byte(strings.Replace(string(data), "unfreeze_policy: admin\n", "", 1)), 0o644))

	result := env.Run("", "init")
	assert.Equal(t, 2, result.ExitCode)
	assert.Contains(t, result.Stderr, "unfreeze_policy")

	env.MustRun("", "init", "--unfreeze-policy", "freezer")
	data, err = os.ReadFile(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unfreeze_policy: freezer")
}

func TestReceiptLifecycle(t *testing.T) {
	env := NewTestEnv(t)
	env.MustRun("", "init")

	r := createNormal(t, env, "100", "10")
	assert.Equal(t, "NORMAL", r.Status)
	assert.Equal(t, "SYNCED", r.Ledger.Sync)
	assert.Equal(t, "1000", r.Goods.TotalValue)

	byNumber := ParseJSON[Receipt](t, env.MustRun("", "receipt", "get", r.Number, "--json").Stdout)
	assert.Equal(t, r.ID, byNumber.ID)

	list := ParseJSON[[]Receipt](t, env.MustRun("", "receipt", "list", "--status", "normal", "--json").Stdout)
	require.Len(t, list, 1)

	trail := ParseJSON[[]AuditEntry](t, env.MustRun("", "audit", "trail", r.ID, "--json").Stdout)
	var reachedNormal bool
	for _, e := range trail {
		if e.To == "NORMAL" {
			reachedNormal = true
		}
	}
	assert.True(t, reachedNormal, "audit trail should record the move to NORMAL")
}

func TestSplitThroughCLI(t *testing.T) {
	env := NewTestEnv(t)
	env.MustRun("", "init")
	r := createNormal(t, env, "100", "10")

	plan := env.WriteFile("plan.yaml", `children:
  - quantity: "60"
    unit_price: "10"
    location: A-01
  - quantity: "40"
    unit_price: "10"
    location: A-02
`)
	submitted := ParseJSON[Result](t, env.MustRun("owner-1", "split", "submit", r.ID, "--plan", plan, "--json").Stdout)
	require.NotEmpty(t, submitted.ApplicationID)
	assert.Equal(t, "PENDING", submitted.ApplicationStatus)

	denied := env.Run("owner-2", "split", "review", submitted.ApplicationID)
	assert.Equal(t, 1, denied.ExitCode)

	res := ParseJSON[Result](t, env.MustRun("wh-1", "split", "review", submitted.ApplicationID, "--json").Stdout)
	assert.Equal(t, "SPLIT", res.Status)
	assert.Equal(t, "APPROVED", res.ApplicationStatus)
	require.Len(t, res.ChildIDs, 2)

	child := ParseJSON[Receipt](t, env.MustRun("", "receipt", "get", res.ChildIDs[0], "--json").Stdout)
	assert.Equal(t, "NORMAL", child.Status)
	assert.Equal(t, r.ID, child.ParentID)
}

func TestMergeThroughCLI(t *testing.T) {
	env := NewTestEnv(t)
	env.MustRun("", "init")
	a := createNormal(t, env, "10", "5")
	b := createNormal(t, env, "20", "5")

	submitted := ParseJSON[Result](t, env.MustRun("owner-1", "merge", "submit", a.ID, b.ID, "--location", "B-01", "--json").Stdout)
	res := ParseJSON[Result](t, env.MustRun("wh-1", "merge", "review", submitted.ApplicationID, "--json").Stdout)
	require.NotEmpty(t, res.MergedID)

	merged := ParseJSON[Receipt](t, env.MustRun("", "receipt", "get", res.MergedID, "--json").Stdout)
	assert.Equal(t, "NORMAL", merged.Status)
	assert.Equal(t, "30", merged.Goods.Quantity)
}

func TestFreezeAndUnfreezeThroughCLI(t *testing.T) {
	env := NewTestEnv(t)
	env.MustRun("", "init")
	r := createNormal(t, env, "10", "5")

	res := ParseJSON[Result](t, env.MustRun("admin", "freeze", r.ID,
		"--operator", "platform", "--reason", "dispute", "--json").Stdout)
	assert.Equal(t, "FROZEN", res.Status)

	denied := env.Run("owner-1", "unfreeze", r.ID)
	assert.Equal(t, 1, denied.ExitCode)

	res = ParseJSON[Result](t, env.MustRun("admin", "unfreeze", r.ID, "--json").Stdout)
	assert.Equal(t, "NORMAL", res.Status)
}

func TestErrorsMapToExitCodes(t *testing.T) {
	env := NewTestEnv(t)
	env.MustRun("", "init")

	tests := []struct {
		name  string
		actor string
		args  []string
		want  int
	}{
		{"missing actor", "", []string{"receipt", "approve", "nope"}, 1},
		{"unknown receipt", "wh-1", []string{"receipt", "approve", "nope"}, 1},
		{"unknown party", "owner-1", []string{"pledge", "nope", "--financier", "ghost"}, 1},
		{"bad quantity", "owner-1", []string{"receipt", "create", "--owner", "owner-1", "--warehouse", "wh-1",
			"--goods", "g", "--unit", "t", "--quantity", "lots", "--unit-price", "1", "--location", "A"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := env.Run(tt.actor, tt.args...)
			assert.Equal(t, tt.want, result.ExitCode, "stderr: %s", result.Stderr)
		})
	}
}
