package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-ledger/contract"
	"github.com/warp/rent-ledger/ledger"
)

const testContract = `{
  "id": "C-7",
  "tenant_id": "tenant",
  "landlord_id": "owner",
  "agency_id": "agency",
  "monthly_rent": "500.00",
  "commission_rate": "0.10",
  "start": "2025-01-01",
  "months": 3
}`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "rentledger.toml")
	cfg := "[database]\ndriver = \"sqlite3\"\ndsn = \"" + filepath.Join(dir, "ledger.db") + "\"\n\n[log]\nlevel = \"error\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAccrueStatementReset(t *testing.T) {
	// GIVEN: A config pointing at a fresh SQLite file
	// WHEN: A contract is accrued twice, a statement printed, then the ledger reset
	// THEN: The second accrual skips, the statement lists every month, reset empties it

	cfgPath := writeTestConfig(t)
	contractPath := filepath.Join(t.TempDir(), "contract.json")
	require.NoError(t, os.WriteFile(contractPath, []byte(testContract), 0o644))

	out, err := run(t, "accrue", "--config", cfgPath, "-f", contractPath)
	require.NoError(t, err, out)
	var res contract.AccrualResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Created, 3)

	out, err = run(t, "accrue", "--config", cfgPath, "-f", contractPath)
	require.NoError(t, err, out)
	res = contract.AccrualResult{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Empty(t, res.Created)
	assert.Len(t, res.Skipped, 3)

	out, err = run(t, "statement", "tenant", "--config", cfgPath, "--cutoff", "2025-02-28")
	require.NoError(t, err, out)
	var st ledger.Statement
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Len(t, st.Movements, 2)
	assert.True(t, st.Totals.TotalPending.Equal(ledger.Money("1000")))

	_, err = run(t, "reset", "--config", cfgPath)
	assert.Error(t, err)

	out, err = run(t, "reset", "--config", cfgPath, "--yes")
	require.NoError(t, err, out)
	assert.Contains(t, out, "ledger reset")

	out, err = run(t, "statement", "tenant", "--config", cfgPath, "--cutoff", "2025-12-31")
	require.NoError(t, err, out)
	st = ledger.Statement{}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Empty(t, st.Movements)
}

func TestStatement_RejectsBadCutoff(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := run(t, "statement", "tenant", "--config", cfgPath, "--cutoff", "June")
	assert.Error(t, err)
}

func TestAccrue_InvalidContract(t *testing.T) {
	cfgPath := writeTestConfig(t)
	contractPath := filepath.Join(t.TempDir(), "contract.json")
	require.NoError(t, os.WriteFile(contractPath, []byte(`{"id": "C-8", "months": 0}`), 0o644))

	_, err := run(t, "accrue", "--config", cfgPath, "-f", contractPath)
	assert.ErrorIs(t, err, contract.ErrInvalidContract)
}
