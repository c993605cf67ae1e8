package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Asia/Manila", cfg.Timezone)
	assert.Equal(t, ApprovalPending, cfg.Rebate.Approval)
	assert.Equal(t, PrecedenceManual, cfg.Reconcile.Precedence)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.Interval)

	rate, err := cfg.RebateRate()
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.05")))
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeYAML(t, `
timezone: Asia/Singapore
rebate:
  rate: 0.1
  approval: approved
  wake_offset: 2m
reconcile:
  interval: 30s
  precedence: transactions
`)
	t.Setenv("WINLOSS_RECONCILE_INTERVAL", "90s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Asia/Singapore", cfg.Timezone)
	assert.Equal(t, "0.1", cfg.Rebate.Rate)
	assert.Equal(t, ApprovalApproved, cfg.Rebate.Approval)
	assert.Equal(t, 2*time.Minute, cfg.Rebate.WakeOffset)
	assert.Equal(t, PrecedenceTransactions, cfg.Reconcile.Precedence)
	assert.Equal(t, 90*time.Second, cfg.Reconcile.Interval, "env overrides file")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown timezone":  "timezone: Mars/Olympus\n",
		"zero rate":         "rebate:\n  rate: 0\n",
		"rate above one":    "rebate:\n  rate: 1.5\n",
		"bad approval":      "rebate:\n  approval: auto\n",
		"bad precedence":    "reconcile:\n  precedence: newest\n",
		"tiny interval":     "reconcile:\n  interval: 10ms\n",
		"malformed rate":    "rebate:\n  rate: five\n",
		"negative wake":     "rebate:\n  wake_offset: -1m\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeYAML(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadEnvDuration(t *testing.T) {
	t.Setenv("WINLOSS_REBATE_WAKE_OFFSET", "soon")
	_, err := Load("")
	assert.Error(t, err)
}
