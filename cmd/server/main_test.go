package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommands_OneShotJobsOnEmptyDatabase(t *testing.T) {
	t.Setenv("WINLOSS_CONFIG", "")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	rootCmd.SetArgs([]string{"rebate", "run", "--db", ":memory:", "--day", "2025-03-10"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "day=2025-03-10")
	assert.Contains(t, out.String(), "created=0 skipped=0")

	out.Reset()
	rootCmd.SetArgs([]string{"reconcile", "--db", ":memory:", "--day", "2025-03-10"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "precedence=manual groups=0")

	rootCmd.SetArgs([]string{"rebate", "run", "--db", ":memory:", "--day", "March 10"})
	assert.Error(t, rootCmd.Execute())
}
