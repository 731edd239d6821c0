package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "warden version ")
}

func TestPolicyExportThenValidate(t *testing.T) {
	out, err := run(t, "", "policy", "export")
	require.NoError(t, err)
	assert.Contains(t, out, "policies:")

	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o644))

	out, err = run(t, "", "policy", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "policies are valid")
}

func TestPolicyValidateRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	bad := "policies:\n  - id: broken\n    name: Broken\n    enabled: true\n    rules:\n      - id: r1\n        kind: explode\n"
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := run(t, "", "policy", "validate", path)
	assert.ErrorContains(t, err, "validation failed")
}

func TestDemoApprovesAndExecutes(t *testing.T) {
	out, err := run(t, "y\n", "demo", "--user", "alice", "--arg", "key=mode", "--arg", "value=on")
	require.NoError(t, err)
	assert.Contains(t, out, "Approve as team-lead?")
	assert.Contains(t, out, "Executed:")
	assert.Contains(t, out, "span_completed")
}
