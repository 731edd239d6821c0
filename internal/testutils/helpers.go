package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"
	"github.com/stretchr/testify/require"
)

// NewPolicyRepo initializes a Loam repository in a temporary directory and
// returns its absolute path alongside the repository.
func NewPolicyRepo(t *testing.T, opts ...loam.Option) (string, core.Repository) {
	t.Helper()

	dir, err := filepath.Abs(t.TempDir())
	require.NoError(t, err)

	repo, err := loam.Init(dir, opts...)
	require.NoError(t, err, "init loam repo")
	return dir, repo
}

// WriteFiles writes raw files into dir, bypassing the repository so tests can
// exercise documents Loam did not produce itself.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}
