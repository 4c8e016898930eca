package testutil

import (
	"path/filepath"
	"testing"
)

// TempSQLitePath returns a database path inside a per-test directory.
func TempSQLitePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "labelscan.db")
}
