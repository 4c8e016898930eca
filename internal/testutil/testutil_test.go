package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempSQLitePath(t *testing.T) {
	p := TempSQLitePath(t)
	assert.Equal(t, "labelscan.db", filepath.Base(p))
	info, err := os.Stat(filepath.Dir(p))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
