package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "last_report.json")

	_, err := LoadReport(path)
	assert.ErrorIs(t, err, ErrNoReport)

	want := CreateTestReport("gm_report")
	require.NoError(t, SaveReport(path, want))

	got, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, want.SessionID, got.SessionID)
	assert.Equal(t, want.Summary(), got.Summary())
	assert.True(t, want.StartedAt.Equal(got.StartedAt))

	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err = LoadReport(path)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoReport)
}
