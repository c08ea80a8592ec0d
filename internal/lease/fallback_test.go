package lease

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/daily-stats/internal/model"
)

func TestFallbackFile_Missing(t *testing.T) {
	f := NewFallbackFile(filepath.Join(t.TempDir(), "lock.json"), nil)
	assert.Nil(t, f.Read())
}

func TestFallbackFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	f := NewFallbackFile(path, nil)
	assert.Nil(t, f.Read())
}

func TestFallbackFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.Nil(t, NewFallbackFile(path, nil).Read())

	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	assert.Nil(t, NewFallbackFile(path, nil).Read())
}

func TestFallbackFile_WriteRead(t *testing.T) {
	dir := t.TempDir()
	f := NewFallbackFile(filepath.Join(dir, "lock.json"), nil)

	started := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	finished := started.Add(5 * time.Minute)
	rec := model.LeaseRecord{
		Day:        "2025-03-10",
		StartedAt:  started,
		FinishedAt: &finished,
		Status:     model.LeaseOK,
		Backend:    model.BackendLocalFallback,
		RunID:      "run-1",
	}
	require.NoError(t, f.Write(rec))

	got := f.Read()
	require.NotNil(t, got)
	assert.Equal(t, rec.Day, got.Day)
	assert.True(t, rec.StartedAt.Equal(got.StartedAt))
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, model.BackendLocalFallback, got.Backend)
	assert.Equal(t, "run-1", got.RunID)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFallbackFile_Nil(t *testing.T) {
	var f *FallbackFile
	assert.Nil(t, f.Read())
	assert.NoError(t, f.Write(model.LeaseRecord{Day: "2025-03-10"}))
	assert.Empty(t, f.Path())
}

func TestNewFallbackFile_DefaultPath(t *testing.T) {
	assert.Equal(t, DefaultFallbackPath, NewFallbackFile("", nil).Path())
}

func TestFallbackFile_ReadsZonelessTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.json")
	data := `{"date": "2025-03-10", "status": "running", "started_at": "2025-03-10T11:00:00.123456", "finished_at": null}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	got := NewFallbackFile(path, nil).Read()
	require.NotNil(t, got)
	assert.Equal(t, model.LeaseRunning, got.Status)
	assert.True(t, got.StartedAt.Equal(time.Date(2025, 3, 10, 11, 0, 0, 123456000, time.UTC)))
	assert.Nil(t, got.FinishedAt)
}

func TestParseLeaseTime(t *testing.T) {
	want := time.Date(2025, 3, 10, 11, 0, 0, 500000000, time.UTC)
	tests := []string{
		"2025-03-10T11:00:00.5Z",
		"2025-03-10T13:00:00.5+02:00",
		"2025-03-10T11:00:00.5",
		"2025-03-10 11:00:00.5+00:00",
		"2025-03-10 11:00:00.5",
	}
	for _, in := range tests {
		got, err := parseLeaseTime(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(want), "%s parsed as %s", in, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := parseLeaseTime("yesterday")
	assert.Error(t, err)
}
