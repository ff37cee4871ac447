package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchivalRollsOnDateChange(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewArchival(dir)
	require.NoError(t, err)
	defer sink.Close()

	day1 := time.Date(2021, 1, 2, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2021, 1, 3, 0, 0, 1, 0, time.UTC)
	require.NoError(t, sink.Append("line1", day1))
	require.NoError(t, sink.Append("line2", day2))

	assertFileContains(t, filepath.Join(dir, "2021-01-02.raw"), "line1")
	assertFileContains(t, filepath.Join(dir, "2021-01-03.raw"), "line2")
}

func TestArchivalArchivesExistingFilesOnConstruction(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2020-12-31.raw"), []byte("stale\n"), 0o644))

	sink, err := NewArchival(dir)
	require.NoError(t, err)
	defer sink.Close()

	_, statErr := os.Stat(filepath.Join(dir, "2020-12-31.raw"))
	assert.True(t, os.IsNotExist(statErr), "pre-existing raw file should have been archived away")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sawArchiveDir bool
	for _, e := range entries {
		if e.IsDir() {
			sawArchiveDir = true
		}
	}
	assert.True(t, sawArchiveDir)
}

func TestHandoffNeverArchivesOnConstruction(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2020-12-31.raw"), []byte("stale\n"), 0o644))

	sink, err := NewHandoff(dir)
	require.NoError(t, err)
	defer sink.Close()

	_, statErr := os.Stat(filepath.Join(dir, "2020-12-31.raw"))
	assert.NoError(t, statErr, "handoff sink must not touch pre-existing files on construction")
}

func TestHandoffWritesMarkerPerAppend(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewHandoff(dir)
	require.NoError(t, err)
	defer sink.Close()

	ts := time.Date(2021, 1, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Append("line1", ts))
	require.NoError(t, sink.Append("line2", ts))

	assertFileContains(t, filepath.Join(dir, "2021-01-02.raw"), "line1")
	assertFileContains(t, filepath.Join(dir, "2021-01-02.raw"), "line2")

	markerInfo, err := os.Stat(filepath.Join(dir, "2021-01-02.raw.writing"))
	require.NoError(t, err)
	assert.False(t, markerInfo.ModTime().IsZero())
}

func assertFileContains(t *testing.T, path, want string) {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), want)
}
