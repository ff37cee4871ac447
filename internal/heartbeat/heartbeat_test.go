package heartbeat

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "svc-recorder.heartbeat")
	require.NoError(t, Write(path))

	age, err := Age(path)
	require.NoError(t, err)
	assert.Less(t, age, 2*time.Second)
}

func TestStaleMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-written.heartbeat")
	assert.True(t, Stale(path, time.Second))
}

func TestStaleFreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.heartbeat")
	require.NoError(t, Write(path))
	assert.False(t, Stale(path, 10*time.Second))
}

func TestCadenceClampsToBounds(t *testing.T) {
	assert.Equal(t, time.Second, Cadence(200*time.Millisecond))
	assert.Equal(t, 3*time.Second, Cadence(3*time.Second))
	assert.Equal(t, 5*time.Second, Cadence(30*time.Second))
}
