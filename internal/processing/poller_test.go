package processing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busoc/adcp-telemetry/internal/store"
)

func newTestPoller(t *testing.T) (*Poller, string, string) {
	t.Helper()
	handoffDir := t.TempDir()
	processedDir := t.TempDir()
	storeDir := t.TempDir()

	dest, err := store.Open(storeDir, "adcp")
	require.NoError(t, err)
	t.Cleanup(func() { dest.Close() })

	return &Poller{
		HandoffDir:     handoffDir,
		ProcessedDir:   processedDir,
		StabilityAfter: 0, // no waiting needed in tests; mtime is always "old enough"
		Dest:           dest,
		Log:            zerolog.Nop(),
	}, handoffDir, processedDir
}

func TestScanOnceMovesStableFileToProcessed(t *testing.T) {
	p, handoffDir, processedDir := newTestPoller(t)

	name := "2021-01-02.raw"
	require.NoError(t, os.WriteFile(filepath.Join(handoffDir, name), []byte("$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*41\n"), 0o644))

	processedAny, err := p.scanOnce()
	require.NoError(t, err)
	assert.True(t, processedAny)

	_, err = os.Stat(filepath.Join(processedDir, name))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(handoffDir, name))
	assert.True(t, os.IsNotExist(err))
}

func TestScanOnceMarksFailedOnParseError(t *testing.T) {
	p, handoffDir, processedDir := newTestPoller(t)

	name := "2021-01-02.raw"
	require.NoError(t, os.WriteFile(filepath.Join(handoffDir, name), []byte("not-a-sentence\n"), 0o644))

	processedAny, err := p.scanOnce()
	require.NoError(t, err)
	assert.True(t, processedAny)

	_, err = os.Stat(filepath.Join(processedDir, name+".failed"))
	assert.NoError(t, err)
}

func TestScanOnceSkipsMarkerAndReservedFiles(t *testing.T) {
	p, handoffDir, _ := newTestPoller(t)

	require.NoError(t, os.WriteFile(filepath.Join(handoffDir, "2021-01-02.raw.writing"), []byte("123"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(handoffDir, "2021-01-02.raw.processing"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(handoffDir, "2021-01-02.raw.failed"), []byte("x"), 0o644))

	names, err := p.stableCandidates()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestIsStableRequiresMarkerAgeToo(t *testing.T) {
	p, handoffDir, _ := newTestPoller(t)
	p.StabilityAfter = time.Hour

	name := "2021-01-02.raw"
	path := filepath.Join(handoffDir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	// fresh writer marker: file should not be considered stable yet
	require.NoError(t, os.WriteFile(path+".writing", []byte("123"), 0o644))
	assert.False(t, p.isStable(name))

	// aging the marker past the threshold makes it stable
	require.NoError(t, os.Chtimes(path+".writing", old, old))
	assert.True(t, p.isStable(name))
}
