package recorder

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busoc/adcp-telemetry/internal/capture"
	"github.com/busoc/adcp-telemetry/internal/store"
)

// sliceSource replays a fixed set of lines once, then reports io.EOF
// forever, mimicking a serial port that has gone quiet.
type sliceSource struct {
	mu    sync.Mutex
	lines []string
	pos   int
	closed bool
}

func (s *sliceSource) NextLine(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.lines) {
		return "", io.EOF
	}
	line := s.lines[s.pos]
	s.pos++
	return line, nil
}

func (s *sliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestPipelineParsesAndPersistsLines(t *testing.T) {
	dir := t.TempDir()
	archivalDir := filepath.Join(dir, "backup")
	handoffDir := filepath.Join(dir, "handoff")
	storeDir := filepath.Join(dir, "store")

	archival, err := capture.NewArchival(archivalDir)
	require.NoError(t, err)
	handoff, err := capture.NewHandoff(handoffDir)
	require.NoError(t, err)
	dest, err := store.Open(storeDir, "adcp")
	require.NoError(t, err)

	source := &sliceSource{lines: []string{
		"$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*41",
	}}

	pipeline := &Pipeline{
		Source:           source,
		Archival:         archival,
		Handoff:          handoff,
		HandoffDir:       handoffDir,
		Dest:             dest,
		HeartbeatPath:    filepath.Join(dir, "tmp", "recorder.heartbeat"),
		HeartbeatCadence: 50 * time.Millisecond,
		Log:              zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = pipeline.Run(ctx)
	assert.NoError(t, err) // clean shutdown on context deadline

	stats := pipeline.Stats()
	assert.GreaterOrEqual(t, stats.BytesReadTotal, uint64(len("$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*41")))
	assert.True(t, source.closed)

	markers, err := filepath.Glob(filepath.Join(handoffDir, "*.writing"))
	require.NoError(t, err)
	assert.Empty(t, markers, "shutdown should sweep leftover writer markers")
}
