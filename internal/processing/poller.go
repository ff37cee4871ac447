package processing

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/busoc/adcp-telemetry/internal/heartbeat"
	"github.com/busoc/adcp-telemetry/internal/store"
)

// Poller repeatedly scans a handoff directory for stable capture files,
// reserves each with an atomic .processing rename, replays it into
// persistence, and relocates it to the processed directory (or marks it
// .failed on replay error).
type Poller struct {
	HandoffDir     string
	ProcessedDir   string
	StabilityAfter time.Duration
	ScanInterval   time.Duration

	HeartbeatPath    string
	HeartbeatCadence time.Duration

	Dest *store.Store
	Log  zerolog.Logger
}

// Run scans HandoffDir every ScanInterval until ctx is cancelled. A cycle
// that finds work rescans immediately instead of waiting out the full
// interval. A ticker writes the heartbeat file throughout, the same way
// recorder.Pipeline.Run does, so a supervisor watching HeartbeatPath
// never sees this process as stale while it is alive.
func (p *Poller) Run(ctx context.Context) error {
	if p.ScanInterval <= 0 {
		p.ScanInterval = 2 * time.Second
	}

	heartbeatTicker := time.NewTicker(p.heartbeatCadence())
	defer heartbeatTicker.Stop()

	scanTimer := time.NewTimer(0) // scan immediately on startup
	defer scanTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeatTicker.C:
			if err := heartbeat.Write(p.HeartbeatPath); err != nil {
				p.Log.Error().Err(err).Msg("heartbeat write failed")
			}
		case <-scanTimer.C:
			processedAny, err := p.scanOnce()
			if err != nil {
				p.Log.Error().Err(err).Msg("handoff scan failed")
			}
			if processedAny {
				scanTimer.Reset(0)
			} else {
				scanTimer.Reset(p.ScanInterval)
			}
		}
	}
}

func (p *Poller) heartbeatCadence() time.Duration {
	if p.HeartbeatCadence <= 0 {
		return time.Second
	}
	return p.HeartbeatCadence
}

// scanOnce evaluates every candidate file once, processing each stable
// one in turn, and reports whether any work was done.
func (p *Poller) scanOnce() (bool, error) {
	names, err := p.stableCandidates()
	if err != nil {
		return false, err
	}
	for _, name := range names {
		p.processOne(name)
	}
	return len(names) > 0, nil
}

func (p *Poller) stableCandidates() ([]string, error) {
	entries, err := os.ReadDir(p.HandoffDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".writing") || strings.HasSuffix(name, ".failed") || strings.HasSuffix(name, ".processing") {
			continue
		}
		if p.isStable(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// isStable implements the two-clock gate: the file's own mtime age and,
// if a writer marker exists, its mtime age must both clear the
// stability threshold.
func (p *Poller) isStable(name string) bool {
	path := filepath.Join(p.HandoffDir, name)
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) < p.StabilityAfter {
		return false
	}

	markerInfo, err := os.Stat(path + ".writing")
	if err != nil {
		return true // no marker: nothing advertises recent writer activity
	}
	return time.Since(markerInfo.ModTime()) >= p.StabilityAfter
}

func (p *Poller) processOne(name string) {
	path := filepath.Join(p.HandoffDir, name)
	reservedPath := path + ".processing"

	if err := os.Rename(path, reservedPath); err != nil {
		p.Log.Error().Err(err).Str("file", name).Msg("reserve handoff file failed")
		return
	}

	content, err := os.ReadFile(reservedPath)
	if err != nil {
		p.Log.Error().Err(err).Str("file", name).Msg("read reserved handoff file failed")
		p.relocate(reservedPath, filepath.Join(p.ProcessedDir, name+".failed"))
		return
	}

	result := ReplayFile(string(content), p.Dest, p.Log)
	p.Log.Info().
		Str("file", name).
		Int("frames", result.FramesProcessed).
		Int("parse_errors", result.ParseErrors).
		Int("persistence_errors", result.PersistenceErrors).
		Int("failures", len(result.Failures)).
		Msg("handoff file replayed")

	if result.ParseErrors == 0 && result.PersistenceErrors == 0 {
		p.relocate(reservedPath, filepath.Join(p.ProcessedDir, name))
		return
	}
	p.relocate(reservedPath, filepath.Join(p.ProcessedDir, name+".failed"))
}

// relocate moves src to dst, falling back to copy-then-delete when a
// plain rename fails (e.g. ProcessedDir is on a different filesystem).
func (p *Poller) relocate(src, dst string) {
	if err := Relocate(src, dst); err != nil {
		p.Log.Error().Err(err).Str("src", src).Str("dst", dst).Msg("relocate handoff file failed")
	}
}

// Relocate moves src to dst, creating dst's parent directory as needed
// and falling back to copy-then-delete when a plain rename fails (e.g.
// dst is on a different filesystem). Exported for the supervisor's
// own shutdown sweep of the handoff directory.
func Relocate(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyThenDelete(src, dst)
}

func copyThenDelete(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
