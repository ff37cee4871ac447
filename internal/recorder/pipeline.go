// Package recorder drives a line Source to completion, fanning each
// line out to the long-lived and per-append raw sinks and, on
// successful parse, to daily persistence — with per-destination failure
// isolation and a heartbeat file the supervisor watches for staleness.
package recorder

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/busoc/adcp-telemetry/internal/capture"
	"github.com/busoc/adcp-telemetry/internal/heartbeat"
	"github.com/busoc/adcp-telemetry/internal/nmea"
	"github.com/busoc/adcp-telemetry/internal/store"
)

// RecorderStats accumulates the pipeline's counters; Run logs them at
// debug level on each heartbeat tick. The idle-threshold alert uses the
// time of the last persisted frame, not these counters. RotationCount is
// not updated by the pipeline.
type RecorderStats struct {
	PortName       string
	BytesReadTotal uint64
	WriteErrors    uint64
	ParseErrors    uint64
	RotationCount  uint64
	LastPacketUnix int64
	startedAt      time.Time
}

// BytesPerSecond averages BytesReadTotal over the pipeline's uptime so
// far; zero while nothing has been read.
func (s RecorderStats) BytesPerSecond() float64 {
	uptime := time.Since(s.startedAt).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(s.BytesReadTotal) / uptime
}

// UptimeSeconds reports how long the pipeline has been running.
func (s RecorderStats) UptimeSeconds() float64 { return time.Since(s.startedAt).Seconds() }

// Pipeline is the recording half of the service: reader → parser →
// {long-lived backup, handoff backup, persistence}.
type Pipeline struct {
	Source     Source
	SourceName string

	Archival   capture.Sink
	Handoff    capture.Sink
	HandoffDir string
	Dest       *store.Store

	HeartbeatPath      string
	HeartbeatCadence   time.Duration
	IdleThreshold      time.Duration
	AlertWebhook       string

	Log zerolog.Logger

	stats      RecorderStats
	mu         sync.Mutex
	lastFrameAt atomic.Value // time.Time
}

// Run drains Source until ctx is cancelled. Zero-byte reads and read
// errors are both treated as transient: sleep briefly and retry.
func (p *Pipeline) Run(ctx context.Context) error {
	p.stats.startedAt = time.Now()
	p.stats.PortName = p.SourceName
	p.lastFrameAt.Store(time.Now())

	heartbeatTicker := time.NewTicker(p.heartbeatCadence())
	defer heartbeatTicker.Stop()

	idleTicker := time.NewTicker(p.idleCheckInterval())
	defer idleTicker.Stop()

	lineCh := make(chan string)
	errCh := make(chan error, 1)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		p.readLoop(groupCtx, lineCh, errCh)
		return nil
	})

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-heartbeatTicker.C:
			if err := heartbeat.Write(p.HeartbeatPath); err != nil {
				p.Log.Error().Err(err).Msg("heartbeat write failed")
			}
			stats := p.Stats()
			p.Log.Debug().
				Str("port", stats.PortName).
				Uint64("bytes_read_total", stats.BytesReadTotal).
				Float64("bytes_per_second", stats.BytesPerSecond()).
				Uint64("write_errors", stats.WriteErrors).
				Uint64("parse_errors", stats.ParseErrors).
				Int64("last_packet_unix", stats.LastPacketUnix).
				Msg("recorder stats")
		case <-idleTicker.C:
			p.checkIdle()
		case err := <-errCh:
			if err != nil {
				p.Log.Error().Err(err).Msg("source reader stopped")
			}
			break loop
		case line := <-lineCh:
			p.handleLine(line)
		}
	}

	_ = group.Wait()
	return p.shutdown()
}

// readLoop owns the Source and forwards each non-empty line to lineCh.
// It is the only goroutine that calls Source.NextLine.
func (p *Pipeline) readLoop(ctx context.Context, lineCh chan<- string, errCh chan<- error) {
	for {
		if ctx.Err() != nil {
			errCh <- nil
			return
		}

		line, err := p.Source.NextLine(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				errCh <- nil
				return
			}
			if errors.Is(err, io.EOF) {
				select {
				case <-ctx.Done():
					errCh <- nil
					return
				case <-time.After(time.Second):
				}
				continue
			}
			p.Log.Warn().Err(err).Msg("source read failed, retrying")
			select {
			case <-ctx.Done():
				errCh <- nil
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		select {
		case lineCh <- line:
		case <-ctx.Done():
			errCh <- nil
			return
		}
	}
}

func (p *Pipeline) handleLine(line string) {
	now := time.Now().UTC()
	p.mu.Lock()
	p.stats.BytesReadTotal += uint64(len(line))
	p.mu.Unlock()

	if err := p.Archival.Append(line, now); err != nil {
		p.Log.Error().Err(err).Msg("archival write failed")
		p.mu.Lock()
		p.stats.WriteErrors++
		p.mu.Unlock()
	}
	if err := p.Handoff.Append(line, now); err != nil {
		p.Log.Error().Err(err).Msg("handoff write failed")
		p.mu.Lock()
		p.stats.WriteErrors++
		p.mu.Unlock()
	}

	frame, err := nmea.Parse(line)
	if err != nil {
		p.Log.Warn().Err(err).Str("line", line).Msg("frame parse failed")
		p.mu.Lock()
		p.stats.ParseErrors++
		p.mu.Unlock()
		return
	}
	if err := p.Dest.Append(frame); err != nil {
		p.Log.Error().Err(err).Msg("persistence append failed")
		p.mu.Lock()
		p.stats.WriteErrors++
		p.mu.Unlock()
		return
	}

	p.lastFrameAt.Store(now)
	p.mu.Lock()
	p.stats.LastPacketUnix = now.Unix()
	p.mu.Unlock()
}

// checkIdle logs a warning (and mentions, but never dials, AlertWebhook)
// when no frame has been recorded for longer than IdleThreshold —
// adapted from original_source/src/metrics.rs's monitor_health, which
// never posts its own webhook either.
func (p *Pipeline) checkIdle() {
	if p.IdleThreshold <= 0 {
		return
	}
	last, _ := p.lastFrameAt.Load().(time.Time)
	idleFor := time.Since(last)
	if idleFor < p.IdleThreshold {
		return
	}
	event := p.Log.Warn().Dur("idle_for", idleFor)
	if p.AlertWebhook != "" {
		event = event.Str("alert_webhook", p.AlertWebhook)
	}
	event.Msg("no frames recorded past idle threshold")
}

func (p *Pipeline) heartbeatCadence() time.Duration {
	if p.HeartbeatCadence <= 0 {
		return time.Second
	}
	return p.HeartbeatCadence
}

func (p *Pipeline) idleCheckInterval() time.Duration {
	if p.IdleThreshold > 0 && p.IdleThreshold < 5*time.Second {
		return p.IdleThreshold
	}
	return 5 * time.Second
}

// shutdown closes the source and sinks, then removes any .writing
// markers the handoff sink left behind — a crashed or paused writer
// should not leave a permanently "recently active" marker for the
// processor to honor forever.
func (p *Pipeline) shutdown() error {
	if err := p.Source.Close(); err != nil {
		p.Log.Warn().Err(err).Msg("source close failed")
	}
	if err := p.Archival.Close(); err != nil {
		p.Log.Warn().Err(err).Msg("archival close failed")
	}
	if err := p.Handoff.Close(); err != nil {
		p.Log.Warn().Err(err).Msg("handoff close failed")
	}
	if err := p.Dest.Close(); err != nil {
		p.Log.Warn().Err(err).Msg("persistence close failed")
	}
	p.sweepWritingMarkers()
	return nil
}

// sweepWritingMarkers removes every *.writing companion file left in
// HandoffDir. A crashed or paused writer should not leave a permanently
// "recently active" marker for the processor to honor forever; the
// supervisor's own shutdown sweep (internal/supervisor) repeats this for
// orchestrator-managed runs, but a standalone recorder process must do it
// for itself too.
func (p *Pipeline) sweepWritingMarkers() {
	if p.HandoffDir == "" {
		return
	}
	entries, err := os.ReadDir(p.HandoffDir)
	if err != nil {
		p.Log.Warn().Err(err).Msg("read handoff directory failed during shutdown sweep")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".writing") {
			continue
		}
		path := filepath.Join(p.HandoffDir, entry.Name())
		if err := os.Remove(path); err != nil {
			p.Log.Warn().Err(err).Str("file", entry.Name()).Msg("remove stale writer marker failed")
		}
	}
}

// Stats returns a snapshot of the pipeline's running counters.
func (p *Pipeline) Stats() RecorderStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := p.stats
	return snapshot
}
