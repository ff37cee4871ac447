// Package supervisor spawns the recorder, processor, and (optionally)
// simulator as sibling OS processes and restarts any whose heartbeat
// file goes stale — the Go analogue of
// original_source/src/bin/adcp-core-starter.rs's spawn-and-signal
// pattern, generalized from a one-shot broker/conf-manager pair to a
// watched, auto-restarting set.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/busoc/adcp-telemetry/internal/heartbeat"
	"github.com/busoc/adcp-telemetry/internal/processing"
)

// GracePeriod is how long a child is given to exit after SIGTERM before
// the supervisor escalates to SIGKILL.
const GracePeriod = 5 * time.Second

// ChildSpec describes one sibling process to spawn and watch.
type ChildSpec struct {
	Name          string
	Binary        string
	Args          []string
	HeartbeatPath string
}

// child tracks one spawned process alongside its spec.
type child struct {
	spec ChildSpec
	cmd  *exec.Cmd

	mu       sync.Mutex
	restarts int
}

// Supervisor owns the child set, the watchdog ticker, and the final
// shutdown sweep of the handoff directory.
type Supervisor struct {
	Children []ChildSpec

	// StaleAfter is the heartbeat-age threshold past which a child is
	// considered dead and is restarted.
	StaleAfter time.Duration
	// WatchInterval is how often each child's heartbeat is checked.
	WatchInterval time.Duration

	PIDPath string

	// HandoffDir and ProcessedDir drive the shutdown sweep: any
	// *.writing markers are removed and any remaining *.raw files are
	// moved into ProcessedDir. The recorder removes its own markers on
	// shutdown too; moving leftover raw files happens only here.
	HandoffDir   string
	ProcessedDir string

	Log zerolog.Logger

	mu       sync.Mutex
	children []*child
}

// Run spawns every child, writes the supervisor's own PID file, and
// blocks watching heartbeats until ctx is cancelled, at which point it
// performs the shutdown sweep before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.WatchInterval <= 0 {
		s.WatchInterval = 2 * time.Second
	}
	if err := s.writePID(); err != nil {
		s.Log.Error().Err(err).Msg("write supervisor pid file failed")
	}
	defer s.removePID()

	for _, spec := range s.Children {
		c, err := s.spawn(spec)
		if err != nil {
			s.Log.Error().Err(err).Str("child", spec.Name).Msg("spawn failed")
			continue
		}
		s.mu.Lock()
		s.children = append(s.children, c)
		s.mu.Unlock()
	}

	ticker := time.NewTicker(s.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.checkChildren()
		}
	}
}

func (s *Supervisor) spawn(spec ChildSpec) (*child, error) {
	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start %s: %w", spec.Name, err)
	}
	s.Log.Info().Str("child", spec.Name).Int("pid", cmd.Process.Pid).Msg("child started")
	return &child{spec: spec, cmd: cmd}, nil
}

func (s *Supervisor) checkChildren() {
	s.mu.Lock()
	children := append([]*child(nil), s.children...)
	s.mu.Unlock()

	for i, c := range children {
		if !heartbeat.Stale(c.spec.HeartbeatPath, s.StaleAfter) {
			continue
		}
		s.Log.Warn().Str("child", c.spec.Name).Msg("heartbeat stale, restarting child")
		s.terminate(c, GracePeriod)

		c.mu.Lock()
		c.restarts++
		restarts := c.restarts
		c.mu.Unlock()

		replacement, err := s.spawn(c.spec)
		if err != nil {
			s.Log.Error().Err(err).Str("child", c.spec.Name).Msg("respawn failed")
			continue
		}
		replacement.restarts = restarts
		s.Log.Info().Str("child", c.spec.Name).Int("restarts", restarts).Msg("child restarted")
		s.mu.Lock()
		children[i] = replacement
		s.children = children
		s.mu.Unlock()
	}
}

// terminate sends SIGTERM and waits up to grace for the child to exit,
// escalating to SIGKILL if it hasn't.
func (s *Supervisor) terminate(c *child, grace time.Duration) {
	if c.cmd.Process == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_, _ = c.cmd.Process.Wait()
		close(done)
	}()

	_ = c.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(grace):
	}
	_ = c.cmd.Process.Kill()
	<-done
}

// shutdown stops every child gracefully then forcefully, then sweeps
// the handoff directory: stale markers removed, remaining raw files
// moved into the processed directory.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	children := append([]*child(nil), s.children...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func(c *child) {
			defer wg.Done()
			s.terminate(c, GracePeriod)
		}(c)
	}
	wg.Wait()

	s.sweepHandoffDir()
}

func (s *Supervisor) sweepHandoffDir() {
	if s.HandoffDir == "" {
		return
	}
	entries, err := os.ReadDir(s.HandoffDir)
	if err != nil {
		s.Log.Warn().Err(err).Msg("read handoff directory failed during shutdown sweep")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(s.HandoffDir, name)

		if strings.HasSuffix(name, ".writing") {
			if err := os.Remove(path); err != nil {
				s.Log.Warn().Err(err).Str("file", name).Msg("remove stale writer marker failed")
			}
			continue
		}
		if strings.HasSuffix(name, ".processing") || strings.HasSuffix(name, ".failed") {
			continue
		}
		if filepath.Ext(name) != ".raw" {
			continue
		}
		if err := processing.Relocate(path, filepath.Join(s.ProcessedDir, name)); err != nil {
			s.Log.Warn().Err(err).Str("file", name).Msg("move leftover raw file failed")
		}
	}
}

func (s *Supervisor) writePID() error {
	if s.PIDPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.PIDPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.PIDPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
}

func (s *Supervisor) removePID() {
	if s.PIDPath == "" {
		return
	}
	if err := os.Remove(s.PIDPath); err != nil && !os.IsNotExist(err) {
		s.Log.Warn().Err(err).Msg("remove supervisor pid file failed")
	}
}
