// Package heartbeat is the shared read/write helper for the per-service
// mtime-advertisement files the recorder, processor, and supervisor use
// to detect a stuck or dead sibling.
package heartbeat

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Write replaces path's contents with the current Unix timestamp and
// updates its mtime, creating the file (and its parent directory) if
// needed. The supervisor only ever looks at mtime; the timestamp content
// is for human inspection when tailing the deployment/tmp directory.
func Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("heartbeat: create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("heartbeat: open %s: %w", path, err)
	}
	_, writeErr := f.WriteString(strconv.FormatInt(time.Now().UTC().Unix(), 10))
	if writeErr == nil {
		writeErr = f.Sync()
	}
	if closeErr := f.Close(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return fmt.Errorf("heartbeat: write %s: %w", path, writeErr)
	}
	return nil
}

// Age returns how long ago path was last written, based on its mtime. A
// missing file is reported as an error so callers can distinguish
// "never started" from "stale".
func Age(path string) (time.Duration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return time.Since(info.ModTime()), nil
}

// Stale reports whether path is missing or older than threshold.
func Stale(path string, threshold time.Duration) bool {
	age, err := Age(path)
	if err != nil {
		return true
	}
	return age >= threshold
}

// Cadence computes the heartbeat write interval from the configured file
// stability window: min(5s, stability), floored at 1s.
func Cadence(fileStability time.Duration) time.Duration {
	cadence := fileStability
	if cadence > 5*time.Second {
		cadence = 5 * time.Second
	}
	if cadence < time.Second {
		cadence = time.Second
	}
	return cadence
}
