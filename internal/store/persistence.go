// Package store implements the daily-rotating persistence sink that
// durably appends parsed nmea.Frame values as line-delimited JSON,
// rotating on the payload's own timestamp rather than wall clock.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/busoc/adcp-telemetry/internal/nmea"
)

// Store is a daily-rotating append-only sink for parsed frames. The
// zero value is not usable; construct with Open.
type Store struct {
	baseDir string
	prefix  string

	mu       sync.Mutex
	file     *os.File
	current  string // "YYYY-MM-DD" of the currently open file, or "" if none
	buffered []nmea.Frame
}

// Open prepares a Store rooted at baseDir. prefix names the service whose
// frames this store records, matching the <service-prefix>-YYYY-MM-DD.log
// filename convention. No file is opened until the first Append.
func Open(baseDir, prefix string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create base directory: %w", err)
	}
	return &Store{baseDir: baseDir, prefix: prefix}, nil
}

// Append durably writes frame, rotating to the date of its payload's
// sent_at when present. Frames without a sent_at (Config) are buffered in
// memory until the first frame carrying a real timestamp arrives, then
// flushed ahead of it in arrival order.
func (s *Store) Append(frame nmea.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sentAt, hasSentAt := frame.Payload.SentAt()
	if !hasSentAt {
		s.buffered = append(s.buffered, frame)
		return nil
	}

	date := sentAt.UTC().Format("2006-01-02")
	if s.current != date {
		if err := s.rotate(date); err != nil {
			return err
		}
	}

	if len(s.buffered) > 0 {
		pending := s.buffered
		s.buffered = nil
		for _, buf := range pending {
			if err := s.writeLine(buf); err != nil {
				return err
			}
		}
	}

	return s.writeLine(frame)
}

// rotate closes the current file, if any, and opens the file for date.
func (s *Store) rotate(date string) error {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("store: close %s: %w", s.current, err)
		}
		s.file = nil
	}
	path := filepath.Join(s.baseDir, fmt.Sprintf("%s-%s.log", s.prefix, date))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", path, err)
	}
	s.file = f
	s.current = date
	return nil
}

func (s *Store) writeLine(frame nmea.Frame) error {
	line, err := frame.MarshalJSON()
	if err != nil {
		return fmt.Errorf("store: encode frame: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("store: write %s: %w", s.current, err)
	}
	return s.file.Sync()
}

// Close flushes and closes the current file, if any. Buffered undated
// frames that never saw a dated frame are dropped; nothing in the
// pipeline can recover a date for them.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
