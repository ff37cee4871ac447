package recorder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tarm/serial"
)

// Source yields successive raw lines from the instrument, blocking as
// needed. A zero-byte read (EOF, closed port) is surfaced as io.EOF so
// the pipeline can apply its own transient-retry policy.
type Source interface {
	NextLine(ctx context.Context) (line string, err error)
	Close() error
}

// SerialSource reads line-delimited sentences off a physical serial
// port using github.com/tarm/serial, the way aldas-go-nmea-client talks
// to its own NMEA source.
type SerialSource struct {
	port    *serial.Port
	scanner *bufio.Scanner
}

// OpenSerialSource opens portName at baud and prepares it for
// line-buffered reads.
func OpenSerialSource(portName string, baud int) (*SerialSource, error) {
	cfg := &serial.Config{Name: portName, Baud: baud, ReadTimeout: time.Second}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("recorder: open serial port %s: %w", portName, err)
	}
	return &SerialSource{port: port, scanner: bufio.NewScanner(port)}, nil
}

func (s *SerialSource) NextLine(ctx context.Context) (string, error) {
	return nextScannedLine(ctx, &s.scanner, s.port)
}

func (s *SerialSource) Close() error { return s.port.Close() }

// FileSource reads line-delimited sentences from a plain file or FIFO,
// used for mode=Simulator with sample_file set.
type FileSource struct {
	file    *os.File
	scanner *bufio.Scanner
}

// OpenFileSource opens path for line-buffered reads.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open source file %s: %w", path, err)
	}
	return &FileSource{file: f, scanner: bufio.NewScanner(f)}, nil
}

func (s *FileSource) NextLine(ctx context.Context) (string, error) {
	return nextScannedLine(ctx, &s.scanner, s.file)
}

func (s *FileSource) Close() error { return s.file.Close() }

// nextScannedLine advances scanner once, respecting ctx cancellation.
// Scanning a bufio.Scanner is itself synchronous, so cancellation is
// only checked before the call; a blocked read past cancellation is
// bounded by the source's own read timeout (serial) or OS EOF (file).
// A bufio.Scanner never reads again once it has stopped, so a stopped
// scanner is replaced with a fresh one over r before returning; the
// caller's next retry then reads whatever bytes have arrived since.
func nextScannedLine(ctx context.Context, scanner **bufio.Scanner, r io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if (*scanner).Scan() {
		return (*scanner).Text(), nil
	}
	err := (*scanner).Err()
	*scanner = bufio.NewScanner(r)
	if err != nil {
		return "", err
	}
	return "", io.EOF
}
