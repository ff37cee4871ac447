// Package processing implements the handoff directory poller: the
// stability gate, the .processing reservation rename, replay of a
// stable capture file through the parser into persistence, and
// processed/failed relocation.
package processing

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/busoc/adcp-telemetry/internal/nmea"
	"github.com/busoc/adcp-telemetry/internal/store"
)

// ReplayResult summarizes one replay pass over a capture file.
type ReplayResult struct {
	FramesProcessed   int
	ParseErrors       int
	PersistenceErrors int
	Failures          []string
}

// ReplayFile parses raw (the full contents of one capture file) line by
// line and appends every successfully parsed frame to dest. Discarded
// junk fragments and lines that fail to parse or persist are collected
// into Failures for the caller to log or write to a .failed sidecar.
func ReplayFile(raw string, dest *store.Store, log zerolog.Logger) ReplayResult {
	var result ReplayResult

	for _, line := range normalizeCapture(raw) {
		frame, err := nmea.Parse(line)
		if err != nil {
			result.ParseErrors++
			log.Warn().Err(err).Str("line", line).Msg("sample frame rejected")
			result.Failures = append(result.Failures, line)
			continue
		}

		result.Failures = append(result.Failures, frame.Discarded...)

		if err := dest.Append(frame); err != nil {
			result.PersistenceErrors++
			log.Error().Err(err).Msg("persistence failed during replay")
			result.Failures = append(result.Failures, line)
			continue
		}
		result.FramesProcessed++
	}

	return result
}

// normalizeCapture splits a capture file's contents into individual
// sentence lines, each re-prefixed with "$". Upstream capture tooling
// sometimes escapes its line endings as the literal two-character
// sequence `\r\n` rather than real CRLF bytes; both are treated as frame
// boundaries before splitting on the sentence-leading '$'.
func normalizeCapture(raw string) []string {
	normalized := strings.ReplaceAll(raw, `\r\n`, "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	var lines []string
	for _, logical := range strings.Split(normalized, "\n") {
		for _, chunk := range strings.Split(logical, "$") {
			trimmed := strings.TrimSpace(chunk)
			if trimmed == "" {
				continue
			}
			lines = append(lines, "$"+trimmed)
		}
	}
	return lines
}
