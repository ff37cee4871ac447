package store

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busoc/adcp-telemetry/internal/nmea"
)

func TestAppendBuffersConfigUntilDatedFrame(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "adcp")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(configFrame(t)))

	path := filepath.Join(dir, "adcp-2021-01-02.log")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "config-only frame must not create a dated file yet")

	sensor := sensorFrame(t, time.Date(2021, 1, 2, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.Append(sensor))

	lines := readLines(t, path)
	require.Len(t, lines, 2, "buffered config frame then the dated frame")
}

func TestAppendRotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "adcp")
	require.NoError(t, err)
	defer s.Close()

	day1 := sensorFrame(t, time.Date(2021, 1, 2, 23, 59, 0, 0, time.UTC))
	day2 := sensorFrame(t, time.Date(2021, 1, 3, 0, 0, 1, 0, time.UTC))
	require.NoError(t, s.Append(day1))
	require.NoError(t, s.Append(day2))

	assert.Len(t, readLines(t, filepath.Join(dir, "adcp-2021-01-02.log")), 1)
	assert.Len(t, readLines(t, filepath.Join(dir, "adcp-2021-01-03.log")), 1)
}

func configFrame(t *testing.T) nmea.Frame {
	t.Helper()
	frame, err := nmea.Parse("$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*41")
	require.NoError(t, err)
	return frame
}

func sensorFrame(t *testing.T, sentAt time.Time) nmea.Frame {
	t.Helper()
	return nmea.Frame{
		RecordedAt: sentAt,
		Raw:        "$PNORS,...",
		Payload: nmea.SensorSentence{
			SentAtField: sentAt,
		},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}
