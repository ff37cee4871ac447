package nmea

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigSentence(t *testing.T) {
	frame, err := Parse("$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*41\r\n")
	require.NoError(t, err)
	require.True(t, frame.Checksum.Valid)

	cfg, ok := frame.Payload.(ConfigSentence)
	require.True(t, ok)
	assert.True(t, cfg.InstrumentType.Signature)
	assert.Equal(t, "Signature1000_100297", cfg.HeadID)
	assert.Equal(t, uint8(4), cfg.Beams)
	assert.Equal(t, uint16(21), cfg.Cells)
	assert.Equal(t, "enu", cfg.CoordinateSystem.Kind)

	_, hasTime := cfg.SentAt()
	assert.False(t, hasTime)
}

func TestParseSensorSentenceWithSentinels(t *testing.T) {
	line := "$PNORS,010221,120000,0000,0000,-9.0,1500.0,-9.0,1.2,-0.3,10.5,18.2,-9.0,-9.0*00"
	checksummed := withComputedChecksum(t, line)

	frame, err := Parse(checksummed)
	require.NoError(t, err)
	require.True(t, frame.Checksum.Valid)

	sensor, ok := frame.Payload.(SensorSentence)
	require.True(t, ok)

	sentAt, hasTime := sensor.SentAt()
	require.True(t, hasTime)
	assert.Equal(t, 2021, sentAt.Year())
	assert.Equal(t, 1, int(sentAt.Month()))
	assert.Equal(t, 2, sentAt.Day())

	assert.Nil(t, sensor.BatteryV)
	assert.Nil(t, sensor.HeadingDeg)
	require.NotNil(t, sensor.PitchDeg)
	assert.InDelta(t, 1.2, *sensor.PitchDeg, 0.0001)
}

func TestParseCurrentSentence(t *testing.T) {
	line := "$PNORC,010221,120530,0005,0.12,-0.05,0.01,0.00,0.15,240.5,C,80,82,79,81,95,96,94,97*00"
	checksummed := withComputedChecksum(t, line)

	frame, err := Parse(checksummed)
	require.NoError(t, err)

	cur, ok := frame.Payload.(CurrentSentence)
	require.True(t, ok)
	assert.Equal(t, uint16(5), cur.CellNumber)
	assert.True(t, cur.AmplitudeUnit.Counts)
	require.NotNil(t, cur.Amplitude1)
	assert.Equal(t, uint8(80), *cur.Amplitude1)
}

func TestParseRecordsSurroundingJunk(t *testing.T) {
	raw := "prefix_junk$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*41suffix_junk"

	frame, err := Parse(raw)
	require.NoError(t, err)
	assert.Len(t, frame.Discarded, 2)
	assert.Contains(t, frame.Discarded, "prefix_junk")
	assert.Contains(t, frame.Discarded, "suffix_junk")
}

func TestParseChecksumMismatch(t *testing.T) {
	_, err := Parse("$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*00")
	require.Error(t, err)
	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestParseMalformedChecksumToken(t *testing.T) {
	_, err := Parse("$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*Z")
	require.ErrorIs(t, err, ErrChecksumMalformed)
}

func TestParseMissingDelimiter(t *testing.T) {
	_, err := Parse("$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0")
	require.ErrorIs(t, err, ErrNoChecksumDelimiter)
}

func TestParseSchemaErrorOnShortSentence(t *testing.T) {
	line := "$PNORI,4,Signature1000_100297,4*00"
	checksummed := withComputedChecksum(t, line)

	_, err := Parse(checksummed)
	require.Error(t, err)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestParseUnknownSentence(t *testing.T) {
	line := "$PNORX,1,2,3*00"
	checksummed := withComputedChecksum(t, line)

	_, err := Parse(checksummed)
	require.ErrorIs(t, err, ErrUnknownSentence)
}

// withComputedChecksum replaces the trailing placeholder checksum of line
// (a literal "*00" suffix) with the correct XOR checksum, so tests can
// write sentence bodies without hand-computing hex by hand.
func withComputedChecksum(t *testing.T, line string) string {
	t.Helper()
	require.True(t, len(line) >= 3 && line[len(line)-3] == '*')
	body := line[1 : len(line)-3] // drop leading '$' and trailing "*00"
	var xor byte
	for i := 0; i < len(body); i++ {
		xor ^= body[i]
	}
	return line[:len(line)-2] + hexByte(xor)
}

func hexByte(b byte) string {
	const hexDigits = "0123456789ABCDEF"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0x0f]})
}
