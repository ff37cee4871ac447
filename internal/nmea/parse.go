package nmea

import (
	"strconv"
	"strings"
	"time"
)

var sentenceMarkers = []string{"$PNORI", "$PNORS", "$PNORC"}

// Parse converts one textual line into a validated Frame. Input may
// contain leading/trailing junk and mixed line terminators; junk is
// trimmed and recorded in the returned Frame's Discarded slice rather
// than causing a failure. Parsing fails only on a malformed or mismatched
// checksum, or a malformed sentence body.
func Parse(line string) (Frame, error) {
	raw := strings.TrimSpace(strings.TrimRight(line, "\r\n"))

	provided, computed, body, discarded, err := validateChecksum(raw)
	if err != nil {
		return Frame{}, err
	}

	fields := strings.Split(body, ",")
	if len(fields) == 0 {
		return Frame{}, ErrUnknownSentence
	}

	var payload Payload
	switch fields[0] {
	case "PNORI":
		payload, err = parseConfig(fields[1:])
	case "PNORS":
		payload, err = parseSensor(fields[1:])
	case "PNORC":
		payload, err = parseCurrent(fields[1:])
	default:
		return Frame{}, ErrUnknownSentence
	}
	if err != nil {
		return Frame{}, err
	}

	recordedAt, ok := payload.SentAt()
	if !ok {
		recordedAt = time.Now().UTC()
	}

	return Frame{
		RecordedAt: recordedAt,
		Raw:        raw,
		Checksum: Checksum{
			Provided: provided,
			Computed: computed,
			Valid:    provided == computed,
		},
		Payload:   payload,
		Discarded: discarded,
	}, nil
}

// validateChecksum splits raw on its last '*', recovers the two-hex-digit
// checksum token (discarding any trailing junk after it), locates the
// earliest known sentence marker in the body (discarding any leading
// junk before it), and verifies the XOR checksum of the body.
func validateChecksum(raw string) (provided, computed byte, body string, discarded []string, err error) {
	star := strings.LastIndexByte(raw, '*')
	if star < 0 {
		return 0, 0, "", nil, ErrNoChecksumDelimiter
	}
	bodyRaw, checksumHex := raw[:star], raw[star+1:]

	var hexChars strings.Builder
	lastHexPos := 0
	for i, c := range checksumHex {
		if isHexDigit(c) {
			hexChars.WriteRune(c)
			if hexChars.Len() == 2 {
				lastHexPos = i + 1
				break
			}
		} else if !isSpace(c) {
			if hexChars.Len() > 0 {
				break
			}
		}
	}
	if hexChars.Len() != 2 {
		return 0, 0, "", nil, ErrChecksumMalformed
	}
	if lastHexPos < len(checksumHex) {
		junk := checksumHex[lastHexPos:]
		if strings.TrimSpace(junk) != "" {
			discarded = append(discarded, junk)
		}
	}
	providedVal, convErr := strconv.ParseUint(hexChars.String(), 16, 8)
	if convErr != nil {
		return 0, 0, "", nil, ErrChecksumMalformed
	}
	provided = byte(providedVal)

	body = bodyRaw
	foundPos := -1
	for _, marker := range sentenceMarkers {
		if pos := strings.Index(body, marker); pos >= 0 {
			if foundPos == -1 || pos < foundPos {
				foundPos = pos
			}
		}
	}
	if foundPos > 0 {
		junk := body[:foundPos]
		if strings.TrimSpace(junk) != "" {
			discarded = append(discarded, junk)
		}
		body = body[foundPos:]
	}

	bodyValid := strings.TrimPrefix(body, "$")
	var xor byte
	for i := 0; i < len(bodyValid); i++ {
		xor ^= bodyValid[i]
	}
	computed = xor
	if provided != computed {
		return 0, 0, "", nil, &ChecksumMismatchError{Provided: provided, Computed: computed}
	}
	return provided, computed, bodyValid, discarded, nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isSpace(c rune) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func parseConfig(fields []string) (ConfigSentence, error) {
	if len(fields) < 7 {
		return ConfigSentence{}, &SchemaError{Sentence: "PNORI", Want: 7, Got: len(fields)}
	}
	instrumentCode, convErr := strconv.ParseUint(fields[0], 10, 8)
	if convErr != nil {
		return ConfigSentence{}, &SchemaError{Sentence: "PNORI instrument type", Want: 7, Got: len(fields)}
	}
	instrument := InstrumentType{Code: uint8(instrumentCode)}
	if instrumentCode == 4 {
		instrument.Signature = true
	}

	beams, convErr := strconv.ParseUint(fields[2], 10, 8)
	if convErr != nil {
		return ConfigSentence{}, &SchemaError{Sentence: "PNORI beams", Want: 7, Got: len(fields)}
	}
	cells, convErr := strconv.ParseUint(fields[3], 10, 16)
	if convErr != nil {
		return ConfigSentence{}, &SchemaError{Sentence: "PNORI cells", Want: 7, Got: len(fields)}
	}
	blanking, convErr := strconv.ParseFloat(fields[4], 32)
	if convErr != nil {
		return ConfigSentence{}, &SchemaError{Sentence: "PNORI blanking", Want: 7, Got: len(fields)}
	}
	cellSize, convErr := strconv.ParseFloat(fields[5], 32)
	if convErr != nil {
		return ConfigSentence{}, &SchemaError{Sentence: "PNORI cell size", Want: 7, Got: len(fields)}
	}
	coord, convErr := parseCoordinateSystem(fields[6])
	if convErr != nil {
		return ConfigSentence{}, convErr
	}

	return ConfigSentence{
		InstrumentType:   instrument,
		HeadID:           fields[1],
		Beams:            uint8(beams),
		Cells:            uint16(cells),
		BlankingM:        float32(blanking),
		CellSizeM:        float32(cellSize),
		CoordinateSystem: coord,
	}, nil
}

func parseSensor(fields []string) (SensorSentence, error) {
	if len(fields) < 13 {
		return SensorSentence{}, &SchemaError{Sentence: "PNORS", Want: 13, Got: len(fields)}
	}
	sentAt, err := parseDateTime(fields[0], fields[1])
	if err != nil {
		return SensorSentence{}, err
	}
	errorCode, err := parseHexU32(fields[2], "error code")
	if err != nil {
		return SensorSentence{}, err
	}
	statusCode, err := parseHexU32(fields[3], "status code")
	if err != nil {
		return SensorSentence{}, err
	}
	return SensorSentence{
		SentAtField:   sentAt,
		ErrorCodeHex:  errorCode,
		StatusCodeHex: statusCode,
		BatteryV:      parseOptFloat32(fields[4]),
		SoundSpeedMS:  parseOptFloat32(fields[5]),
		HeadingDeg:    parseOptFloat32(fields[6]),
		PitchDeg:      parseOptFloat32(fields[7]),
		RollDeg:       parseOptFloat32(fields[8]),
		PressureDbar:  parseOptFloat32(fields[9]),
		TemperatureC:  parseOptFloat32(fields[10]),
		AnalogInput1:  parseOptFloat32(fields[11]),
		AnalogInput2:  parseOptFloat32(fields[12]),
	}, nil
}

func parseCurrent(fields []string) (CurrentSentence, error) {
	if len(fields) < 18 {
		return CurrentSentence{}, &SchemaError{Sentence: "PNORC", Want: 18, Got: len(fields)}
	}
	sentAt, err := parseDateTime(fields[0], fields[1])
	if err != nil {
		return CurrentSentence{}, err
	}
	cellNumber, convErr := strconv.ParseUint(fields[2], 10, 16)
	if convErr != nil {
		return CurrentSentence{}, &SchemaError{Sentence: "PNORC cell number", Want: 18, Got: len(fields)}
	}
	return CurrentSentence{
		SentAtField:   sentAt,
		CellNumber:    uint16(cellNumber),
		Velocity1MS:   parseOptFloat32(fields[3]),
		Velocity2MS:   parseOptFloat32(fields[4]),
		Velocity3MS:   parseOptFloat32(fields[5]),
		Velocity4MS:   parseOptFloat32(fields[6]),
		SpeedMS:       parseOptFloat32(fields[7]),
		DirectionDeg:  parseOptFloat32(fields[8]),
		AmplitudeUnit: parseAmplitudeUnit(fields[9]),
		Amplitude1:    parseOptUint8(fields[10]),
		Amplitude2:    parseOptUint8(fields[11]),
		Amplitude3:    parseOptUint8(fields[12]),
		Amplitude4:    parseOptUint8(fields[13]),
		Correlation1:  parseOptUint8(fields[14]),
		Correlation2:  parseOptUint8(fields[15]),
		Correlation3:  parseOptUint8(fields[16]),
		Correlation4:  parseOptUint8(fields[17]),
	}, nil
}

func parseDateTime(date, clock string) (time.Time, error) {
	d, err := parseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	h, m, s, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, s, 0, time.UTC), nil
}

func parseDate(raw string) (time.Time, error) {
	if len(raw) != 6 {
		return time.Time{}, &DateError{Raw: raw}
	}
	month, err1 := strconv.Atoi(raw[0:2])
	day, err2 := strconv.Atoi(raw[2:4])
	year, err3 := strconv.Atoi(raw[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, &DateError{Raw: raw}
	}
	year += 2000
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, &DateError{Raw: raw}
	}
	return t, nil
}

func parseClock(raw string) (hour, minute, second int, err error) {
	if len(raw) != 6 {
		return 0, 0, 0, &TimeError{Raw: raw}
	}
	h, err1 := strconv.Atoi(raw[0:2])
	m, err2 := strconv.Atoi(raw[2:4])
	s, err3 := strconv.Atoi(raw[4:6])
	if err1 != nil || err2 != nil || err3 != nil || h > 23 || m > 59 || s > 59 {
		return 0, 0, 0, &TimeError{Raw: raw}
	}
	return h, m, s, nil
}

func parseHexU32(raw, label string) (uint32, error) {
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return 0, &HexError{Field: label, Raw: raw}
	}
	return uint32(v), nil
}

func parseCoordinateSystem(raw string) (CoordinateSystem, error) {
	code, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return CoordinateSystem{}, &SchemaError{Sentence: "PNORI coordinate system", Want: 7, Got: 0}
	}
	switch code {
	case 0:
		return CoordinateSystem{Kind: "enu"}, nil
	case 1:
		return CoordinateSystem{Kind: "xyz"}, nil
	case 2:
		return CoordinateSystem{Kind: "beam"}, nil
	default:
		return CoordinateSystem{Kind: "unknown", Code: uint8(code)}, nil
	}
}

func parseAmplitudeUnit(raw string) AmplitudeUnit {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "C":
		return AmplitudeUnit{Counts: true}
	default:
		return AmplitudeUnit{Raw: raw}
	}
}

// isMissingField reports whether raw encodes the sentinel-family "no
// data" marker: empty, or beginning with "-9" once trimmed.
func isMissingField(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return trimmed == "" || strings.HasPrefix(trimmed, "-9")
}

func parseOptFloat32(raw string) *float32 {
	if isMissingField(raw) {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
	if err != nil {
		return nil
	}
	f := float32(v)
	return &f
}

func parseOptUint8(raw string) *uint8 {
	if isMissingField(raw) {
		return nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 8)
	if err != nil {
		return nil
	}
	u := uint8(v)
	return &u
}
