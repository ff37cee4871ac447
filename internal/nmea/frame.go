// Package nmea parses the three ADCP sentence types ($PNORI, $PNORS,
// $PNORC) into validated, immutable Frame values. Parsing is pure and
// side-effect free except for the wall-clock fallback used for Config
// sentences, which carry no timestamp of their own.
package nmea

import (
	"encoding/json"
	"time"
)

// Frame is one validated telemetry record produced from a single input
// line.
type Frame struct {
	RecordedAt time.Time
	Raw        string
	Checksum   Checksum
	Payload    Payload
	Discarded  []string
}

// Checksum records the result of validating a sentence's trailing
// "*XX" hex checksum against the XOR of its body bytes.
type Checksum struct {
	Provided byte
	Computed byte
	Valid    bool
}

// Payload is the closed set of sentence bodies a Frame can carry.
type Payload interface {
	// SentAt returns the payload's own embedded timestamp, if it has
	// one. Config sentences have none.
	SentAt() (time.Time, bool)
	payloadType() string
}

// frameJSON mirrors Frame for JSON encoding, matching the line format
// spec.md §4.2 requires: one self-describing object per line with a
// "type" discriminator nested under "payload".
type frameJSON struct {
	RecordedAt time.Time       `json:"recorded_at"`
	Raw        string          `json:"raw"`
	Checksum   Checksum        `json:"checksum"`
	Payload    json.RawMessage `json:"payload"`
	Discarded  []string        `json:"discarded,omitempty"`
}

// MarshalJSON produces the persisted line format for a Frame.
func (f Frame) MarshalJSON() ([]byte, error) {
	payload, err := marshalPayload(f.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frameJSON{
		RecordedAt: f.RecordedAt,
		Raw:        f.Raw,
		Checksum:   f.Checksum,
		Payload:    payload,
		Discarded:  f.Discarded,
	})
}

func marshalPayload(p Payload) (json.RawMessage, error) {
	type tagged struct {
		Type string `json:"type"`
		Body any    `json:"body"`
	}
	return json.Marshal(tagged{Type: p.payloadType(), Body: p})
}

// InstrumentType identifies the ADCP hardware family reported by a
// Config sentence.
type InstrumentType struct {
	Signature bool
	Code      uint8
}

func (t InstrumentType) MarshalJSON() ([]byte, error) {
	if t.Signature {
		return json.Marshal("signature")
	}
	return json.Marshal(map[string]any{"other": t.Code})
}

// CoordinateSystem identifies the PNORC velocity frame.
type CoordinateSystem struct {
	Kind string // "enu", "xyz", "beam", or "unknown"
	Code uint8  // populated when Kind == "unknown"
}

func (c CoordinateSystem) MarshalJSON() ([]byte, error) {
	if c.Kind == "unknown" {
		return json.Marshal(map[string]any{"unknown": c.Code})
	}
	return json.Marshal(c.Kind)
}

// AmplitudeUnit identifies the units of PNORC amplitude readings.
type AmplitudeUnit struct {
	Counts bool
	Raw    string // populated when !Counts
}

func (u AmplitudeUnit) MarshalJSON() ([]byte, error) {
	if u.Counts {
		return json.Marshal("counts")
	}
	return json.Marshal(map[string]any{"unknown": u.Raw})
}

// ConfigSentence is the parsed body of a $PNORI sentence. It carries no
// timestamp of its own.
type ConfigSentence struct {
	InstrumentType   InstrumentType   `json:"instrument_type"`
	HeadID           string           `json:"head_id"`
	Beams            uint8            `json:"beams"`
	Cells            uint16           `json:"cells"`
	BlankingM        float32          `json:"blanking_m"`
	CellSizeM        float32          `json:"cell_size_m"`
	CoordinateSystem CoordinateSystem `json:"coordinate_system"`
}

func (ConfigSentence) SentAt() (time.Time, bool) { return time.Time{}, false }
func (ConfigSentence) payloadType() string       { return "config" }

// SensorSentence is the parsed body of a $PNORS sentence.
type SensorSentence struct {
	SentAtField    time.Time `json:"sent_at"`
	ErrorCodeHex   uint32    `json:"error_code_hex"`
	StatusCodeHex  uint32    `json:"status_code_hex"`
	BatteryV       *float32  `json:"battery_voltage_v,omitempty"`
	SoundSpeedMS   *float32  `json:"sound_speed_m_s,omitempty"`
	HeadingDeg     *float32  `json:"heading_deg,omitempty"`
	PitchDeg       *float32  `json:"pitch_deg,omitempty"`
	RollDeg        *float32  `json:"roll_deg,omitempty"`
	PressureDbar   *float32  `json:"pressure_dbar,omitempty"`
	TemperatureC   *float32  `json:"temperature_c,omitempty"`
	AnalogInput1   *float32  `json:"analog_input_1,omitempty"`
	AnalogInput2   *float32  `json:"analog_input_2,omitempty"`
}

func (s SensorSentence) SentAt() (time.Time, bool) { return s.SentAtField, true }
func (SensorSentence) payloadType() string         { return "sensor" }

// CurrentSentence is the parsed body of a $PNORC sentence.
type CurrentSentence struct {
	SentAtField   time.Time     `json:"sent_at"`
	CellNumber    uint16        `json:"cell_number"`
	Velocity1MS   *float32      `json:"velocity_1_m_s,omitempty"`
	Velocity2MS   *float32      `json:"velocity_2_m_s,omitempty"`
	Velocity3MS   *float32      `json:"velocity_3_m_s,omitempty"`
	Velocity4MS   *float32      `json:"velocity_4_m_s,omitempty"`
	SpeedMS       *float32      `json:"speed_m_s,omitempty"`
	DirectionDeg  *float32      `json:"direction_deg,omitempty"`
	AmplitudeUnit AmplitudeUnit `json:"amplitude_unit"`
	Amplitude1    *uint8        `json:"amplitude_beam_1,omitempty"`
	Amplitude2    *uint8        `json:"amplitude_beam_2,omitempty"`
	Amplitude3    *uint8        `json:"amplitude_beam_3,omitempty"`
	Amplitude4    *uint8        `json:"amplitude_beam_4,omitempty"`
	Correlation1  *uint8        `json:"correlation_beam_1_pct,omitempty"`
	Correlation2  *uint8        `json:"correlation_beam_2_pct,omitempty"`
	Correlation3  *uint8        `json:"correlation_beam_3_pct,omitempty"`
	Correlation4  *uint8        `json:"correlation_beam_4_pct,omitempty"`
}

func (c CurrentSentence) SentAt() (time.Time, bool) { return c.SentAtField, true }
func (CurrentSentence) payloadType() string         { return "current" }
