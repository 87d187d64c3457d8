package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Envelope is the wire unit exchanged on every channel.
// Outbound frames always carry all four fields; inbound telemetry may arrive
// as a bare value, in which case only Data is set.
type Envelope struct {
	Sender    string          `json:"usr"`  // identity of the originating console
	Kind      string          `json:"msg"`  // message semantics, e.g. "eval", "zone"
	Data      json.RawMessage `json:"data"` // kind dependent payload
	Timestamp int64           `json:"ts"`   // unix milliseconds at send time
}

// ErrDecode is matched by every error returned from Decode and DecodeData.
var ErrDecode = errors.New("envelope: malformed frame")

// DecodeError describes an inbound frame that could not be parsed.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope: %s: %v", e.Reason, e.Err)
	}
	return "envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Codec frames outbound messages for one sender identity.
type Codec struct {
	Sender string
	Now    func() time.Time // nil means time.Now
}

// NewCodec returns a Codec stamping frames with the wall clock.
func NewCodec(sender string) *Codec {
	return &Codec{Sender: sender, Now: time.Now}
}

// Encode builds the frame for kind and payload.
func (c *Codec) Encode(kind string, payload any) ([]byte, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return EncodeAt(c.Sender, kind, payload, now())
}

// Encode serializes an envelope stamped with the current time.
func Encode(sender, kind string, payload any) ([]byte, error) {
	return EncodeAt(sender, kind, payload, time.Now())
}

// EncodeAt serializes an envelope stamped with ts.
func EncodeAt(sender, kind string, payload any, ts time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal %q payload: %w", kind, err)
	}
	frame, err := json.Marshal(Envelope{
		Sender:    sender,
		Kind:      kind,
		Data:      data,
		Timestamp: ts.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal frame: %w", err)
	}
	return frame, nil
}

// Decode parses an inbound frame. Full envelopes, minimal objects carrying
// only some envelope keys, and bare JSON values are all accepted.
func Decode(frame []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Reason: "empty frame"}
	}
	if !json.Valid(trimmed) {
		return nil, &DecodeError{Reason: "invalid json"}
	}
	if trimmed[0] != '{' {
		return &Envelope{Data: json.RawMessage(trimmed)}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, &DecodeError{Reason: "invalid object", Err: err}
	}
	if !hasEnvelopeKey(fields) {
		return &Envelope{Data: json.RawMessage(trimmed)}, nil
	}

	env := &Envelope{Data: fields["data"]}
	if raw, ok := fields["usr"]; ok {
		if err := decodeString(raw, &env.Sender); err != nil {
			return nil, &DecodeError{Reason: "usr is not a string", Err: err}
		}
	}
	if raw, ok := fields["msg"]; ok {
		if err := decodeString(raw, &env.Kind); err != nil {
			return nil, &DecodeError{Reason: "msg is not a string", Err: err}
		}
	}
	if raw, ok := fields["ts"]; ok {
		ts, err := decodeTimestamp(raw)
		if err != nil {
			return nil, &DecodeError{Reason: "ts is not a timestamp", Err: err}
		}
		env.Timestamp = ts
	}
	return env, nil
}

// DecodeData unmarshals the payload into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return &DecodeError{Reason: "missing data"}
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &DecodeError{Reason: "unexpected data shape", Err: err}
	}
	return nil
}

// Time returns the send time carried by the envelope.
func (e *Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

func hasEnvelopeKey(fields map[string]json.RawMessage) bool {
	for _, k := range []string{"usr", "msg", "data", "ts"} {
		if _, ok := fields[k]; ok {
			return true
		}
	}
	return false
}

func decodeString(raw json.RawMessage, dst *string) error {
	if string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// decodeTimestamp accepts integer, float and numeric string forms.
func decodeTimestamp(raw json.RawMessage) (int64, error) {
	if string(raw) == "null" {
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		n = json.Number(s)
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, err
	}
	// float64(math.MaxInt64) rounds up to 2^63, which no longer fits
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%s out of range", n)
	}
	return int64(f), nil
}
