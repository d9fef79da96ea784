package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEnvelope marks an inbound line that cannot be decoded as a wire
// envelope. The reader loop discards such lines silently.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// ParseEnvelope decodes a single line into an Envelope. A line that is not a
// JSON object, or whose type is missing or outside the closed kind set,
// yields an error wrapping ErrInvalidEnvelope. A missing timestamp is filled
// with the current time.
func ParseEnvelope(line []byte) (*Envelope, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrInvalidEnvelope)
	}

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, env.Type)
	}
	if env.Timestamp == "" {
		env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return &env, nil
}

// EncodeEnvelope serializes an envelope to one newline-terminated line. The
// timestamp is always stamped at encode time.
func EncodeEnvelope(kind MessageKind, data map[string]any) ([]byte, error) {
	env := Envelope{
		Type:      kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	return append(b, '\n'), nil
}
