package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, env *Envelope)
	}{
		{
			name:  "valid command envelope",
			input: `{"type":"command","timestamp":"2026-08-01T10:00:00Z","data":{"command":"greet","id":"1"}}`,
			checkFn: func(t *testing.T, env *Envelope) {
				if env.Type != KindCommand {
					t.Errorf("type = %q, want command", env.Type)
				}
				if env.Data["command"] != "greet" {
					t.Errorf("data.command = %v, want greet", env.Data["command"])
				}
			},
		},
		{
			name:  "missing timestamp is filled",
			input: `{"type":"lifecycle_event","data":{"event_type":"new_conversation"}}`,
			checkFn: func(t *testing.T, env *Envelope) {
				if env.Timestamp == "" {
					t.Error("timestamp not filled")
				}
			},
		},
		{
			name:  "null data",
			input: `{"type":"ready","timestamp":"2026-08-01T10:00:00Z","data":null}`,
			checkFn: func(t *testing.T, env *Envelope) {
				if env.Data != nil {
					t.Errorf("data = %v, want nil", env.Data)
				}
			},
		},
		{
			name:    "unknown kind",
			input:   `{"type":"bogus","data":{}}`,
			wantErr: true,
		},
		{
			name:    "missing type",
			input:   `{"data":{"command":"greet"}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   "plain noise on the channel",
			wantErr: true,
		},
		{
			name:    "empty line",
			input:   "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.input))

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrInvalidEnvelope) {
					t.Errorf("error = %v, want ErrInvalidEnvelope", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEnvelope() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, env)
			}
		})
	}
}

func TestEncodeEnvelope(t *testing.T) {
	line, err := EncodeEnvelope(KindReady, map[string]any{"pid": 42})
	if err != nil {
		t.Fatalf("EncodeEnvelope() error = %v", err)
	}
	if !bytes.HasSuffix(line, []byte("\n")) {
		t.Error("encoded envelope is not newline-terminated")
	}
	if bytes.Count(line, []byte("\n")) != 1 {
		t.Error("encoded envelope spans multiple lines")
	}

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		t.Fatalf("round-trip decode failed: %v", err)
	}
	if env.Type != KindReady {
		t.Errorf("type = %q, want ready", env.Type)
	}
	if env.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestSenderResponsePayload(t *testing.T) {
	tests := []struct {
		name      string
		success   bool
		commandID string
		result    any
		errMsg    string
		wantKeys  []string
		skipKeys  []string
	}{
		{
			name:      "success with result",
			success:   true,
			commandID: "1",
			result:    map[string]any{"greeting": "Hello, Ada"},
			wantKeys:  []string{`"success":true`, `"command_id":"1"`, `"result"`},
			skipKeys:  []string{`"error"`},
		},
		{
			name:     "failure without id",
			success:  false,
			errMsg:   "unknown command: nope",
			wantKeys: []string{`"success":false`, `"error"`},
			skipKeys: []string{`"command_id"`, `"result"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := NewSender(&buf)
			if err := s.SendResponse(tt.success, tt.commandID, tt.result, tt.errMsg); err != nil {
				t.Fatalf("SendResponse() error = %v", err)
			}
			out := buf.String()
			for _, key := range tt.wantKeys {
				if !strings.Contains(out, key) {
					t.Errorf("output missing %s: %s", key, out)
				}
			}
			for _, key := range tt.skipKeys {
				if strings.Contains(out, key) {
					t.Errorf("output should not contain %s: %s", key, out)
				}
			}
		})
	}
}

func TestSenderProgressSuppressesEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender(&buf)

	if err := s.SendProgress(Progress{}); err != nil {
		t.Fatalf("SendProgress() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty progress emitted an envelope: %s", buf.String())
	}

	ratio := 0.5
	if err := s.SendProgress(Progress{CommandID: "7", Text: "halfway", Ratio: &ratio}); err != nil {
		t.Fatalf("SendProgress() error = %v", err)
	}
	out := buf.String()
	for _, key := range []string{`"command_id":"7"`, `"text":"halfway"`, `"progress":0.5`} {
		if !strings.Contains(out, key) {
			t.Errorf("output missing %s: %s", key, out)
		}
	}
}

func TestSenderReady(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender(&buf)
	if err := s.SendReady(123, ""); err != nil {
		t.Fatalf("SendReady() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"pid":123`) {
		t.Errorf("missing pid: %s", out)
	}
	if strings.Contains(out, `"version"`) {
		t.Errorf("empty version should be omitted: %s", out)
	}
}
