package agent

import (
	"context"
	"log/slog"

	"github.com/opagent/agentkit/pkg/protocol"
)

// envelopeHandler is a slog.Handler that emits log envelopes on the manager
// stream instead of writing to a local sink. The manager owns formatting and
// level filtering on its side, so the handler passes everything through.
type envelopeHandler struct {
	sender *protocol.Sender
	attrs  []slog.Attr
	prefix string
}

func newEnvelopeHandler(sender *protocol.Sender) *envelopeHandler {
	return &envelopeHandler{sender: sender}
}

func (h *envelopeHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *envelopeHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, attr := range h.attrs {
		// Keys were prefixed when the attr was attached.
		put(fields, attr.Key, attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		put(fields, h.prefix+attr.Key, attr)
		return true
	})
	return h.sender.SendLog(wireLevel(r.Level), r.Message, fields)
}

func put(fields map[string]any, key string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	fields[key] = attr.Value.Resolve().Any()
}

func (h *envelopeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, attr := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.prefix + attr.Key, Value: attr.Value})
	}
	return &clone
}

func (h *envelopeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func wireLevel(level slog.Level) protocol.LogLevel {
	switch {
	case level < slog.LevelInfo:
		return protocol.LevelDebug
	case level < slog.LevelWarn:
		return protocol.LevelInfo
	case level < slog.LevelError:
		return protocol.LevelWarning
	default:
		return protocol.LevelError
	}
}
