package protocol

import (
	"io"
	"sync"
)

// Sender writes envelopes to the manager stream, one per line. It is safe
// for concurrent use; async command handlers, the reader loop, and the
// signal goroutine all emit through the same Sender.
type Sender struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSender wraps a stream writer, normally the process's stdout.
func NewSender(w io.Writer) *Sender {
	return &Sender{w: w}
}

// Send encodes and writes one envelope of the given kind.
func (s *Sender) Send(kind MessageKind, data map[string]any) error {
	line, err := EncodeEnvelope(kind, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(line)
	return err
}

// SendReady signals that the process finished starting up.
func (s *Sender) SendReady(pid int, version string) error {
	data := map[string]any{"pid": pid}
	if version != "" {
		data["version"] = version
	}
	return s.Send(KindReady, data)
}

// SendLog emits a structured log envelope.
func (s *Sender) SendLog(level LogLevel, message string, fields map[string]any) error {
	data := map[string]any{
		"level":   string(level),
		"message": message,
	}
	if len(fields) > 0 {
		data["fields"] = fields
	}
	return s.Send(KindLog, data)
}

// SendError reports an error to the manager. code and details are included
// only when non-zero / non-empty.
func (s *Sender) SendError(message string, code int, details string) error {
	data := map[string]any{"error": message}
	if code != 0 {
		data["code"] = code
	}
	if details != "" {
		data["details"] = details
	}
	return s.Send(KindError, data)
}

// SendResponse answers a command. command_id, result, and error are written
// only when present.
func (s *Sender) SendResponse(success bool, commandID string, result any, errMsg string) error {
	data := map[string]any{"success": success}
	if commandID != "" {
		data["command_id"] = commandID
	}
	if result != nil {
		data["result"] = result
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	return s.Send(KindResponse, data)
}

// SendProgress emits a command_progress envelope. A progress report with an
// entirely empty payload is suppressed.
func (s *Sender) SendProgress(p Progress) error {
	data := p.payload()
	if len(data) == 0 {
		return nil
	}
	return s.Send(KindCommandProgress, data)
}

// SendRegistry publishes the full command registry snapshot.
func (s *Sender) SendRegistry(defs []CommandDefinition) error {
	commands := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		commands = append(commands, def.Payload())
	}
	return s.Send(KindCommandRegistry, map[string]any{"commands": commands})
}

// SendSystemPrompt publishes the agent's system prompt. When replace is set
// the manager substitutes its base prompt entirely.
func (s *Sender) SendSystemPrompt(prompt string, replace bool) error {
	data := map[string]any{"prompt": prompt}
	if replace {
		data["replace"] = true
	}
	return s.Send(KindSystemPrompt, data)
}

// SendAgentDescription publishes the agent's human-readable description.
func (s *Sender) SendAgentDescription(description string) error {
	return s.Send(KindAgentDescription, map[string]any{"description": description})
}

// SendSidebarSection sends or updates a custom sidebar section.
func (s *Sender) SendSidebarSection(sectionID, title, content string, collapsed bool) error {
	return s.Send(KindSidebarSection, map[string]any{
		"section_id": sectionID,
		"title":      title,
		"content":    content,
		"collapsed":  collapsed,
	})
}

// SendSidebarSectionRemoval removes a previously sent sidebar section.
func (s *Sender) SendSidebarSectionRemoval(sectionID string) error {
	return s.Send(KindSidebarSectionRemoval, map[string]any{"section_id": sectionID})
}
