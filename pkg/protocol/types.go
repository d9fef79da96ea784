package protocol

// MessageKind identifies the kind of a wire envelope. The set is closed;
// envelopes with an unrecognized kind are not valid.
type MessageKind string

const (
	KindReady MessageKind = "ready"

	KindLog MessageKind = "log"

	// Manager-to-process application notifications (distinct from OS signals).
	KindLifecycleEvent MessageKind = "lifecycle_event"

	KindCommand          MessageKind = "command"
	KindResponse         MessageKind = "response"
	KindCommandRegistry  MessageKind = "command_registry"
	KindSystemPrompt     MessageKind = "system_prompt"
	KindAgentDescription MessageKind = "agent_description"
	KindCommandProgress  MessageKind = "command_progress"

	KindSidebarSection        MessageKind = "sidebar_section"
	KindSidebarSectionRemoval MessageKind = "sidebar_section_removal"

	KindError MessageKind = "error"
)

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindReady, KindLog, KindLifecycleEvent, KindCommand, KindResponse,
		KindCommandRegistry, KindSystemPrompt, KindAgentDescription,
		KindCommandProgress, KindSidebarSection, KindSidebarSectionRemoval,
		KindError:
		return true
	}
	return false
}

// LogLevel is the severity carried by log envelopes.
type LogLevel string

const (
	LevelDebug   LogLevel = "debug"
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelFatal   LogLevel = "fatal"
)

// Envelope is the wire message: one JSON object per newline-terminated line.
type Envelope struct {
	Type      MessageKind    `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Command is the payload of an inbound command envelope.
type Command struct {
	Command    string
	Args       map[string]any
	ID         string
	WorkingDir string
}

// CommandFromData extracts a Command from envelope data. Missing or
// wrongly-typed fields are left zero.
func CommandFromData(data map[string]any) Command {
	cmd := Command{}
	if v, ok := data["command"].(string); ok {
		cmd.Command = v
	}
	if v, ok := data["args"].(map[string]any); ok {
		cmd.Args = v
	}
	if v, ok := data["id"].(string); ok {
		cmd.ID = v
	}
	if v, ok := data["working_dir"].(string); ok {
		cmd.WorkingDir = v
	}
	return cmd
}

// LifecycleEvent is the payload of an inbound lifecycle_event envelope.
type LifecycleEvent struct {
	EventType string
	Data      map[string]any
}

// LifecycleEventFromData extracts a LifecycleEvent from envelope data.
func LifecycleEventFromData(data map[string]any) LifecycleEvent {
	ev := LifecycleEvent{}
	if v, ok := data["event_type"].(string); ok {
		ev.EventType = v
	}
	if v, ok := data["data"].(map[string]any); ok {
		ev.Data = v
	}
	return ev
}

// Progress is an incremental status update for an in-flight command.
// Empty fields are omitted from the wire payload; a Progress whose payload
// would be empty is suppressed entirely by the sender.
type Progress struct {
	CommandID string
	Text      string
	Metadata  map[string]any
	Status    string
	Ratio     *float64
}

func (p Progress) payload() map[string]any {
	data := map[string]any{}
	if p.CommandID != "" {
		data["command_id"] = p.CommandID
	}
	if p.Text != "" {
		data["text"] = p.Text
	}
	if len(p.Metadata) > 0 {
		data["metadata"] = p.Metadata
	}
	if p.Status != "" {
		data["status"] = p.Status
	}
	if p.Ratio != nil {
		data["progress"] = *p.Ratio
	}
	return data
}
