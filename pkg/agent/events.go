package agent

import (
	"fmt"

	"github.com/opagent/agentkit/pkg/protocol"
)

// Events holds optional application callbacks for manager lifecycle
// notifications. Set the fields you care about during Initialize, before the
// reader loop starts; unset fields mean the event is ignored.
type Events struct {
	// NewConversation fires when a conversation begins. isClear is true
	// when the user cleared an existing conversation rather than opening a
	// fresh one.
	NewConversation func(conversationID string, isClear bool)

	// ConversationSwitched fires when the user moves to another
	// conversation. messageCount is the size of the conversation switched to.
	ConversationSwitched func(conversationID, previousID string, messageCount int)

	// ConversationDeleted fires when a conversation is removed.
	ConversationDeleted func(conversationID string)

	// AgentActivated fires when this agent becomes the active one.
	AgentActivated func(previousAgent, conversationID string)

	// AgentDeactivated fires when the user switches away to nextAgent.
	AgentDeactivated func(nextAgent string)

	// InvocationDirChanged fires after the cached invocation directory has
	// been updated to newPath.
	InvocationDirChanged func(oldPath, newPath string)
}

func (a *Agent) handleLifecycleEvent(ev protocol.LifecycleEvent) {
	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("lifecycle event handler panicked",
				"event_type", ev.EventType, "panic", fmt.Sprint(r))
		}
	}()

	switch ev.EventType {
	case "new_conversation":
		if a.Events.NewConversation != nil {
			a.Events.NewConversation(stringField(data, "conversation_id"), boolField(data, "is_clear"))
		}
	case "conversation_switched":
		if a.Events.ConversationSwitched != nil {
			a.Events.ConversationSwitched(
				stringField(data, "conversation_id"),
				stringField(data, "previous_id"),
				intField(data, "message_count"))
		}
	case "conversation_deleted":
		if a.Events.ConversationDeleted != nil {
			a.Events.ConversationDeleted(stringField(data, "conversation_id"))
		}
	case "agent_activated":
		if a.Events.AgentActivated != nil {
			a.Events.AgentActivated(stringField(data, "previous_agent"), stringField(data, "conversation_id"))
		}
	case "agent_deactivated":
		if a.Events.AgentDeactivated != nil {
			a.Events.AgentDeactivated(stringField(data, "next_agent"))
		}
	case "invocation_directory_changed":
		oldPath := stringField(data, "old_path")
		newPath := stringField(data, "new_path")
		if newPath != "" {
			a.setInvocationDir(newPath)
		}
		if a.Events.InvocationDirChanged != nil {
			a.Events.InvocationDirChanged(oldPath, newPath)
		}
	default:
		a.logger.Debug("ignoring unknown lifecycle event", "event_type", ev.EventType)
	}
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func boolField(data map[string]any, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
