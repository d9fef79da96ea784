package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/opagent/agentkit/pkg/protocol"
)

// Handler executes a command invocation. The context carries the
// per-invocation Invocation value; args have already been validated and
// coerced against the command's schema.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// registry maps command names to handlers and normalized definitions.
// Reads and writes are guarded so registration may overlap dispatch.
type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	defs     map[string]protocol.CommandDefinition
}

func newRegistry() *registry {
	return &registry{
		handlers: make(map[string]Handler),
		defs:     make(map[string]protocol.CommandDefinition),
	}
}

func (r *registry) register(name string, handler Handler, def protocol.CommandDefinition) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("command name must be a non-empty string")
	}
	if handler == nil {
		return "", fmt.Errorf("handler must not be nil")
	}

	def.Name = trimmed
	normalized := def.Normalized()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[trimmed] = handler
	r.defs[trimmed] = normalized
	return trimmed, nil
}

func (r *registry) unregister(name string) bool {
	trimmed := strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[trimmed]; !ok {
		return false
	}
	delete(r.handlers, trimmed)
	delete(r.defs, trimmed)
	return true
}

func (r *registry) lookup(name string) (Handler, protocol.CommandDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	if !ok {
		return nil, protocol.CommandDefinition{}, false
	}
	return handler, r.defs[name], true
}

// definitions returns the normalized definitions in name-sorted order.
func (r *registry) definitions() []protocol.CommandDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]protocol.CommandDefinition, 0, len(names))
	for _, name := range names {
		out = append(out, r.defs[name])
	}
	return out
}
