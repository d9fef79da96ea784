package args

import (
	"fmt"

	"github.com/opagent/agentkit/pkg/protocol"
)

// Prepare validates and coerces the raw argument map of a command invocation
// against the definition's schema. Declared arguments absent from the input
// get a deep copy of their default, or an error when required. Coerced
// values are checked against enum constraints. Keys not declared in the
// schema pass through unchanged. Without a schema the input passes through,
// except that a definition marked argument-required rejects empty input.
func Prepare(def *protocol.CommandDefinition, raw map[string]any) (map[string]any, error) {
	incoming := make(map[string]any, len(raw))
	for k, v := range raw {
		incoming[k] = v
	}

	if def != nil && len(def.Arguments) > 0 {
		return prepareFromSchema(def.Arguments, incoming)
	}

	if def != nil && def.ArgumentRequired && len(incoming) == 0 {
		return nil, fmt.Errorf("arguments are required for this command")
	}
	return incoming, nil
}

func prepareFromSchema(schema []protocol.ArgumentSpec, incoming map[string]any) (map[string]any, error) {
	prepared := make(map[string]any, len(schema))

	for _, spec := range schema {
		value, present := incoming[spec.Name]
		if !present || value == nil {
			if spec.Default == nil {
				if spec.Required {
					return nil, fmt.Errorf("missing required argument '%s'", spec.Name)
				}
				continue
			}
			// Defaults skip coercion but not the enum constraint.
			fallback := DeepCopy(spec.Default)
			if len(spec.Enum) > 0 && !enumContains(spec.Enum, fallback) {
				return nil, fmt.Errorf("invalid value for '%s'; expected one of %v", spec.Name, spec.Enum)
			}
			prepared[spec.Name] = fallback
			continue
		}

		coerced, err := Coerce(spec.Type, value, spec.Items, spec.Properties)
		if err != nil {
			return nil, fmt.Errorf("argument '%s': %v", spec.Name, err)
		}

		if len(spec.Enum) > 0 && !enumContains(spec.Enum, coerced) {
			return nil, fmt.Errorf("invalid value for '%s'; expected one of %v", spec.Name, spec.Enum)
		}
		prepared[spec.Name] = coerced
	}

	// Keys not claimed by the schema pass through as-is. This also
	// keeps an explicit null for a declared optional argument.
	for key, value := range incoming {
		if _, ok := prepared[key]; !ok {
			prepared[key] = value
		}
	}
	return prepared, nil
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if valueEqual(candidate, value) {
			return true
		}
	}
	return false
}
