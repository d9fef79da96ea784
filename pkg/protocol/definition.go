package protocol

import (
	"regexp"
	"strings"
	"unicode"
)

// Exposure describes how a command is surfaced to the manager.
type Exposure string

const (
	ExposureTool  Exposure = "agent_tool"
	ExposureSlash Exposure = "slash_command"
)

// SlashScope values. Anything other than "global" normalizes to "local".
const (
	ScopeLocal  = "local"
	ScopeGlobal = "global"
)

// ArgumentSpec is a typed argument declaration for a command. Type must be
// one of string, integer, number, boolean, array, object; anything else
// normalizes to string.
type ArgumentSpec struct {
	Name        string         `yaml:"name"`
	Type        string         `yaml:"type"`
	Description string         `yaml:"description"`
	Required    bool           `yaml:"required"`
	Default     any            `yaml:"default"`
	Enum        []any          `yaml:"enum"`
	Items       map[string]any `yaml:"items"`
	Properties  map[string]any `yaml:"properties"`
}

var validArgumentTypes = map[string]bool{
	"string": true, "integer": true, "number": true,
	"boolean": true, "array": true, "object": true,
}

// Normalized returns a canonical copy of the spec. Normalizing an already
// normalized spec yields an identical value. A spec whose name is blank
// after trimming is reported via the second return value.
func (a ArgumentSpec) Normalized() (ArgumentSpec, bool) {
	out := a
	out.Name = strings.TrimSpace(a.Name)
	if out.Name == "" {
		return out, false
	}

	out.Type = strings.ToLower(strings.TrimSpace(a.Type))
	if !validArgumentTypes[out.Type] {
		out.Type = "string"
	}

	out.Description = strings.TrimSpace(a.Description)

	if len(a.Enum) > 0 {
		var values []any
		for _, v := range a.Enum {
			if v == nil {
				continue
			}
			values = append(values, v)
		}
		out.Enum = values
	} else {
		out.Enum = nil
	}

	return out, true
}

func (a ArgumentSpec) payload() map[string]any {
	norm, ok := a.Normalized()
	if !ok {
		norm = a
	}
	data := map[string]any{
		"name": norm.Name,
		"type": norm.Type,
	}
	if norm.Description != "" {
		data["description"] = norm.Description
	}
	if norm.Required {
		data["required"] = true
	}
	if norm.Default != nil {
		data["default"] = norm.Default
	}
	if len(norm.Enum) > 0 {
		data["enum"] = norm.Enum
	}
	if len(norm.Items) > 0 {
		data["items"] = norm.Items
	}
	if len(norm.Properties) > 0 {
		data["properties"] = norm.Properties
	}
	return data
}

// CommandDefinition describes a command the managed process exposes.
type CommandDefinition struct {
	Name             string
	Title            string
	Description      string
	ExposeAs         []Exposure
	SlashCommand     string
	SlashScope       string
	ArgumentHint     string
	ArgumentRequired bool
	Arguments        []ArgumentSpec
	Async            bool
	ProgressLabel    string
	Hidden           bool
}

// Normalized returns the canonical form of the definition: title derived
// from the name when absent, at least one exposure (defaulting to
// agent_tool), a slash alias derived when slash exposure is requested
// without one, scope normalized, argument names deduplicated keeping the
// first occurrence. Normalization is idempotent.
func (d CommandDefinition) Normalized() CommandDefinition {
	out := d

	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = d.Name
	}
	out.Name = name

	out.Title = strings.TrimSpace(d.Title)
	if out.Title == "" {
		out.Title = deriveTitle(name)
		if out.Title == "" {
			out.Title = name
		}
	}

	out.Description = strings.TrimSpace(d.Description)

	var exposures []Exposure
	seen := map[Exposure]bool{}
	for _, e := range d.ExposeAs {
		exp := Exposure(strings.ToLower(strings.TrimSpace(string(e))))
		if exp != ExposureTool && exp != ExposureSlash {
			continue
		}
		if !seen[exp] {
			exposures = append(exposures, exp)
			seen[exp] = true
		}
	}
	if len(exposures) == 0 {
		exposures = []Exposure{ExposureTool}
		seen[ExposureTool] = true
	}

	if d.SlashCommand != "" {
		out.SlashCommand = normalizeSlash(d.SlashCommand)
		if !seen[ExposureSlash] {
			exposures = append(exposures, ExposureSlash)
		}
	} else if seen[ExposureSlash] {
		out.SlashCommand = normalizeSlash(name)
	} else {
		out.SlashCommand = ""
	}
	out.ExposeAs = exposures

	out.SlashScope = normalizeScope(d.SlashScope)
	out.ArgumentHint = strings.TrimSpace(d.ArgumentHint)

	out.Arguments = normalizeArguments(d.Arguments)
	out.ArgumentRequired = d.ArgumentRequired
	for _, arg := range out.Arguments {
		if arg.Required {
			out.ArgumentRequired = true
			break
		}
	}

	out.ProgressLabel = strings.TrimSpace(d.ProgressLabel)

	return out
}

// Payload serializes the normalized definition with only non-default fields
// present, matching what the manager expects in command_registry envelopes.
func (d CommandDefinition) Payload() map[string]any {
	norm := d.Normalized()
	data := map[string]any{"name": norm.Name}
	if norm.Title != "" {
		data["title"] = norm.Title
	}
	if norm.Description != "" {
		data["description"] = norm.Description
	}
	if len(norm.ExposeAs) > 0 {
		exposures := make([]string, 0, len(norm.ExposeAs))
		for _, e := range norm.ExposeAs {
			exposures = append(exposures, string(e))
		}
		data["expose_as"] = exposures
	}
	if norm.SlashCommand != "" {
		data["slash_command"] = norm.SlashCommand
	}
	if norm.SlashScope != "" {
		data["slash_scope"] = norm.SlashScope
	}
	if norm.ArgumentHint != "" {
		data["argument_hint"] = norm.ArgumentHint
	}
	if norm.ArgumentRequired {
		data["argument_required"] = true
	}
	if len(norm.Arguments) > 0 {
		specs := make([]map[string]any, 0, len(norm.Arguments))
		for _, arg := range norm.Arguments {
			specs = append(specs, arg.payload())
		}
		data["arguments"] = specs
	}
	if norm.Async {
		data["async"] = true
	}
	if norm.ProgressLabel != "" {
		data["progress_label"] = norm.ProgressLabel
	}
	if norm.Hidden {
		data["hidden"] = true
	}
	return data
}

func normalizeArguments(specs []ArgumentSpec) []ArgumentSpec {
	if len(specs) == 0 {
		return nil
	}
	var out []ArgumentSpec
	seen := map[string]bool{}
	for _, spec := range specs {
		norm, ok := spec.Normalized()
		if !ok {
			continue
		}
		if seen[norm.Name] {
			continue
		}
		out = append(out, norm)
		seen[norm.Name] = true
	}
	return out
}

func normalizeScope(value string) string {
	if strings.ToLower(strings.TrimSpace(value)) == ScopeGlobal {
		return ScopeGlobal
	}
	return ScopeLocal
}

var (
	titleSeparators = regexp.MustCompile(`[_\-.:]+`)
	camelBoundary   = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	acronymBoundary = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
)

// deriveTitle turns a command name like "fetch_data" or "fetchData" into a
// human title ("Fetch Data"). All-caps tokens and digit runs are preserved.
func deriveTitle(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}

	cleaned := titleSeparators.ReplaceAllString(trimmed, " ")
	cleaned = camelBoundary.ReplaceAllString(cleaned, "$1 $2")
	cleaned = acronymBoundary.ReplaceAllString(cleaned, "$1 $2")
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return trimmed
	}

	for i, word := range words {
		words[i] = titleWord(word)
	}
	return strings.Join(words, " ")
}

func titleWord(word string) string {
	if isDigits(word) {
		return word
	}
	if len(word) > 1 && word == strings.ToUpper(word) && word != strings.ToLower(word) {
		return word
	}
	lower := strings.ToLower(word)
	runes := []rune(lower)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// normalizeSlash canonicalizes a slash alias: leading slashes stripped,
// alphanumerics plus "_-:" kept lowercased, runs of anything else collapse
// to a single underscore, and the result is prefixed with "/".
func normalizeSlash(value string) string {
	candidate := strings.TrimLeft(strings.TrimSpace(value), "/")
	if candidate == "" {
		candidate = "command"
	}

	var cleaned []rune
	for _, ch := range candidate {
		switch {
		case unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '-' || ch == ':':
			cleaned = append(cleaned, unicode.ToLower(ch))
		case unicode.IsSpace(ch):
			if len(cleaned) == 0 || cleaned[len(cleaned)-1] != '_' {
				cleaned = append(cleaned, '_')
			}
		default:
			if len(cleaned) > 0 && cleaned[len(cleaned)-1] != '_' {
				cleaned = append(cleaned, '_')
			}
		}
	}

	slug := strings.Trim(string(cleaned), "_")
	if slug == "" {
		slug = strings.ToLower(strings.ReplaceAll(candidate, " ", "_"))
	}
	return "/" + slug
}
