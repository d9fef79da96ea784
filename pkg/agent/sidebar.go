package agent

import (
	"fmt"
	"strings"
)

type sidebarSection struct {
	title     string
	content   string
	collapsed bool
}

// RegisterSection publishes a custom sidebar section. Registering an
// existing id replaces it; an empty title falls back to the id.
func (a *Agent) RegisterSection(sectionID, title, content string, collapsed bool) error {
	id := strings.TrimSpace(sectionID)
	if id == "" {
		return fmt.Errorf("section id must be a non-empty string")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = id
	}

	a.sectionsMu.Lock()
	a.sections[id] = sidebarSection{title: title, content: content, collapsed: collapsed}
	a.sectionsMu.Unlock()

	return a.sender.SendSidebarSection(id, title, content, collapsed)
}

// UpdateSection replaces the content of a registered section, keeping its
// title and collapsed state. Updating an unknown id registers it with the id
// as title.
func (a *Agent) UpdateSection(sectionID, content string) error {
	id := strings.TrimSpace(sectionID)
	if id == "" {
		return fmt.Errorf("section id must be a non-empty string")
	}

	a.sectionsMu.Lock()
	sec, ok := a.sections[id]
	if !ok {
		a.sectionsMu.Unlock()
		return a.RegisterSection(id, id, content, false)
	}
	sec.content = content
	a.sections[id] = sec
	a.sectionsMu.Unlock()

	return a.sender.SendSidebarSection(id, sec.title, content, sec.collapsed)
}

// UnregisterSection removes a section from the sidebar. Returns false when
// the id was never registered.
func (a *Agent) UnregisterSection(sectionID string) bool {
	id := strings.TrimSpace(sectionID)

	a.sectionsMu.Lock()
	_, ok := a.sections[id]
	if ok {
		delete(a.sections, id)
	}
	a.sectionsMu.Unlock()

	if !ok {
		a.logger.Warn("attempted to unregister unknown sidebar section", "section_id", id)
		return false
	}
	a.sender.SendSidebarSectionRemoval(id)
	return true
}
