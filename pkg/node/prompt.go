// SPDX-License-Identifier: Apache-2.0
package node

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Format substitutes {name} placeholders from refs. Placeholders without a
// binding are kept literally so partially-bound templates survive intact.
func Format(template string, refs map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := refs[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		return m
	})
}

// PromptSection is one labeled block of a structured system prompt.
type PromptSection struct {
	Type  string   `json:"type"`
	Items []string `json:"items"`
}

// Prompt is a stored, structured prompt that non-inline nodes reference by id.
type Prompt struct {
	ID              string          `json:"id"`
	Title           string          `json:"title,omitempty"`
	Topic           string          `json:"topic,omitempty"`
	RoleToneContext string          `json:"roleToneContext,omitempty"`
	SystemSections  []PromptSection `json:"systemSections,omitempty"`
	Goals           []string        `json:"goals,omitempty"`
	Guidelines      []string        `json:"guidelines,omitempty"`
	Rules           []string        `json:"rules,omitempty"`
	Instructions    []string        `json:"instructions,omitempty"`
	HumanInputs     []string        `json:"humanInputs,omitempty"`
	SysInputs       []string        `json:"sysInputs,omitempty"`
	Prompt          string          `json:"prompt,omitempty"`
}

// PromptStore resolves stored prompts by id.
type PromptStore interface {
	Get(id string) (Prompt, bool)
}

// MapPromptStore is an in-memory PromptStore.
type MapPromptStore map[string]Prompt

// Get implements PromptStore.
func (m MapPromptStore) Get(id string) (Prompt, bool) {
	p, ok := m[id]
	return p, ok
}

// ResolveTemplates picks the active system/user templates for a node: inline
// text when selection is empty or "inline", otherwise the stored prompt's
// composed sections. A missing store entry falls back to the inline text.
func ResolveTemplates(store PromptStore, selection, inlineSystem, inlineUser string) (string, string) {
	selection = strings.TrimSpace(selection)
	if selection == "" || selection == "inline" || store == nil {
		return inlineSystem, inlineUser
	}
	p, ok := store.Get(selection)
	if !ok {
		return inlineSystem, inlineUser
	}

	system := p.ComposeSystem()
	if system == "" {
		system = inlineSystem
	}
	user := p.ComposeUser()
	if user == "" {
		user = inlineUser
	}
	return system, user
}

// ComposeSystem renders the system half of a stored prompt: role context
// first, then each labeled section as a numbered list.
func (p Prompt) ComposeSystem() string {
	var parts []string
	if s := strings.TrimSpace(p.RoleToneContext); s != "" {
		parts = append(parts, s)
	}
	for _, sec := range p.SystemSections {
		addSection(&parts, sec.Type, joinNumbered(sec.Items))
	}
	addSection(&parts, "Goals", joinNumbered(p.Goals))
	addSection(&parts, "Guidelines", joinNumbered(p.Guidelines))
	addSection(&parts, "Rules", joinNumbered(p.Rules))
	return strings.Join(parts, "\n\n")
}

// ComposeUser renders the user half of a stored prompt.
func (p Prompt) ComposeUser() string {
	var parts []string
	for _, v := range []string{p.Title, p.Topic} {
		if s := strings.TrimSpace(v); s != "" {
			parts = append(parts, s)
		}
	}
	addSection(&parts, "Instructions", joinNumbered(p.Instructions))
	addSection(&parts, "Provide", joinNumbered(p.HumanInputs))
	addSection(&parts, "System Inputs", joinNumbered(p.SysInputs))
	if s := strings.TrimSpace(p.Prompt); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

func addSection(parts *[]string, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	if title != "" {
		*parts = append(*parts, "["+title+"]\n"+body)
	} else {
		*parts = append(*parts, body)
	}
}

func joinNumbered(items []string) string {
	var lines []string
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			lines = append(lines, fmt.Sprintf("%d. %s", len(lines)+1, s))
		}
	}
	return strings.Join(lines, "\n")
}
