// Package tui implements the interactive prompts shown while a workflow runs.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// promptState is which part of the prompt has focus.
type promptState int

const (
	stateChoosing promptState = iota
	stateTyping
	stateDone
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Cancel key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Select: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "select"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc", "ctrl+c"),
		key.WithHelp("esc", "decide later"),
	),
}

// promptModel asks the operator to pick an option, optionally followed by
// free text for options that need detail.
type promptModel struct {
	title   string
	body    string
	options []string
	// details maps an option to the placeholder of its follow-up text input.
	details map[string]string
	cursor  int
	state   promptState
	chosen  string
	input   textinput.Model

	answer    string
	cancelled bool
}

func newPromptModel(title, body string, options []string, details map[string]string) promptModel {
	ti := textinput.New()
	ti.CharLimit = 2000
	ti.Width = 60

	m := promptModel{
		title:   title,
		body:    body,
		options: options,
		details: details,
		input:   ti,
	}
	if len(options) == 0 {
		m.state = stateTyping
		m.input.Placeholder = "Type your answer..."
		m.input.Focus()
	}
	return m
}

// Init implements tea.Model.
func (m promptModel) Init() tea.Cmd {
	if m.state == stateTyping {
		return textinput.Blink
	}
	return nil
}

// Update implements tea.Model.
func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		if m.state == stateTyping {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if key.Matches(keyMsg, keys.Cancel) {
		m.cancelled = true
		m.state = stateDone
		return m, tea.Quit
	}

	switch m.state {
	case stateChoosing:
		return m.handleChoosingKeys(keyMsg)
	case stateTyping:
		return m.handleTypingKeys(keyMsg)
	}
	return m, nil
}

func (m promptModel) handleChoosingKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.options)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Select):
		m.chosen = m.options[m.cursor]
		if placeholder, ok := m.details[m.chosen]; ok {
			m.state = stateTyping
			m.input.Placeholder = placeholder
			m.input.Focus()
			return m, textinput.Blink
		}
		m.answer = m.chosen
		m.state = stateDone
		return m, tea.Quit
	}
	return m, nil
}

func (m promptModel) handleTypingKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Select) {
		text := strings.TrimSpace(m.input.Value())
		switch {
		case m.chosen == "":
			m.answer = text
		case text == "":
			m.answer = m.chosen
		default:
			m.answer = m.chosen + " " + text
		}
		m.state = stateDone
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m promptModel) View() string {
	if m.state == stateDone {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	if m.body != "" {
		b.WriteString(m.body)
		b.WriteString("\n\n")
	}

	switch m.state {
	case stateChoosing:
		for i, opt := range m.options {
			if i == m.cursor {
				b.WriteString(selectedStyle.Render("> " + opt))
			} else {
				b.WriteString("  " + opt)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(subtleStyle.Render(helpLine(keys.Up, keys.Down, keys.Select, keys.Cancel)))
	case stateTyping:
		if m.chosen != "" {
			b.WriteString(fmt.Sprintf("%s: ", m.chosen))
		}
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(subtleStyle.Render(helpLine(keys.Select, keys.Cancel)))
	}
	return b.String()
}

func helpLine(bindings ...key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}
