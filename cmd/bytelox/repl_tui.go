package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chazu/bytelox/compiler"
)

// Below this width the globals panel goes under the transcript.
const wideLayout = 80

// ---------------------------------------------------------------------------
// Theme and keys
// ---------------------------------------------------------------------------

type tuiTheme struct {
	title     lipgloss.Style
	status    lipgloss.Style
	prompt    lipgloss.Style
	echo      lipgloss.Style
	value     lipgloss.Style
	output    lipgloss.Style
	err       lipgloss.Style
	info      lipgloss.Style
	panel     lipgloss.Style
	panelHead lipgloss.Style
	name      lipgloss.Style
	kind      lipgloss.Style
}

func newTheme() tuiTheme {
	accent := lipgloss.AdaptiveColor{Light: "#5B3CC4", Dark: "#A78BFA"}
	dim := lipgloss.AdaptiveColor{Light: "#737373", Dark: "#8C8C8C"}
	return tuiTheme{
		title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(accent).Padding(0, 1),
		status:    lipgloss.NewStyle().Foreground(dim).PaddingLeft(1),
		prompt:    lipgloss.NewStyle().Foreground(accent).Bold(true),
		echo:      lipgloss.NewStyle().Foreground(dim),
		value:     lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0B7A52", Dark: "#34D399"}),
		output:    lipgloss.NewStyle(),
		err:       lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B42318", Dark: "#F87171"}),
		info:      lipgloss.NewStyle().Foreground(dim).Italic(true),
		panel:     lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(accent).PaddingLeft(1),
		panelHead: lipgloss.NewStyle().Bold(true).Foreground(accent),
		name:      lipgloss.NewStyle().Bold(true),
		kind:      lipgloss.NewStyle().Foreground(dim),
	}
}

// tuiKeys implements help.KeyMap.
type tuiKeys struct {
	Run      key.Binding
	Complete key.Binding
	Older    key.Binding
	Newer    key.Binding
	Globals  key.Binding
	Clear    key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func newTUIKeys() tuiKeys {
	return tuiKeys{
		Run:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "run")),
		Complete: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "complete")),
		Older:    key.NewBinding(key.WithKeys("up", "ctrl+p"), key.WithHelp("↑", "older line")),
		Newer:    key.NewBinding(key.WithKeys("down", "ctrl+n"), key.WithHelp("↓", "newer line")),
		Globals:  key.NewBinding(key.WithKeys("ctrl+g"), key.WithHelp("ctrl+g", "globals")),
		Clear:    key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear")),
		Help:     key.NewBinding(key.WithKeys("f1"), key.WithHelp("f1", "all keys")),
		Quit:     key.NewBinding(key.WithKeys("ctrl+c", "ctrl+d"), key.WithHelp("ctrl+d", "quit")),
	}
}

func (k tuiKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Run, k.Complete, k.Globals, k.Help, k.Quit}
}

func (k tuiKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Run, k.Complete, k.Older, k.Newer},
		{k.Globals, k.Clear, k.Help, k.Quit},
	}
}

// ---------------------------------------------------------------------------
// Line history
// ---------------------------------------------------------------------------

// lineHistory recalls earlier input. Moving past the newest line brings
// back whatever was being typed before recall started.
type lineHistory struct {
	lines []string
	pos   int // len(lines) while editing the draft
	draft string
}

func (h *lineHistory) add(line string) {
	if n := len(h.lines); n == 0 || h.lines[n-1] != line {
		h.lines = append(h.lines, line)
	}
	h.pos = len(h.lines)
	h.draft = ""
}

func (h *lineHistory) older(current string) (string, bool) {
	if h.pos == 0 {
		return "", false
	}
	if h.pos == len(h.lines) {
		h.draft = current
	}
	h.pos--
	return h.lines[h.pos], true
}

func (h *lineHistory) newer() (string, bool) {
	if h.pos >= len(h.lines) {
		return "", false
	}
	h.pos++
	if h.pos == len(h.lines) {
		return h.draft, true
	}
	return h.lines[h.pos], true
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type transcriptEntry struct {
	input  string
	result lineResult
}

type replModel struct {
	session *replSession
	input   textinput.Model
	help    help.Model
	keys    tuiKeys
	theme   tuiTheme

	transcript []transcriptEntry
	lines      lineHistory
	candidates []string
	showVars   bool

	width    int
	height   int
	quitting bool
}

func newREPLModel(session *replSession) replModel {
	theme := newTheme()
	in := textinput.New()
	in.Prompt = "> "
	in.PromptStyle = theme.prompt
	in.Placeholder = "expression, statement or :help"
	in.CharLimit = 1000
	in.Focus()

	return replModel{
		session: session,
		input:   in,
		help:    help.New(),
		keys:    newTUIKeys(),
		theme:   theme,
	}
}

func (m replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case tea.KeyMsg:
		if !key.Matches(msg, m.keys.Complete) {
			m.candidates = nil
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Run):
			return m.submit()
		case key.Matches(msg, m.keys.Complete):
			return m.complete(), nil
		case key.Matches(msg, m.keys.Older):
			if line, ok := m.lines.older(m.input.Value()); ok {
				m.setInput(line)
			}
			return m, nil
		case key.Matches(msg, m.keys.Newer):
			if line, ok := m.lines.newer(); ok {
				m.setInput(line)
			}
			return m, nil
		case key.Matches(msg, m.keys.Globals):
			m.showVars = !m.showVars
			return m, nil
		case key.Matches(msg, m.keys.Clear):
			m.transcript = nil
			return m, nil
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *replModel) setInput(s string) {
	m.input.SetValue(s)
	m.input.CursorEnd()
}

func (m replModel) submit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.input.Value())
	if input == "" {
		return m, nil
	}
	m.setInput("")
	m.lines.add(input)

	if !strings.HasPrefix(input, ":") {
		m.transcript = append(m.transcript, transcriptEntry{input: input, result: m.session.run(input)})
		return m, nil
	}

	res := m.session.command(input)
	switch {
	case res.quit:
		m.quitting = true
		return m, tea.Quit
	case res.toggle == "help":
		m.help.ShowAll = !m.help.ShowAll
	case res.toggle == "vars":
		m.showVars = !m.showVars
	default:
		kind := lineInfo
		if res.isErr {
			kind = lineError
		}
		m.transcript = append(m.transcript, transcriptEntry{input: input, result: lineResult{res.output, kind}})
	}
	return m, nil
}

// complete finishes the identifier before the cursor. With several
// candidates it extends to their common prefix and lists them under the
// prompt until the next key.
func (m replModel) complete() replModel {
	value := []rune(m.input.Value())
	end := m.input.Position()
	start := end
	for start > 0 && value[start-1] < utf8.RuneSelf && compiler.IsIdentByte(byte(value[start-1])) {
		start--
	}
	if start == end {
		return m
	}

	found := m.session.completions(string(value[start:end]))
	if len(found) == 0 {
		return m
	}
	word := found[0]
	if len(found) > 1 {
		word = commonPrefix(found)
		m.candidates = found
	}
	m.input.SetValue(string(value[:start]) + word + string(value[end:]))
	m.input.SetCursor(start + len([]rune(word)))
	return m
}

func commonPrefix(words []string) string {
	prefix := words[0]
	for _, w := range words[1:] {
		for !strings.HasPrefix(w, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

func (m replModel) View() string {
	if m.quitting {
		return ""
	}
	t := m.theme

	header := t.title.Render("bytelox") + t.status.Render(m.status())
	prompt := m.input.View()
	if len(m.candidates) > 0 {
		prompt += "\n" + t.info.Render(strings.Join(m.candidates, "  "))
	}
	footer := m.help.View(m.keys)

	var panel string
	if m.showVars {
		panel = m.globalsPanel()
	}
	wide := m.width >= wideLayout

	lines := m.transcriptLines()
	if m.height > 0 {
		used := lipgloss.Height(header) + lipgloss.Height(prompt) + lipgloss.Height(footer) + 2
		if panel != "" && !wide {
			used += lipgloss.Height(panel)
		}
		if room := max(m.height-used, 1); len(lines) > room {
			lines = lines[len(lines)-room:]
		}
	}
	body := strings.Join(lines, "\n")

	switch {
	case panel == "":
	case wide:
		left := lipgloss.NewStyle().Width(max(m.width-lipgloss.Width(panel)-1, 20)).Render(body)
		body = lipgloss.JoinHorizontal(lipgloss.Top, left, " ", panel)
	default:
		body = lipgloss.JoinVertical(lipgloss.Left, body, panel)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, prompt, "", footer)
}

func (m replModel) status() string {
	parts := []string{"shared globals"}
	if !m.session.persist {
		parts[0] = "fresh VM per line"
	}
	if m.session.name != "" {
		parts = append(parts, "session "+m.session.name)
	}
	parts = append(parts, fmt.Sprintf("%d globals", len(m.session.vm.GlobalNames())))
	return strings.Join(parts, " · ")
}

func (m replModel) transcriptLines() []string {
	t := m.theme
	var out []string
	for _, e := range m.transcript {
		out = append(out, t.echo.Render("> "+e.input))
		if e.result.text == "" {
			continue
		}
		switch e.result.kind {
		case lineValue:
			out = append(out, t.value.Render("= "+e.result.text))
		case lineError:
			out = append(out, t.err.Render(e.result.text))
		case lineInfo:
			out = append(out, t.info.Render(e.result.text))
		default:
			out = append(out, t.output.Render(e.result.text))
		}
	}
	return out
}

// globalsPanel lists globals with their types in aligned columns.
func (m replModel) globalsPanel() string {
	t := m.theme
	rows := m.session.globalRows()
	lines := []string{t.panelHead.Render("globals")}
	if len(rows) == 0 {
		lines = append(lines, t.info.Render("none yet"))
	}

	nameWidth, kindWidth := 0, 0
	for _, r := range rows {
		nameWidth = max(nameWidth, len(r.name))
		kindWidth = max(kindWidth, len(r.kind))
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s  %s  %s",
			t.name.Render(fmt.Sprintf("%-*s", nameWidth, r.name)),
			t.kind.Render(fmt.Sprintf("%-*s", kindWidth, r.kind)),
			r.value))
	}
	return t.panel.Render(strings.Join(lines, "\n"))
}

func runTUI(session *replSession) error {
	_, err := tea.NewProgram(newREPLModel(session), tea.WithAltScreen()).Run()
	return err
}
