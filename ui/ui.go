// Package ui shows a live meeting transcript in the terminal.
package ui

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"node.town/parley/live"
	"node.town/parley/transcript"
)

// Source is what the viewer watches.
type Source interface {
	Segments() transcript.Transcript
	Subscribe(resource string, fn func() error) func()
}

type segmentsMsg transcript.Transcript

var speakerColors = []lipgloss.Color{
	lipgloss.Color("#25A065"),
	lipgloss.Color("#F25D94"),
	lipgloss.Color("#5A56E0"),
	lipgloss.Color("#EDFF82"),
	lipgloss.Color("#FF8C42"),
	lipgloss.Color("#3FC1C9"),
}

var (
	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	timeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type model struct {
	viewport   viewport.Model
	transcript transcript.Transcript
	logEntries []string
	ready      bool
	showLog    bool
	source     Source
	updates    <-chan struct{}
}

func initialModel(source Source, updates <-chan struct{}) model {
	return model{
		logEntries: []string{},
		source:     source,
		updates:    updates,
	}
}

// Run shows the transcript of source until the user quits or ctx ends.
func Run(ctx context.Context, source Source) error {
	updates := make(chan struct{}, 1)
	unsubscribe := source.Subscribe(live.SegmentsResource, func() error {
		select {
		case updates <- struct{}{}:
		default:
		}
		return nil
	})
	defer unsubscribe()

	p := tea.NewProgram(
		initialModel(source, updates),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m model) Init() tea.Cmd {
	// Each segmentsMsg schedules the next wait.
	return func() tea.Msg { return segmentsMsg(m.source.Segments()) }
}

func waitForSegments(source Source, updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-updates
		return segmentsMsg(source.Segments())
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "tab":
			m.showLog = !m.showLog
			m.viewport.SetContent(m.contentView())
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		verticalMarginHeight := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.viewport.SetContent(m.contentView())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
		}

	case segmentsMsg:
		t := transcript.Transcript(msg)
		for _, seg := range t.Segments[min(len(t.Segments), m.transcript.Len()):] {
			m.logEntries = append(m.logEntries, logEntry(seg))
		}
		m.transcript = t
		m.viewport.SetContent(m.contentView())
		m.viewport.GotoBottom()
		if m.updates != nil {
			cmds = append(cmds, waitForSegments(m.source, m.updates))
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
}

func (m model) headerView() string {
	title := barStyle.Render("parley")
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title)))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line)
}

func (m model) footerView() string {
	info := barStyle.Render(fmt.Sprintf(
		"%d segments, %d speakers · q to quit, Tab to switch views",
		m.transcript.Len(),
		len(m.transcript.Speakers()),
	))
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)))
	return lipgloss.JoinHorizontal(lipgloss.Center, line, info)
}

func (m model) contentView() string {
	if m.showLog {
		return m.logView()
	}
	return m.transcriptView()
}

// transcriptView renders one line per compacted turn.
func (m model) transcriptView() string {
	var sb strings.Builder
	t := m.transcript.Compact()
	t0 := t.Start()
	for _, seg := range t.Segments {
		offset := int(seg.Start - t0)
		sb.WriteString(timeStyle.Render(fmt.Sprintf("[%02d:%02d]", offset/60, offset%60)))
		sb.WriteString(" ")
		sb.WriteString(speakerStyle(seg.Speaker).Render(speakerName(seg.Speaker) + ":"))
		sb.WriteString(" ")
		sb.WriteString(seg.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m model) logView() string {
	var content strings.Builder
	for _, entry := range m.logEntries {
		content.WriteString(entry)
		content.WriteString("\n")
	}
	return content.String()
}

func logEntry(seg transcript.Segment) string {
	return fmt.Sprintf(
		"SEG %6.2f-%6.2f %s %q",
		seg.Start,
		seg.End,
		speakerName(seg.Speaker),
		seg.Text,
	)
}

func speakerName(speaker string) string {
	if speaker == "" {
		return "unknown"
	}
	return speaker
}

func speakerStyle(speaker string) lipgloss.Style {
	h := fnv.New32a()
	h.Write([]byte(speaker))
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(speakerColors[h.Sum32()%uint32(len(speakerColors))])
}
