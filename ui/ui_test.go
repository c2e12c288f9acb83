package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"node.town/parley/transcript"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

type fakeSource struct {
	t transcript.Transcript
}

func (f *fakeSource) Segments() transcript.Transcript { return f.t }

func (f *fakeSource) Subscribe(string, func() error) func() { return func() {} }

func TestTranscriptView(t *testing.T) {
	t.Run("compacts turns", func(t *testing.T) {
		m := initialModel(&fakeSource{}, nil)
		m.transcript = transcript.New(
			transcript.Segment{Text: "Hello", Start: 0, End: 1, Speaker: "ana"},
			transcript.Segment{Text: "everyone.", Start: 1.2, End: 2, Speaker: "ana"},
			transcript.Segment{Text: "Hi.", Start: 65, End: 66},
		)

		expected := "[00:00] ana: Hello everyone.\n[01:05] unknown: Hi.\n"
		result := m.transcriptView()

		if result != expected {
			t.Errorf(
				"transcriptView() returned incorrect result.\nExpected:\n%s\nGot:\n%s",
				expected,
				result,
			)
		}
	})

	t.Run("empty", func(t *testing.T) {
		m := initialModel(&fakeSource{}, nil)
		if got := m.transcriptView(); got != "" {
			t.Errorf("transcriptView() = %q, want empty", got)
		}
	})
}

func TestUpdateLogsNewSegments(t *testing.T) {
	m := initialModel(&fakeSource{}, nil)

	first := transcript.New(
		transcript.Segment{Text: "one", Start: 0, End: 1, Speaker: "ana"},
	)
	second := transcript.New(
		transcript.Segment{Text: "one", Start: 0, End: 1, Speaker: "ana"},
		transcript.Segment{Text: "two", Start: 2, End: 3, Speaker: "ben"},
	)

	next, _ := m.Update(segmentsMsg(first))
	next, _ = next.Update(segmentsMsg(second))
	got := next.(model)

	if len(got.logEntries) != 2 {
		t.Fatalf("logEntries = %v, want 2 entries", got.logEntries)
	}
	if !strings.Contains(got.logEntries[1], `ben "two"`) {
		t.Errorf("logEntries[1] = %q", got.logEntries[1])
	}
	if got.transcript.Len() != 2 {
		t.Errorf("transcript.Len() = %d, want 2", got.transcript.Len())
	}
}

func TestUpdateKeys(t *testing.T) {
	m := initialModel(&fakeSource{}, nil)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if !next.(model).showLog {
		t.Error("tab did not switch to the log view")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
