package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/turn"
)

// Theme colors for terminal output.
var (
	colorAccent  = lipgloss.Color("#5FAFD7")
	colorSuccess = lipgloss.Color("#00D787")
	colorError   = lipgloss.Color("#FF005F")
	colorMuted   = lipgloss.Color("#6C6C6C")
)

var (
	accentStyle  = lipgloss.NewStyle().Foreground(colorAccent)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	boldStyle    = lipgloss.NewStyle().Bold(true)
)

// renderer writes streamed turns and history to a terminal. Styling is only
// applied when the output is a TTY.
type renderer struct {
	mu     sync.Mutex
	w      io.Writer
	styled bool

	// atLineStart tracks whether the last byte written was a newline so
	// status lines never land in the middle of streamed text.
	atLineStart bool
}

func newRenderer(w io.Writer) *renderer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &renderer{w: w, styled: styled, atLineStart: true}
}

func (r *renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r *renderer) chunk(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.w, text)
	r.atLineStart = strings.HasSuffix(text, "\n")
}

// statusLine prints a muted line on its own row.
func (r *renderer) statusLine(s lipgloss.Style, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.atLineStart {
		fmt.Fprintln(r.w)
	}
	fmt.Fprintln(r.w, r.style(s, text))
	r.atLineStart = true
}

func (r *renderer) control(ev turn.ControlEvent) {
	switch ev.Type {
	case turn.EventActionSwitch:
		r.statusLine(accentStyle, fmt.Sprintf("→ switching to %s", ev.Action))
	case turn.EventImageGenerationStart:
		r.statusLine(mutedStyle, "… generating image")
	case turn.EventResearchProgress:
		msg := ev.Stage
		if ev.Message != "" {
			msg = ev.Message
		}
		if ev.Total > 0 {
			msg = fmt.Sprintf("%s (%d/%d)", msg, ev.Completed, ev.Total)
		}
		r.statusLine(mutedStyle, "… "+msg)
	}
}

func (r *renderer) warning(msg string) {
	r.statusLine(errorStyle, "! "+msg)
}

// done finishes a streamed answer with the parts of the final message that
// were not streamed as text.
func (r *renderer) done(m models.Message) {
	r.mu.Lock()
	if !r.atLineStart {
		fmt.Fprintln(r.w)
		r.atLineStart = true
	}
	r.mu.Unlock()
	r.attachments(m)
}

func (r *renderer) attachments(m models.Message) {
	if m.ImageData != "" {
		r.statusLine(successStyle, fmt.Sprintf("[image attached, %d bytes base64]", len(m.ImageData)))
	}
	if m.Project != nil {
		r.statusLine(successStyle, fmt.Sprintf("[project %s, %d files]", m.Project.Name, len(m.Project.Files)))
	}
	if m.Plan != nil {
		r.statusLine(successStyle, fmt.Sprintf("[study plan %q, %d steps]", m.Plan.Title, len(m.Plan.Steps)))
	}
	if len(m.GroundingReferences) > 0 {
		r.statusLine(mutedStyle, "Sources:")
		for i, ref := range m.GroundingReferences {
			label := ref.Title
			if label == "" {
				label = ref.URI
			}
			r.statusLine(mutedStyle, fmt.Sprintf("  [%d] %s %s", i+1, label, ref.URI))
		}
	}
	if m.Status == models.StatusUnsaved {
		r.statusLine(errorStyle, "(not saved)")
	}
}

// message prints one stored message of a conversation.
func (r *renderer) message(m models.Message) {
	var header string
	switch m.Sender {
	case models.SenderUser:
		header = r.style(boldStyle, "you")
	default:
		header = r.style(accentStyle.Bold(true), "assistant")
		if m.Action != "" {
			header += r.style(mutedStyle, " ("+string(m.Action)+")")
		}
	}
	r.mu.Lock()
	fmt.Fprintf(r.w, "%s %s\n", header, r.style(mutedStyle, m.CreatedAt.Local().Format("2006-01-02 15:04")))
	fmt.Fprintln(r.w, strings.TrimRight(m.Text, "\n"))
	r.atLineStart = true
	r.mu.Unlock()
	r.attachments(m)
	r.mu.Lock()
	fmt.Fprintln(r.w)
	r.mu.Unlock()
}

func (r *renderer) prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.w, r.style(boldStyle, "> "))
	// the user's enter key ends the line
	r.atLineStart = true
}
