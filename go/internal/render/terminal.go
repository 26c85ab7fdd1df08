// Package render draws monitor displays on a terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mcdev12/deckpace/go/internal/monitor"
	"github.com/mcdev12/deckpace/go/internal/pacing"
	"github.com/mcdev12/deckpace/go/internal/timer"
	"github.com/mcdev12/deckpace/go/internal/timetools"
)

const clearScreen = "\x1b[H\x1b[2J"

type styles struct {
	box    lipgloss.Style
	header lipgloss.Style
	label  lipgloss.Style
	muted  lipgloss.Style
	err    lipgloss.Style
	pace   map[pacing.Pace]lipgloss.Style
	mode   map[timer.Mode]lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
		header: r.NewStyle().
			Bold(true).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			Align(lipgloss.Center),
		label: r.NewStyle().Foreground(lipgloss.Color("245")).Width(12),
		muted: r.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		err:   r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		pace: map[pacing.Pace]lipgloss.Style{
			pacing.PaceLargelyBehind:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
			pacing.PaceSlightlyBehind: r.NewStyle().Foreground(lipgloss.Color("214")),
			pacing.PaceCaughtUp:       r.NewStyle().Foreground(lipgloss.Color("42")),
			pacing.PaceSlightlyAhead:  r.NewStyle().Foreground(lipgloss.Color("45")),
			pacing.PaceLargelyAhead:   r.NewStyle().Foreground(lipgloss.Color("33")).Bold(true),
		},
		mode: map[timer.Mode]lipgloss.Style{
			timer.ModeStopped: r.NewStyle().Foreground(lipgloss.Color("245")),
			timer.ModeArmed:   r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
			timer.ModeStarted: r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		},
	}
}

// Terminal renders each display as a bordered panel, redrawing the screen
// when Clear is set.
type Terminal struct {
	mu     sync.Mutex
	out    io.Writer
	styles styles
	Clear  bool
}

var _ monitor.View = (*Terminal)(nil)

// NewTerminal creates a view writing to out. Colors follow out's
// capabilities, so a pipe or buffer gets plain text.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{
		out:    out,
		styles: newStyles(lipgloss.NewRenderer(out)),
	}
}

// Render implements monitor.View
func (t *Terminal) Render(d monitor.Display) {
	t.mu.Lock()
	defer t.mu.Unlock()

	panel := t.Format(d)
	if t.Clear {
		io.WriteString(t.out, clearScreen)
	}
	fmt.Fprintln(t.out, panel)
}

// Format builds the panel text for d
func (t *Terminal) Format(d monitor.Display) string {
	s := t.styles
	var lines []string

	title := d.Title
	if title == "" {
		title = "Presentation monitor"
	}
	lines = append(lines, s.header.Render(fmt.Sprintf("%s  %s", title, timetools.FormatClock(d.Now))))

	row := func(label, value string) {
		lines = append(lines, s.label.Render(label)+value)
	}

	switch {
	case d.SessionID == "":
		row("Presenter", s.muted.Render("waiting for presenter"))
	case !d.Connected:
		row("Presenter", s.err.Render("connection lost"))
	default:
		row("Presenter", "connected")
	}

	if d.SlideCount > 0 {
		row("Slide", fmt.Sprintf("%d / %d", d.CurrentSlide, d.SlideCount))
	}

	mode := s.mode[d.Mode].Render(strings.ToUpper(d.Mode.String()))
	if d.Mode == timer.ModeArmed {
		mode += s.muted.Render("  starts on next slide change")
	} else if d.Mode == timer.ModeStopped && !d.Ready {
		mode += s.muted.Render("  not ready")
	}
	row("Timer", mode)

	if d.Subset != nil {
		row("Subset", d.Subset.String())
	}
	if d.SubsetError != "" {
		row("Subset", s.err.Render("invalid: "+d.SubsetError))
	}
	if !d.EndsAt.IsZero() {
		row("Ends at", timetools.FormatClock(d.EndsAt))
	}
	if !d.CandidateEndsAt.IsZero() {
		row("Would end", fmt.Sprintf("%s  %s  %s",
			timetools.FormatClock(d.CandidateEndsAt),
			timetools.FormatDuration(d.CandidateDuration),
			s.muted.Render(d.EndTime)))
	}
	if d.EndTimeError != "" {
		row("End time", s.err.Render("invalid: "+d.EndTimeError))
	}

	if !d.BreakUntil.IsZero() {
		remaining := d.BreakUntil.Sub(d.Now)
		row("Break", fmt.Sprintf("until %s (%s)", timetools.FormatClock(d.BreakUntil), timetools.FormatDuration(remaining)))
	}

	if d.Status == nil {
		if d.Reason != "" {
			lines = append(lines, s.muted.Render(d.Reason))
		}
		return s.box.Render(strings.Join(lines, "\n"))
	}

	st := d.Status
	row("Elapsed", timetools.FormatDuration(st.Elapsed))
	row("Remaining", timetools.FormatDuration(st.Remaining))
	row("This slide", fmt.Sprintf("%s of %s", timetools.FormatDuration(st.SlideUsed), timetools.FormatDuration(st.SlideNominal)))
	row("Done", fmt.Sprintf("%.0f%%", st.Completion*100))
	row("Pace", s.pace[st.Pace].Render(fmt.Sprintf("%s %s", signed(st.SpeedError.Seconds()), paceLabel(st.Pace))))

	return s.box.Render(strings.Join(lines, "\n"))
}

func signed(seconds float64) string {
	if seconds >= 0.5 {
		return "+" + timetools.FormatHMS(seconds)
	}
	return timetools.FormatHMS(seconds)
}

func paceLabel(p pacing.Pace) string {
	return strings.ReplaceAll(string(p), "_", " ")
}
