// Package render formats status, transcript and roster output for the
// terminal. Worker accent colors come from the roster; everything else
// uses a small fixed palette.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/orchestrator"
	"github.com/scriptorium-ai/scriptorium/internal/roster"
	"github.com/scriptorium-ai/scriptorium/internal/transcript"
)

var (
	mutedGray = lipgloss.Color("245")
	seaGreen  = lipgloss.Color("#2E8B57")
	amber     = lipgloss.Color("#F1C40F")
	red       = lipgloss.Color("196")
	blue      = lipgloss.Color("#5B8DEF")

	headerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1)

	labelStyle   = lipgloss.NewStyle().Foreground(mutedGray)
	timeStyle    = lipgloss.NewStyle().Foreground(mutedGray)
	systemStyle  = lipgloss.NewStyle().Foreground(mutedGray)
	successStyle = lipgloss.NewStyle().Foreground(seaGreen).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(amber).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(red).Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(blue).Bold(true)
	idleStyle    = lipgloss.NewStyle().Foreground(mutedGray).Bold(true)
)

func statusStyle(s model.SessionStatus) lipgloss.Style {
	switch s {
	case model.SessionRunning:
		return runningStyle
	case model.SessionComplete:
		return successStyle
	case model.SessionPaused:
		return warningStyle
	case model.SessionError:
		return errorStyle
	default:
		return idleStyle
	}
}

// speakerStyle colors a worker name with its roster accent. Unknown ids
// and workers without a color render bold only.
func speakerStyle(reg *roster.Roster, id string) lipgloss.Style {
	if reg != nil {
		if w, ok := reg.Worker(id); ok && w.Color != "" {
			return lipgloss.NewStyle().Foreground(lipgloss.Color(w.Color)).Bold(true)
		}
	}
	return lipgloss.NewStyle().Bold(true)
}

func displayName(reg *roster.Roster, id string) string {
	if reg == nil {
		return id
	}
	return reg.DisplayName(id)
}

// Status renders one session status block. reg may be nil; worker ids
// then print unresolved.
func Status(st orchestrator.Status, reg *roster.Roster) string {
	title := st.WorkflowName
	if title == "" {
		title = "scriptorium"
	}
	header := title
	if st.SessionID != "" {
		header += "  " + labelStyle.Render(st.SessionID)
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	line := func(label, value string) {
		b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label)), value))
	}

	statusText := string(st.Status)
	if st.Paused && st.Status == model.SessionRunning {
		statusText += " (pause requested)"
	}
	line("status", statusStyle(st.Status).Render(statusText))

	if st.Phase != "" {
		line("phase", st.Phase)
	}

	progress := fmt.Sprintf("%d/%d sections approved", st.TasksCompleted, st.TotalTasks)
	if st.TasksErrored > 0 {
		progress += errorStyle.Render(fmt.Sprintf(", %d errored", st.TasksErrored))
	}
	line("progress", progress)

	if st.CurrentTaskID != "" {
		section := st.CurrentTaskID
		if st.CurrentWorker != "" {
			section += labelStyle.Render(" by ") + speakerStyle(reg, st.CurrentWorker).Render(displayName(reg, st.CurrentWorker))
		}
		line("section", section)
	}

	return b.String()
}

// Entry renders one transcript line: local time, speaker, recipient and
// the message, with kind-dependent accents.
func Entry(e transcript.Entry, reg *roster.Roster) string {
	var b strings.Builder

	b.WriteString(timeStyle.Render(e.Timestamp.Local().Format("15:04:05")))
	b.WriteString(" ")
	b.WriteString(speakerStyle(reg, e.From).Render(displayName(reg, e.From)))
	if e.To != "" && e.To != transcript.Broadcast {
		b.WriteString(labelStyle.Render(" to "))
		b.WriteString(speakerStyle(reg, e.To).Render(displayName(reg, e.To)))
	}
	b.WriteString("\n")

	text := e.Text
	switch e.Kind {
	case transcript.KindSystem:
		text = systemStyle.Render(text)
	case transcript.KindSuccess:
		text = successStyle.Render(text)
	case transcript.KindWarning:
		text = warningStyle.Render(text)
	case transcript.KindError:
		text = errorStyle.Render(text)
	}
	for _, l := range strings.Split(text, "\n") {
		b.WriteString("  ")
		b.WriteString(l)
		b.WriteString("\n")
	}

	return b.String()
}

// Transcript renders a whole entry list, one block per message.
func Transcript(entries []transcript.Entry, reg *roster.Roster) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(Entry(e, reg))
	}
	return b.String()
}

// Workers renders the roster: the coordinator first, then workers
// grouped by category in declared order, with reviewer and responder
// kinds called out.
func Workers(reg *roster.Roster) string {
	var b strings.Builder

	if reg.Coordinator.ID != "" {
		b.WriteString(labelStyle.Render("coordinator"))
		b.WriteString("  ")
		b.WriteString(speakerStyle(reg, reg.Coordinator.ID).Render(reg.Coordinator.Name))
		if reg.Coordinator.Title != "" {
			b.WriteString("  " + labelStyle.Render(reg.Coordinator.Title))
		}
		b.WriteString("\n\n")
	}

	var categories []string
	grouped := map[string][]roster.Worker{}
	for _, w := range reg.Workers {
		cat := w.Category
		if cat == "" {
			cat = "team"
		}
		if _, seen := grouped[cat]; !seen {
			categories = append(categories, cat)
		}
		grouped[cat] = append(grouped[cat], w)
	}

	for _, cat := range categories {
		b.WriteString(labelStyle.Render(cat + ":"))
		b.WriteString("\n")
		for _, w := range grouped[cat] {
			b.WriteString("  ")
			b.WriteString(speakerStyle(reg, w.ID).Render("● " + w.Name))
			if w.Title != "" {
				b.WriteString("  " + labelStyle.Render(w.Title))
			}
			var tags []string
			if w.Kind != "" && w.Kind != roster.KindGeneric {
				tags = append(tags, string(w.Kind))
			}
			if w.ID == reg.ReviewerID {
				tags = append(tags, "reviewer")
			}
			if len(tags) > 0 {
				b.WriteString(" " + labelStyle.Render("["+strings.Join(tags, ", ")+"]"))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
