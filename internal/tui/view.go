package tui

import (
	"fmt"
	"strings"

	"neuromate-client/internal/screening"
)

const barWidth = 20

func (m Model) View() string {
	var b strings.Builder
	b.WriteString("NeuroMate screening\n\n")

	switch m.stage {
	case screening.StageStart:
		b.WriteString("Guided autism screening.\n\n")
		if m.busy {
			b.WriteString(m.spinner.View() + " Starting session...\n")
		} else {
			b.WriteString("enter: start a new screening   c: continue   q: quit\n")
		}
	case screening.StageIntake:
		m.viewIntake(&b)
	case screening.StageScreening:
		m.viewScreening(&b)
	case screening.StageResult:
		m.viewResult(&b)
	}

	if m.notice != "" {
		b.WriteString("\n" + m.notice + "\n")
	}
	return b.String()
}

func (m Model) viewIntake(b *strings.Builder) {
	if m.intake == nil {
		return
	}
	v := m.intake.View()
	for _, msg := range v.Messages {
		prefix := "bot: "
		if msg.From == screening.RoleUser {
			prefix = "you: "
		}
		suffix := ""
		if msg.Status == screening.StatusFailed {
			suffix = " (not sent)"
		}
		b.WriteString(prefix + msg.Text + suffix + "\n")
	}
	b.WriteString("\n")
	switch {
	case v.Composing:
		b.WriteString(m.spinner.View() + " typing...\n")
	case v.Widget == "text":
		b.WriteString(m.input.View() + "\n")
	default:
		b.WriteString("y: yes   n: no\n")
	}
}

func (m Model) viewScreening(b *strings.Builder) {
	if m.screening == nil {
		return
	}
	v := m.screening.View()
	fmt.Fprintf(b, "Question %d   %s %.0f%%\n\n", v.Number, bar(int(v.Progress)), v.Progress)

	q := []rune(m.revealText)
	n := m.revealed
	if n > len(q) {
		n = len(q)
	}
	b.WriteString(string(q[:n]))
	if n < len(q) {
		b.WriteString("_")
	}
	b.WriteString("\n\n")
	if v.Loading || m.busy {
		b.WriteString(m.spinner.View() + " sending...\n")
	} else {
		b.WriteString("y: yes   n: no\n")
	}
}

func (m Model) viewResult(b *strings.Builder) {
	if m.view == nil {
		if m.busy {
			b.WriteString(m.spinner.View() + " Loading your result...\n")
		}
		return
	}
	v := m.view
	fmt.Fprintf(b, "Result: %s   (yes answers: %d)\n\n", v.Label, v.TotalYes)
	for _, cb := range v.Bars {
		fmt.Fprintf(b, "%-20s %s %s\n", cb.Category, bar(cb.Percent), cb.Level)
	}
	if v.Guidance != "" {
		b.WriteString("\n" + v.Guidance + "\n")
	}
	if len(v.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range v.Suggestions {
			b.WriteString("  - " + s + "\n")
		}
	}
	b.WriteString("\nd: download report   n: new screening   q: quit\n")
}

func bar(percent int) string {
	filled := percent * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}
