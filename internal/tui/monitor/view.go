package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the monitor.
func (m Model) View() string {
	if m.Width > 0 && m.Width < MinWidth {
		return "Terminal too narrow for monitor (need " + fmt.Sprint(MinWidth) + " cols)\n"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("boardsync monitor"))
	b.WriteString("\n\n")
	b.WriteString(m.connectionPanel())
	b.WriteString("\n")
	b.WriteString(m.historyPanel())
	b.WriteString("\n")
	b.WriteString(m.queuePanel())
	b.WriteString("\n")
	if m.Err != nil {
		b.WriteString(offStyle.Render("error: "+m.Err.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render("q quit · r refresh · f force reconnect"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) connectionPanel() string {
	var rows []string

	status := offStyle.Render("offline")
	if m.Metrics.IsOnline {
		status = onlineStyle.Render("online")
	} else if m.Metrics.ReconnectAttempts > 0 {
		status = m.Spinner.View() + " reconnecting"
	}
	rows = append(rows, row("status", status))

	q := string(m.Metrics.Quality)
	if style, ok := qualityStyles[q]; ok {
		q = style.Render(q)
	}
	rows = append(rows, row("quality", q))
	rows = append(rows, row("latency", m.Metrics.Latency.String()))
	rows = append(rows, row("reconnect attempts", fmt.Sprint(m.Metrics.ReconnectAttempts)))

	if !m.Metrics.LastSuccessfulConnection.IsZero() {
		rows = append(rows, row("last success", m.Metrics.LastSuccessfulConnection.Format("15:04:05")))
	}
	if m.Metrics.TotalPackets > 0 {
		loss := float64(m.Metrics.PacketsLost) / float64(m.Metrics.TotalPackets) * 100
		rows = append(rows, row("packet loss", fmt.Sprintf("%.0f%% (%d/%d)",
			loss, m.Metrics.PacketsLost, m.Metrics.TotalPackets)))
	}

	return panelStyle.Render(panelTitleStyle.Render("Connection") + "\n" +
		strings.Join(rows, "\n"))
}

func (m Model) historyPanel() string {
	if len(m.History) == 0 {
		return panelStyle.Render(panelTitleStyle.Render("Probes") + "\n" +
			labelStyle.Render("no probes yet"))
	}

	var marks []string
	for _, p := range m.History {
		if p.Success {
			marks = append(marks, fmt.Sprintf("%s %s", okMark, p.Latency.Round(1e6)))
		} else {
			marks = append(marks, failMark+" --")
		}
	}
	return panelStyle.Render(panelTitleStyle.Render("Probes") + "\n" +
		strings.Join(marks, "  "))
}

func (m Model) queuePanel() string {
	if len(m.Games) == 0 {
		return panelStyle.Render(panelTitleStyle.Render("Queues") + "\n" +
			labelStyle.Render("all queues quiescent"))
	}

	var rows []string
	for _, g := range m.Games {
		st := m.Stats[g]
		line := fmt.Sprintf("%s  %d queued (%d pending, %d retrying)  %s",
			valueStyle.Render(g), st.TotalMoves, st.PendingMoves, st.FailedMoves,
			labelStyle.Render(fmt.Sprintf("%d bytes", st.EstimatedSizeBytes)))
		if !st.OldestQueuedMove.IsZero() {
			line += labelStyle.Render("  oldest " + st.OldestQueuedMove.Format("15:04:05"))
		}
		rows = append(rows, line)
	}
	return panelStyle.Render(panelTitleStyle.Render("Queues") + "\n" +
		strings.Join(rows, "\n"))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		labelStyle.Width(20).Render(label), valueStyle.Render(value))
}
