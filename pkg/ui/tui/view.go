package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// View renders the entire TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderLogo())

	width := (m.width - 4) / 2
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatsPanel(width),
		m.renderActivePanel(width),
		m.renderCompletedPanel(width),
	)
	right := m.renderLogsPanel(width)
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, hintStyle.Render("Press ? for help, q to stop the run"))
	}

	return screenStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

func (m *Model) renderLogo() string {
	logo := `
╔════════════════════════════════════════════════╗
║  ▀█▀ █▀▄▀█ █▀▀   █ █ ▄▀█ █▀█ █ █ █▀▀ █▀ ▀█▀   ║
║  ▄█▄ █ ▀ █ █▄█   █▀█ █▀█ █▀▄ ▀▄▀ ██▄ ▄█  █    ║
║        CATEGORY IMAGE HARVESTER                ║
╚════════════════════════════════════════════════╝`

	return bannerStyle.Width(m.width).Render(logo)
}

func (m *Model) renderStatsPanel(width int) string {
	title := headingStyle.Render(" RUN ")
	st := m.GetStats()

	m.mu.RLock()
	engine, mode, limit := m.engine, m.mode, m.limit
	m.mu.RUnlock()

	m.progress.Width = max(10, width-8)
	lines := []string{
		fmt.Sprintf("%s %s", labelStyle.Render("Engine:"), valueStyle.Render(engine+" / "+mode)),
		fmt.Sprintf("%s %s", labelStyle.Render("Categories:"), valueStyle.Render(fmt.Sprintf("%d/%d", st.Done, st.Total))),
		fmt.Sprintf("%s %s", labelStyle.Render("Images:"), valueStyle.Render(fmt.Sprintf("%d (limit %d each)", st.Images, limit))),
		fmt.Sprintf("%s %s  %s  %s",
			labelStyle.Render("Status:"),
			goodStyle.Render(fmt.Sprintf("%d ok", st.Succeeded)),
			partialStyle.Render(fmt.Sprintf("%d partial", st.Partial)),
			badStyle.Render(fmt.Sprintf("%d failed", st.Failed)),
		),
		fmt.Sprintf("%s %s", labelStyle.Render("Elapsed:"), valueStyle.Render(formatDuration(st.Elapsed))),
		fmt.Sprintf("%s %s", labelStyle.Render("ETA:"), valueStyle.Render(formatDuration(st.ETA))),
		m.progress.ViewAs(st.Percent()),
	}

	m.mu.RLock()
	finished := m.finished
	m.mu.RUnlock()
	if finished {
		lines = append(lines, goodStyle.Render("Run finished"))
	}

	return boxStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, lines...)),
	)
}

func (m *Model) renderActivePanel(width int) string {
	title := headingStyle.Render(" ACTIVE ")

	active := m.GetActiveCategories()
	if len(active) == 0 {
		content := mutedStyle.Render("Waiting...")
		return boxStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
	}

	var items []string
	for _, item := range active {
		line := fmt.Sprintf("%s %s %s",
			m.spinner.View(),
			activeNameStyle.Render(fmt.Sprintf("%d. %s", item.Position+1, item.Name)),
			mutedStyle.Render(formatDuration(time.Since(item.StartTime))),
		)
		items = append(items, line, indentStyle.Render(truncate(filepath.Base(item.Directory), width-8)))
	}

	return boxStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...)),
	)
}

func (m *Model) renderCompletedPanel(width int) string {
	title := headingStyle.Render(" COMPLETED ")

	completed := m.GetCompletedCategories()
	if len(completed) == 0 {
		content := mutedStyle.Render("Nothing yet")
		return boxStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
	}

	m.mu.RLock()
	limit := m.limit
	m.mu.RUnlock()

	start := max(0, len(completed)-5)
	var items []string
	if start > 0 {
		items = append(items, mutedStyle.Render(fmt.Sprintf("  ... %d earlier", start)))
	}
	for _, item := range completed[start:] {
		items = append(items, doneRowStyle.Render(
			fmt.Sprintf("%s %s", statusIcon(item), truncate(item.Name, width-20)),
		)+" "+FormatCount(item.Result, limit))
	}

	return boxStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...)),
	)
}

func (m *Model) renderLogsPanel(width int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	title := headingStyle.Render(" LOG ")

	start := max(0, len(m.logMessages)-12)
	var logs []string
	for _, log := range m.logMessages[start:] {
		timestamp := timestampStyle.Render(log.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(log.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", log.Level))
		message := mutedStyle.Render(truncate(log.Message, width-25))
		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, message))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = mutedStyle.Render("No logs yet...")
	}

	return boxStyle.Width(width).Height(max(5, m.height-12)).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

func (m *Model) renderHelp() string {
	help := `
  Keys:
    q/Q      - Stop the run
    ctrl+l   - Clear the log
    ?        - Toggle this help

  Status:
    ` + goodStyle.Render("Green") + `    - All requested images
    ` + partialStyle.Render("Orange") + `   - Some images
    ` + badStyle.Render("Red") + `      - Failed
`

	return boxStyle.Width(m.width).Render(help)
}

func statusIcon(item *CategoryItem) string {
	switch {
	case item.Result.Failed():
		return "✗"
	case item.Result.Resumed:
		return "↺"
	default:
		return "✓"
	}
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
