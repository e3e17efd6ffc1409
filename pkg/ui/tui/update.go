package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"imgharvest/pkg/batch"
	"imgharvest/pkg/category"
)

// Message types for the TUI

// RunStartedMsg is sent when the batch run begins
type RunStartedMsg struct {
	Total  int
	Config batch.RunConfig
}

// CategoryStartedMsg is sent when a category begins processing
type CategoryStartedMsg struct {
	Position  int
	Total     int
	Category  category.Category
	Query     string
	Directory string
}

// CategoryFinishedMsg is sent when a category completes
type CategoryFinishedMsg struct {
	Position int
	Total    int
	Result   batch.CategoryResult
}

// RunFinishedMsg is sent with the final report
type RunFinishedMsg struct {
	Report *batch.RunReport
}

// LogMsg is sent to add a log message
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg is sent periodically to update the UI
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		return m, tickCmd()

	case RunStartedMsg:
		m.StartRun(msg.Total, msg.Config)
		m.AddLogMessage("INFO", fmt.Sprintf("Run started: %d categories, %d images each", msg.Total, msg.Config.ImagesPerCategory))
		return m, nil

	case CategoryStartedMsg:
		m.StartCategory(msg.Position, msg.Category.Index, msg.Category.Name, msg.Query, msg.Directory)
		m.AddLogMessage("INFO", fmt.Sprintf("[%d/%d] %s", msg.Position+1, msg.Total, msg.Query))
		return m, nil

	case CategoryFinishedMsg:
		m.FinishCategory(msg.Position, msg.Result)
		m.AddLogMessage(logLevel(msg.Result), categoryLogLine(msg.Result))
		return m, nil

	case RunFinishedMsg:
		m.FinishRun(msg.Report)
		return m, tea.Quit

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		m.AddLogMessage("WARN", "Stopping, the report lists completed categories")
		m.quit()
		return m, nil

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.mu.Lock()
		m.logMessages = []LogMessage{}
		m.mu.Unlock()
		return m, nil
	}

	return m, nil
}

func logLevel(res batch.CategoryResult) string {
	switch res.Status {
	case batch.StatusSucceeded:
		return "SUCCESS"
	case batch.StatusFailed:
		return "ERROR"
	default:
		return "WARN"
	}
}

func categoryLogLine(res batch.CategoryResult) string {
	line := fmt.Sprintf("%s: %d images (%s)", res.Name, res.Count, res.Status)
	if res.Resumed {
		line += " resumed"
	}
	if res.Reason != "" {
		line += " - " + string(res.Reason)
	}
	return line
}

// tickCmd returns a command that sends a tick message
func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*250, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
