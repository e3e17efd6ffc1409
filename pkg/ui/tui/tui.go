package tui

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"imgharvest/pkg/batch"
	"imgharvest/pkg/category"
)

// TUI is a full-screen batch.Observer
type TUI struct {
	program *tea.Program
	model   *Model
	done    chan struct{}
	err     error
}

var _ batch.Observer = (*TUI)(nil)

// Option customizes the bubbletea program
type Option = tea.ProgramOption

// NewTUI creates a new TUI. onQuit is called once when the user asks to stop.
func NewTUI(onQuit func(), opts ...Option) *TUI {
	model := NewModel(onQuit)
	if len(opts) == 0 {
		opts = []Option{tea.WithAltScreen()}
	}
	return &TUI{
		program: tea.NewProgram(model, opts...),
		model:   model,
		done:    make(chan struct{}),
	}
}

// NewHeadless creates a TUI that reads from in and renders to out, without
// the alternate screen.
func NewHeadless(onQuit func(), in io.Reader, out io.Writer) *TUI {
	return NewTUI(onQuit, tea.WithInput(in), tea.WithOutput(out))
}

// Start runs the program in the background
func (t *TUI) Start() {
	go func() {
		defer close(t.done)
		if _, err := t.program.Run(); err != nil {
			t.err = fmt.Errorf("tui failed: %w", err)
		}
	}()
}

// Wait blocks until the program exits
func (t *TUI) Wait() error {
	<-t.done
	return t.err
}

// Stop quits the program and waits for it to exit
func (t *TUI) Stop() error {
	t.program.Quit()
	return t.Wait()
}

// Log sends a log line to the TUI
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.program.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (t *TUI) RunStarted(total int, cfg batch.RunConfig) {
	t.program.Send(RunStartedMsg{Total: total, Config: cfg})
}

func (t *TUI) CategoryStarted(position, total int, cat category.Category, query, dir string) {
	t.program.Send(CategoryStartedMsg{Position: position, Total: total, Category: cat, Query: query, Directory: dir})
}

func (t *TUI) CategoryFinished(position, total int, result batch.CategoryResult) {
	t.program.Send(CategoryFinishedMsg{Position: position, Total: total, Result: result})
}

// RunFinished delivers the report and waits for the program to exit
func (t *TUI) RunFinished(report *batch.RunReport) {
	t.program.Send(RunFinishedMsg{Report: report})
	<-t.done
}
