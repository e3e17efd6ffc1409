package tui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"imgharvest/pkg/batch"
)

// CategoryState is the display state of one category
type CategoryState int

const (
	CategoryPending CategoryState = iota
	CategoryActive
	CategoryDone
)

// CategoryItem is one selected category as shown on screen
type CategoryItem struct {
	Position  int
	Index     int
	Name      string
	Query     string
	Directory string
	State     CategoryState
	StartTime time.Time
	Result    batch.CategoryResult
}

// Model represents the TUI model
type Model struct {
	spinner  spinner.Model
	progress progress.Model

	// Run state
	total      int
	limit      int
	engine     string
	mode       string
	categories map[int]*CategoryItem
	order      []int
	images     int
	statuses   map[batch.Status]int
	runStart   time.Time
	finished   bool
	report     *batch.RunReport

	// UI state
	width          int
	height         int
	showHelp       bool
	logMessages    []LogMessage
	maxLogMessages int

	// onQuit is called once when the user quits
	onQuit   func()
	quitOnce sync.Once

	mu sync.RWMutex
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// NewModel creates a new TUI model. onQuit may be nil.
func NewModel(onQuit func()) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorAccent)

	p := progress.New(progress.WithDefaultGradient())
	p.Width = 40

	return &Model{
		spinner:        s,
		progress:       p,
		categories:     make(map[int]*CategoryItem),
		statuses:       make(map[batch.Status]int),
		runStart:       time.Now(),
		maxLogMessages: 50,
		onQuit:         onQuit,
	}
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// StartRun resets the model for a run over total categories
func (m *Model) StartRun(total int, cfg batch.RunConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total = total
	m.limit = cfg.ImagesPerCategory
	m.engine = cfg.Engine
	m.mode = cfg.Mode.String()
	m.runStart = time.Now()
}

// StartCategory marks the category at position as active
func (m *Model) StartCategory(position int, index int, name, query, dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.categories[position]
	if !ok {
		item = &CategoryItem{Position: position}
		m.categories[position] = item
		m.order = append(m.order, position)
	}
	item.Index = index
	item.Name = name
	item.Query = query
	item.Directory = dir
	item.State = CategoryActive
	item.StartTime = time.Now()
}

// FinishCategory records the result of the category at position
func (m *Model) FinishCategory(position int, res batch.CategoryResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.categories[position]
	if !ok {
		item = &CategoryItem{Position: position, Index: res.Index, Name: res.Name, Directory: res.Directory}
		m.categories[position] = item
		m.order = append(m.order, position)
	}
	item.State = CategoryDone
	item.Result = res
	m.images += res.Count
	m.statuses[res.Status]++
}

// FinishRun stores the final report
func (m *Model) FinishRun(rep *batch.RunReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.finished = true
	m.report = rep
}

// AddLogMessage adds a log message
func (m *Model) AddLogMessage(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Color:   levelColor(level),
	})

	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// GetActiveCategories returns the categories being processed, in start order
func (m *Model) GetActiveCategories() []*CategoryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(CategoryActive)
}

// GetCompletedCategories returns the finished categories, in finish order
func (m *Model) GetCompletedCategories() []*CategoryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(CategoryDone)
}

func (m *Model) filter(state CategoryState) []*CategoryItem {
	var out []*CategoryItem
	for _, pos := range m.order {
		if item := m.categories[pos]; item != nil && item.State == state {
			out = append(out, item)
		}
	}
	return out
}

// Stats summarizes the run so far
type Stats struct {
	Total     int
	Done      int
	Images    int
	Succeeded int
	Partial   int
	Failed    int
	Elapsed   time.Duration
	ETA       time.Duration
}

// GetStats returns the current run statistics
func (m *Model) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		Total:     m.total,
		Images:    m.images,
		Succeeded: m.statuses[batch.StatusSucceeded],
		Partial:   m.statuses[batch.StatusPartiallySucceeded],
		Failed:    m.statuses[batch.StatusFailed],
		Elapsed:   time.Since(m.runStart),
	}
	st.Done = st.Succeeded + st.Partial + st.Failed

	if st.Done > 0 && st.Total > st.Done {
		perCategory := st.Elapsed / time.Duration(st.Done)
		st.ETA = perCategory * time.Duration(st.Total-st.Done)
	}
	return st
}

// Percent returns the completed share of categories in [0,1]
func (s Stats) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return min(1, float64(s.Done)/float64(s.Total))
}

// quit runs onQuit at most once
func (m *Model) quit() {
	m.quitOnce.Do(func() {
		if m.onQuit != nil {
			m.onQuit()
		}
	})
}

// FormatCount renders done/limit with the status color
func FormatCount(res batch.CategoryResult, limit int) string {
	return statusStyle(res.Status).Render(fmt.Sprintf("%d/%d", res.Count, limit))
}
