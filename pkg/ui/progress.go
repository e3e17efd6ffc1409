package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"imgharvest/pkg/batch"
	"imgharvest/pkg/category"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
	barWidth      = 20
)

// Progress prints one line per category event. It implements batch.Observer.
type Progress struct {
	w         io.Writer
	limit     int
	done      int
	images    int
	startTime time.Time
}

var _ batch.Observer = (*Progress)(nil)

// NewProgress creates a progress printer writing to w
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w, startTime: time.Now()}
}

func (p *Progress) RunStarted(total int, cfg batch.RunConfig) {
	p.limit = cfg.ImagesPerCategory
	p.startTime = time.Now()
	fmt.Fprintf(p.w, "%s %d categories, %d images each, engine %s, mode %s\n",
		Magenta("[HARVEST]"), total, cfg.ImagesPerCategory, cfg.Engine, cfg.Mode)
	fmt.Fprintf(p.w, "%s %s\n", Cyan("Output:"), Yellow(cfg.OutputRoot))
}

func (p *Progress) CategoryStarted(position, total int, cat category.Category, query, dir string) {
	fmt.Fprintf(p.w, "%s %s %s\n",
		Dim(fmt.Sprintf("[%d/%d]", position+1, total)),
		Cyan(query),
		Dim("-> "+dir))
}

func (p *Progress) CategoryFinished(position, total int, res batch.CategoryResult) {
	p.done++
	p.images += res.Count

	line := fmt.Sprintf("%s %s %s %s",
		Dim(fmt.Sprintf("[%d/%d]", position+1, total)),
		statusMark(res),
		res.Name,
		fmt.Sprintf("%d/%d", res.Count, p.limit))
	if res.Resumed {
		line += Dim(" (resumed)")
	} else {
		line += Dim(" " + res.Duration.Round(time.Second).String())
	}
	if res.Reason != "" {
		line += " " + Red(string(res.Reason))
	}
	fmt.Fprintln(p.w, line)
	fmt.Fprintln(p.w, p.Bar(p.done, total))
}

func (p *Progress) RunFinished(rep *batch.RunReport) {
	label := Green("[COMPLETE]")
	if rep != nil && rep.Interrupted {
		label = Yellow("[STOPPED]")
	}
	fmt.Fprintf(p.w, "%s %d images in %d categories, %s\n",
		label, p.images, p.done, p.Elapsed().Round(time.Second))
}

// Bar renders overall progress as a fixed-width bar
func (p *Progress) Bar(done, total int) string {
	filled := 0
	if total > 0 {
		filled = min(barWidth, done*barWidth/total)
	}
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)
	return fmt.Sprintf("[%s] %d/%d | %d images", bar, done, total, p.images)
}

// Elapsed returns the time since the run started
func (p *Progress) Elapsed() time.Duration {
	return time.Since(p.startTime)
}

func statusMark(res batch.CategoryResult) string {
	switch res.Status {
	case batch.StatusSucceeded:
		return Green("✓")
	case batch.StatusFailed:
		return Red("✗")
	default:
		return Yellow("~")
	}
}
