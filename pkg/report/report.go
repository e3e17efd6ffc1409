// Package report renders the result of a batch run as a table, JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"imgharvest/pkg/batch"
)

// Format represents an output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates and normalizes a format string
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported report format: %s", value)
	}
}

// FormatForPath picks the format from a file extension, defaulting to table
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTable
	}
}

// Render writes rep to w in the given format
func Render(w io.Writer, rep *batch.RunReport, format Format) error {
	if rep == nil {
		return nil
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := io.WriteString(w, Table(rep))
		return err
	}
}

// WriteFile writes rep to path in the format implied by its extension
func WriteFile(path string, rep *batch.RunReport) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := Render(f, rep, FormatForPath(path)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

// Table renders the per-category table followed by the zero-image and
// shared-directory sections.
func Table(rep *batch.RunReport) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.Style().Title.Format = text.FormatDefault
	t.SetTitle(title(rep))
	t.AppendHeader(table.Row{"#", "Category", "Directory", "Status", "Images", "Time", "Notes"})

	for _, res := range rep.Results {
		t.AppendRow(table.Row{
			res.Index,
			res.Name,
			filepath.Base(res.Directory),
			statusLabel(res),
			fmt.Sprintf("%d/%d", res.Count, rep.Limit),
			res.Duration.Round(100 * time.Millisecond).String(),
			notes(res),
		})
	}

	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d/%d categories", len(rep.Results), rep.Selected),
		"",
		summary(rep),
		rep.TotalImages(),
		rep.Duration().Round(time.Second).String(),
		"",
	})

	var b strings.Builder
	b.WriteString(t.Render())
	b.WriteString("\n")

	if rep.Interrupted {
		fmt.Fprintf(&b, "\nRun interrupted after %d of %d categories.\n", len(rep.Results), rep.Selected)
	}

	if zero := rep.ZeroImage(); len(zero) > 0 {
		b.WriteString("\nCategories with no images:\n")
		for _, res := range zero {
			fmt.Fprintf(&b, "  - %d: %s\n", res.Index, res.Name)
		}
	}

	if shared := sharedDirectories(rep); len(shared) > 0 {
		b.WriteString("\nCategories sharing a directory:\n")
		for _, line := range shared {
			fmt.Fprintf(&b, "  - %s\n", line)
		}
	}
	return b.String()
}

func title(rep *batch.RunReport) string {
	parts := []string{"imgharvest"}
	if rep.RunID != "" {
		parts = append(parts, rep.RunID)
	}
	if rep.Engine != "" {
		parts = append(parts, rep.Engine)
	}
	if rep.Mode != "" {
		parts = append(parts, rep.Mode)
	}
	return strings.Join(parts, " | ")
}

func statusLabel(res batch.CategoryResult) string {
	label := string(res.Status)
	if res.Resumed {
		label += " (resumed)"
	}
	return label
}

func notes(res batch.CategoryResult) string {
	var parts []string
	if res.Failed() {
		reason := string(res.Reason)
		if res.ErrorType != "" {
			reason += "/" + string(res.ErrorType)
		}
		parts = append(parts, reason)
	}
	if res.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("%d attempts", res.Attempts))
	}
	if len(res.CollidesWith) > 0 {
		parts = append(parts, "shared dir")
	}
	return strings.Join(parts, ", ")
}

func summary(rep *batch.RunReport) string {
	return fmt.Sprintf("%d ok, %d partial, %d failed",
		rep.Count(batch.StatusSucceeded),
		rep.Count(batch.StatusPartiallySucceeded),
		rep.Count(batch.StatusFailed),
	)
}

// sharedDirectories lists each shared directory once, in report order
func sharedDirectories(rep *batch.RunReport) []string {
	seen := make(map[string]bool)
	var lines []string
	for _, res := range rep.Results {
		if len(res.CollidesWith) == 0 {
			continue
		}
		dir := filepath.Base(res.Directory)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		names := append([]string{res.Name}, res.CollidesWith...)
		lines = append(lines, fmt.Sprintf("%s: %s", dir, strings.Join(names, ", ")))
	}
	return lines
}
