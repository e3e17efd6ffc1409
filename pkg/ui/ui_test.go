package ui

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"imgharvest/pkg/batch"
	"imgharvest/pkg/category"
	"imgharvest/pkg/config"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/runmode"
)

type fakeSender struct {
	titles   []string
	messages []string
}

func (f *fakeSender) Send(title, message string) error {
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
	return nil
}

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetColors(false)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetColors(true)
		SetQuietMode(false)
	})
	return &buf
}

func TestQuietModeSuppressesInfo(t *testing.T) {
	buf := captureOutput(t)

	SetQuietMode(true)
	if !IsQuietMode() {
		t.Fatal("Expected quiet mode")
	}
	PrintSuccess("done")
	PrintInfo("label", "value")
	PrintError("broken", "detail")

	got := buf.String()
	if strings.Contains(got, "done") || strings.Contains(got, "label") {
		t.Errorf("Expected info output to be suppressed, got %q", got)
	}
	if !strings.Contains(got, "broken: detail") {
		t.Errorf("Expected error output, got %q", got)
	}
}

func TestPrintHelpers(t *testing.T) {
	buf := captureOutput(t)

	PrintInfo("Engine", "bing")
	PrintWarning("careful", "")
	PrintHighlight("Title")

	want := "Engine: bing\ncareful\nTitle\n"
	if got := buf.String(); got != want {
		t.Errorf("Output = %q, want %q", got, want)
	}
}

func TestProgress(t *testing.T) {
	captureOutput(t)
	var buf bytes.Buffer
	p := NewProgress(&buf)

	p.RunStarted(2, batch.RunConfig{ImagesPerCategory: 5, Engine: "bing", Mode: runmode.Full, OutputRoot: "out"})
	p.CategoryStarted(0, 2, category.Category{Index: 1, Name: "Apple"}, "Apple fruit", "out/apple")
	p.CategoryFinished(0, 2, batch.CategoryResult{Index: 1, Name: "Apple", Status: batch.StatusSucceeded, Count: 5, Duration: time.Second})
	p.CategoryFinished(1, 2, batch.CategoryResult{Index: 2, Name: "Pear", Status: batch.StatusFailed, Reason: errs.KindBackend})
	p.RunFinished(&batch.RunReport{Selected: 2})

	got := buf.String()
	for _, want := range []string{
		"2 categories, 5 images each, engine bing",
		"[1/2] Apple fruit -> out/apple",
		"✓ Apple 5/5",
		"✗ Pear 0/5",
		string(errs.KindBackend),
		"[" + strings.Repeat(ProgressBar, 20) + "] 2/2 | 5 images",
		"[COMPLETE] 5 images in 2 categories",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected output to contain %q\n%s", want, got)
		}
	}
}

func TestProgressBar(t *testing.T) {
	p := NewProgress(&bytes.Buffer{})
	tests := []struct {
		done, total int
		filled      int
	}{
		{0, 4, 0},
		{1, 4, 5},
		{4, 4, 20},
		{0, 0, 0},
	}
	for _, tt := range tests {
		bar := p.Bar(tt.done, tt.total)
		if got := strings.Count(bar, ProgressBar); got != tt.filled {
			t.Errorf("Bar(%d, %d) filled = %d, want %d", tt.done, tt.total, got, tt.filled)
		}
	}
}

func TestRunNotifier(t *testing.T) {
	captureOutput(t)

	tests := []struct {
		name      string
		cfg       config.NotificationConfig
		report    *batch.RunReport
		wantTitle string
	}{
		{
			name:      "complete",
			cfg:       config.NotificationConfig{Enabled: true, OnComplete: true},
			report:    &batch.RunReport{Selected: 1, Results: []batch.CategoryResult{{Status: batch.StatusSucceeded, Count: 3}}},
			wantTitle: "Harvest complete",
		},
		{
			name:      "failure",
			cfg:       config.NotificationConfig{Enabled: true, OnError: true},
			report:    &batch.RunReport{Selected: 1, Results: []batch.CategoryResult{{Status: batch.StatusFailed}}},
			wantTitle: "Harvest finished with failures",
		},
		{
			name:      "interrupted",
			cfg:       config.NotificationConfig{Enabled: true, OnError: true},
			report:    &batch.RunReport{Selected: 3, Interrupted: true},
			wantTitle: "Harvest interrupted",
		},
		{
			name:   "complete without on_complete",
			cfg:    config.NotificationConfig{Enabled: true, OnError: true},
			report: &batch.RunReport{Selected: 1, Results: []batch.CategoryResult{{Status: batch.StatusSucceeded}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			rn := NewRunNotifier(NewNotifierWithSender(sender, true), tt.cfg)
			rn.RunFinished(tt.report)

			if tt.wantTitle == "" {
				if len(sender.titles) != 0 {
					t.Errorf("Expected no notification, got %v", sender.titles)
				}
				return
			}
			if len(sender.titles) != 1 || sender.titles[0] != tt.wantTitle {
				t.Errorf("Titles = %v, want [%s]", sender.titles, tt.wantTitle)
			}
		})
	}
}

func TestRunNotifierDisabled(t *testing.T) {
	if rn := NewRunNotifier(NewNotifierWithSender(&fakeSender{}, true), config.NotificationConfig{}); rn != nil {
		t.Error("Expected nil notifier when disabled")
	}
}

func TestConsoleNotifierSkipsDesktop(t *testing.T) {
	buf := captureOutput(t)
	sender := &fakeSender{}
	n := NewNotifierWithSender(sender, false)

	n.SendNotification("Title", "Body")

	if len(sender.titles) != 0 {
		t.Error("Expected no desktop notification")
	}
	if !strings.Contains(buf.String(), "Title: Body") {
		t.Errorf("Expected console output, got %q", buf.String())
	}
}
