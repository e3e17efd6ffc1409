// Package runmode resolves how much of the category list a run processes.
//
// A run is scoped by one directive string. "confirm-full" processes every
// category, "test" only the first TestLimit, and anything else aborts the run
// without processing. The directive can be given up front or read from an
// interactive prompt; Obtain takes the first source that answers.
package runmode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"imgharvest/pkg/category"
)

// Mode is the resolved scope of a run
type Mode int

const (
	Abort Mode = iota
	Full
	Test
)

// TestLimit is the number of leading categories a test run processes
const TestLimit = 3

// Recognized directive values
const (
	DirectiveFull  = "confirm-full"
	DirectiveTest  = "test"
	DirectiveAbort = "abort"
)

// Resolve maps a directive to a Mode. Unrecognized input aborts.
func Resolve(directive string) Mode {
	switch strings.ToLower(strings.TrimSpace(directive)) {
	case DirectiveFull:
		return Full
	case DirectiveTest:
		return Test
	default:
		return Abort
	}
}

func (m Mode) String() string {
	switch m {
	case Full:
		return DirectiveFull
	case Test:
		return DirectiveTest
	default:
		return DirectiveAbort
	}
}

// Select returns the categories this mode processes, in their original order
func (m Mode) Select(cats []category.Category) []category.Category {
	switch m {
	case Full:
		return cats
	case Test:
		return cats[:min(TestLimit, len(cats))]
	default:
		return nil
	}
}

// Source yields a directive, or "" when it has none
type Source interface {
	Directive(ctx context.Context) (string, error)
}

// Static is a directive given up front, typically from a command line flag
type Static string

func (s Static) Directive(context.Context) (string, error) {
	return string(s), nil
}

// Prompt asks for the directive on Out and reads one line from In
type Prompt struct {
	In      io.Reader
	Out     io.Writer
	Message string
}

func (p *Prompt) Directive(ctx context.Context) (string, error) {
	if p.Message != "" {
		fmt.Fprint(p.Out, p.Message)
	}

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- answer{strings.TrimSpace(line), err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		if a.err == io.EOF {
			return "", nil
		}
		return a.line, a.err
	}
}

// StdinPrompt returns a prompt on stdin, or nil when stdin is not a terminal
// so that unattended runs never block waiting for input.
func StdinPrompt(out io.Writer, message string) Source {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return &Prompt{In: os.Stdin, Out: out, Message: message}
}

// Obtain returns the first non-empty directive from sources. Nil sources are
// skipped. When no source answers the result is "" which resolves to Abort.
func Obtain(ctx context.Context, sources ...Source) (string, error) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		directive, err := src.Directive(ctx)
		if err != nil {
			return "", fmt.Errorf("reading run directive: %w", err)
		}
		if directive = strings.TrimSpace(directive); directive != "" {
			return directive, nil
		}
	}
	return "", nil
}

// PromptMessage describes the choice for an interactive prompt
func PromptMessage(categories, perCategory int) string {
	return fmt.Sprintf(
		"This will attempt to download ~%d images for %d categories.\nType %q to run all, %q for the first %d only, anything else to cancel: ",
		categories*perCategory, categories, DirectiveFull, DirectiveTest, TestLimit,
	)
}
