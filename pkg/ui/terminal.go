package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// ASCII logo for the application
const ASCIILogo = `
    ╔════════════════════════════════════════════════╗
    ║  ▀█▀ █▀▄▀█ █▀▀   █ █ ▄▀█ █▀█ █ █ █▀▀ █▀ ▀█▀   ║
    ║  ▄█▄ █ ▀ █ █▄█   █▀█ █▀█ █▀▄ ▀▄▀ ██▄ ▄█  █    ║
    ║        CATEGORY IMAGE HARVESTER                ║
    ╚════════════════════════════════════════════════╝
`

var (
	mu     sync.RWMutex
	out    io.Writer = os.Stdout
	quiet  bool
	colors = true
)

// SetOutput redirects terminal output
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetQuietMode suppresses informational output. Errors are still printed.
func SetQuietMode(q bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = q
}

// IsQuietMode reports whether informational output is suppressed
func IsQuietMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return quiet
}

// SetColors enables or disables ANSI colors
func SetColors(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	colors = enabled
}

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		mu.RLock()
		enabled := colors
		mu.RUnlock()
		if !enabled {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

func printf(always bool, format string, args ...interface{}) {
	mu.RLock()
	w, q := out, quiet
	mu.RUnlock()
	if q && !always {
		return
	}
	fmt.Fprintf(w, format, args...)
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	printf(false, "%s", Cyan(ASCIILogo))
}

// PrintError prints an error message in red
func PrintError(msg string, detail string) {
	if detail != "" {
		msg += ": " + detail
	}
	printf(true, "%s\n", Red(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	printf(false, "%s\n", Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	printf(false, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, detail string) {
	if detail != "" {
		msg += ": " + detail
	}
	printf(true, "%s\n", Yellow(msg))
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	printf(false, "%s\n", Magenta(msg))
}
