// Package category loads the ordered list of categories that drive a run and
// derives the output directory name of each one.
package category

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"imgharvest/pkg/errors"
)

// DefaultHeaderMarkers are substrings of the summary lines written by the
// tool that produces category count files.
var DefaultHeaderMarkers = []string{"DISEASE COUNT", "Total rows", "Unique diseases"}

// Category is one unit of work: a name and an optional expected-count hint.
type Category struct {
	// Index is the position among usable lines, starting at 0
	Index int    `json:"index" yaml:"index"`
	Name  string `json:"name" yaml:"name"`
	// Hint is the expected count from the source file, 0 when absent
	Hint int `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// DirName is the output subdirectory for this category
func (c Category) DirName() string {
	return DirName(c.Name)
}

// HasHint reports whether the source line carried a count
func (c Category) HasHint() bool {
	return c.Hint > 0
}

var hintPattern = regexp.MustCompile(`^(.+?)(?:\s*[,|:;]\s*|\s+)(\d+)$`)

// Parser reads category files
type Parser struct {
	headerMarkers []string
}

// NewParser creates a parser skipping lines that contain any of the markers
// (case-insensitive). A nil slice selects DefaultHeaderMarkers.
func NewParser(headerMarkers []string) *Parser {
	if headerMarkers == nil {
		headerMarkers = DefaultHeaderMarkers
	}
	lowered := make([]string, 0, len(headerMarkers))
	for _, m := range headerMarkers {
		if m = strings.TrimSpace(m); m != "" {
			lowered = append(lowered, strings.ToLower(m))
		}
	}
	return &Parser{headerMarkers: lowered}
}

// Load reads categories from path with the default header markers
func Load(path string) ([]Category, error) {
	return NewParser(nil).Load(path)
}

// Parse reads categories from r with the default header markers
func Parse(r io.Reader) ([]Category, error) {
	return NewParser(nil).Parse(r)
}

// Load opens path and parses it
func (p *Parser) Load(path string) ([]Category, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.KindSourceUnavailable, path, err)
	}
	defer f.Close()

	cats, err := p.Parse(f)
	if err != nil {
		if errors.KindOf(err) == errors.KindEmptySource {
			return nil, errors.New(errors.KindEmptySource, path, nil)
		}
		return nil, err
	}
	return cats, nil
}

// Parse returns one Category per usable line, in input order
func (p *Parser) Parse(r io.Reader) ([]Category, error) {
	var cats []Category
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		cat, ok := p.ParseLine(scanner.Text())
		if !ok {
			continue
		}
		cat.Index = len(cats)
		cats = append(cats, cat)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(errors.KindSourceUnavailable, "reading categories", err)
	}
	if len(cats) == 0 {
		return nil, errors.New(errors.KindEmptySource, "no usable category lines", nil)
	}
	return cats, nil
}

// ParseLine parses one line. It returns false for blank, separator, comment,
// header and otherwise malformed lines.
func (p *Parser) ParseLine(line string) (Category, bool) {
	line = strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))
	if line == "" || strings.HasPrefix(line, "#") || isSeparator(line) {
		return Category{}, false
	}

	lower := strings.ToLower(line)
	for _, marker := range p.headerMarkers {
		if strings.Contains(lower, marker) {
			return Category{}, false
		}
	}

	cat := Category{Name: line}
	if m := hintPattern.FindStringSubmatch(line); m != nil {
		if hint, err := strconv.Atoi(m[2]); err == nil {
			cat.Name = strings.TrimSpace(m[1])
			cat.Hint = hint
		}
	}

	if DirName(cat.Name) == "" {
		return Category{}, false
	}
	return cat, true
}

func isSeparator(line string) bool {
	return strings.Trim(line, "=-*#_ \t") == ""
}

// folders holds diacritic-folding transformers. A chained transformer keeps
// state between calls and must not be shared by concurrent DirName calls.
var folders = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	},
}

func foldDiacritics(name string) string {
	t := folders.Get().(transform.Transformer)
	defer folders.Put(t)
	folded, _, err := transform.String(t, name)
	if err != nil {
		return name
	}
	return folded
}

// DirName maps a category name to a filesystem-safe directory name: accents
// folded, lower-cased, anything other than letters, digits, '-' and '.'
// replaced by '_', runs of '_' collapsed and leading/trailing '_' or '.'
// trimmed. The result is empty only when the name has no usable character.
func DirName(name string) string {
	folded := foldDiacritics(name)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_.")
}

// Collisions returns the categories sharing an output directory, keyed by
// directory name. Only directories claimed by two or more categories appear.
func Collisions(cats []Category) map[string][]Category {
	byDir := make(map[string][]Category)
	for _, c := range cats {
		byDir[c.DirName()] = append(byDir[c.DirName()], c)
	}
	for dir, group := range byDir {
		if len(group) < 2 {
			delete(byDir, dir)
		}
	}
	return byDir
}

// String renders the category as it would appear in a source file
func (c Category) String() string {
	if c.HasHint() {
		return fmt.Sprintf("%s %d", c.Name, c.Hint)
	}
	return c.Name
}
