package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/ratelimit"
)

// Engine selects the image search backend
type Engine string

const (
	Bing   Engine = "bing"
	Google Engine = "google"

	// Primary is the engine used when none is configured
	Primary   = Bing
	Secondary = Google
)

// ParseEngine resolves an engine name. "primary" and "secondary" are accepted
// as aliases.
func ParseEngine(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bing", "primary":
		return Bing, nil
	case "google", "secondary":
		return Google, nil
	default:
		return "", fmt.Errorf("unknown search engine %q (expected bing or google)", name)
	}
}

func (e Engine) String() string { return string(e) }

// Searcher returns candidate image URLs for a query, one page at a time.
// An empty page without error means the results are exhausted.
type Searcher interface {
	Engine() Engine
	Search(ctx context.Context, query string, page int) ([]string, error)
}

// Options configures a searcher
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	SafeSearch string
	// MaxPages bounds the number of pages a single query may request
	MaxPages int
	Limiter  ratelimit.Limiter
	// Transport replaces the HTTP transport, used by tests
	Transport http.RoundTripper
}

// Credentials holds API access for engines that need it
type Credentials struct {
	APIKey   string
	EngineID string
}

// New creates the searcher for engine
func New(engine Engine, opts Options, creds Credentials, log logger.Logger) (Searcher, error) {
	switch engine {
	case Bing:
		return NewBing(opts, log), nil
	case Google:
		return NewGoogle(opts, creds, log), nil
	default:
		return nil, fmt.Errorf("unknown search engine %q", engine)
	}
}

func newCollector(opts Options, userAgent string) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(opts.Timeout)
	if opts.Transport != nil {
		c.WithTransport(opts.Transport)
	}
	return c
}

func withDefaults(opts Options, baseURL string) Options {
	if opts.BaseURL == "" {
		opts.BaseURL = baseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	return opts
}

// visitError maps a failed page request to a typed backend error
func visitError(engine Engine, status int, err error) error {
	msg := fmt.Sprintf("%s search request failed", engine)
	if status >= 400 {
		return errs.Backend(errs.FromStatus(status), status, msg, err)
	}
	errType := errs.Classify(err)
	if errType == errs.ErrorTypeUnknown {
		errType = errs.ErrorTypeNetwork
	}
	return errs.Backend(errType, status, msg, err)
}

// keepImageURL accepts absolute http(s) URLs not seen earlier on the page
func keepImageURL(raw string, seen map[string]struct{}) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if _, ok := seen[raw]; ok {
		return false
	}
	seen[raw] = struct{}{}
	return true
}
