package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/retry"
)

// DefaultUserAgent is sent when no user agent is configured
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// Options configures the image client
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// MinSize rejects bodies smaller than this many bytes
	MinSize int64
	// MaxSize rejects bodies larger than this many bytes; 0 means unbounded
	MaxSize int64
	// RetryAttempts is the number of extra attempts after a transient failure
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		Timeout:        30 * time.Second,
		UserAgent:      DefaultUserAgent,
		MinSize:        2048,
		RetryAttempts:  2,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
	}
}

// Image is a downloaded body whose content was sniffed as an image
type Image struct {
	Data []byte
	MIME string
	// Ext is the extension derived from the sniffed type, with a leading dot
	Ext string
}

// Client downloads single images over HTTP
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	opts       Options
	backoff    *retry.ErrorTypeBackoff
	logger     logger.Logger
}

// NewClient creates a new image client
func NewClient(opts Options, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = defaults.RetryMaxDelay
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		headers: map[string]string{
			"User-Agent":      opts.UserAgent,
			"Accept":          "image/avif,image/webp,image/apng,image/*,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Cache-Control":   "no-cache",
			"Pragma":          "no-cache",
			"Sec-Fetch-Dest":  "image",
			"Sec-Fetch-Mode":  "no-cors",
			"Sec-Fetch-Site":  "cross-site",
		},
		opts:    opts,
		backoff: retry.NewErrorTypeBackoff(opts.RetryBaseDelay, opts.RetryMaxDelay),
		logger:  log,
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetTransport replaces the HTTP transport
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.httpClient.Transport = rt
}

// FetchImage downloads url, retrying transient failures, and returns the body
// once it passes the size and content checks.
func (c *Client) FetchImage(ctx context.Context, url string) (*Image, error) {
	cfg := &retry.Config{
		MaxAttempts: c.opts.RetryAttempts + 1,
		BackoffFor:  c.backoff.ForError,
		Logger:      c.logger.WithField("url", url),
	}
	return retry.DoWithResult(ctx, cfg, func(ctx context.Context, attempt int) (*Image, error) {
		return c.fetchOnce(ctx, url)
	})
}

func (c *Client) fetchOnce(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Backend(errs.ErrorTypeUnknown, 0, "failed to create request", err)
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponseStatus(resp); err != nil {
		return nil, err
	}

	body := io.Reader(resp.Body)
	if c.opts.MaxSize > 0 {
		body = io.LimitReader(resp.Body, c.opts.MaxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errs.Backend(errs.Classify(err), resp.StatusCode, "failed to read image body", err)
	}

	return c.validate(data, resp.StatusCode)
}

func (c *Client) validate(data []byte, status int) (*Image, error) {
	size := int64(len(data))
	if size < c.opts.MinSize {
		return nil, errs.Backend(errs.ErrorTypeInvalidContent, status,
			fmt.Sprintf("image too small: %d bytes", size), nil)
	}
	if c.opts.MaxSize > 0 && size > c.opts.MaxSize {
		return nil, errs.Backend(errs.ErrorTypeInvalidContent, status,
			fmt.Sprintf("image larger than %d bytes", c.opts.MaxSize), nil)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, errs.Backend(errs.ErrorTypeInvalidContent, status,
			"not an image: "+mt.String(), nil)
	}

	ext := mt.Extension()
	if ext == "" {
		ext = ".jpg"
	}
	return &Image{Data: data, MIME: mt.String(), Ext: ext}, nil
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		errType := errs.Classify(err)
		if errType == errs.ErrorTypeUnknown {
			errType = errs.ErrorTypeNetwork
		}
		return nil, errs.Backend(errType, 0, "request failed", err)
	}

	logger.LogRequest(c.logger, req.Method, req.URL.String(), resp.StatusCode, duration)
	return resp, nil
}

// checkResponseStatus maps a non-2xx response to a typed error
func checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return errs.Backend(errs.FromStatus(resp.StatusCode), resp.StatusCode,
		http.StatusText(resp.StatusCode), nil)
}
