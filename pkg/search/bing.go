package search

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/gocolly/colly/v2"

	"imgharvest/pkg/logger"
)

// DefaultBingURL is the endpoint serving Bing image result pages
const DefaultBingURL = "https://www.bing.com/images/async"

// BingPageSize is the number of results requested per page
const BingPageSize = 35

// BingSearcher scrapes Bing image result pages. Each result anchor
// (a.iusc) carries a JSON "m" attribute whose murl field is the full-size
// image URL.
type BingSearcher struct {
	opts      Options
	collector *colly.Collector
	logger    logger.Logger
}

// NewBing creates a Bing searcher
func NewBing(opts Options, log logger.Logger) *BingSearcher {
	if log == nil {
		log = logger.GetLogger()
	}
	opts = withDefaults(opts, DefaultBingURL)
	return &BingSearcher{
		opts:      opts,
		collector: newCollector(opts, opts.UserAgent),
		logger:    log.WithField("engine", string(Bing)),
	}
}

func (b *BingSearcher) Engine() Engine { return Bing }

type bingMeta struct {
	MURL  string `json:"murl"`
	TURL  string `json:"turl"`
	Title string `json:"t"`
}

// PageURL returns the result page URL for a zero-based page number
func (b *BingSearcher) PageURL(query string, page int) string {
	params := url.Values{}
	params.Set("q", query)
	params.Set("first", strconv.Itoa(page*BingPageSize))
	params.Set("count", strconv.Itoa(BingPageSize))
	params.Set("mmasync", "1")
	if adlt := bingSafeSearch(b.opts.SafeSearch); adlt != "" {
		params.Set("adlt", adlt)
	}
	return b.opts.BaseURL + "?" + params.Encode()
}

func bingSafeSearch(level string) string {
	switch level {
	case "off", "moderate", "strict":
		return level
	default:
		return ""
	}
}

// Search returns the image URLs of one result page
func (b *BingSearcher) Search(ctx context.Context, query string, page int) ([]string, error) {
	if page >= b.opts.MaxPages {
		return nil, nil
	}
	if err := b.opts.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := b.collector.Clone()
	seen := make(map[string]struct{})
	var urls []string
	status := 0

	c.OnHTML("a.iusc", func(e *colly.HTMLElement) {
		raw := e.Attr("m")
		if raw == "" {
			return
		}
		var meta bingMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			b.logger.DebugWithFields("skipping malformed result", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		if keepImageURL(meta.MURL, seen) {
			urls = append(urls, meta.MURL)
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	pageURL := b.PageURL(query, page)
	if err := c.Visit(pageURL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, visitError(Bing, status, err)
	}

	logger.LogSearch(b.logger, string(Bing), query, page, len(urls))
	return urls, nil
}
