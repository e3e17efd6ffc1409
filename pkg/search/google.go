package search

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/gocolly/colly/v2"

	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
)

// DefaultGoogleURL is the Custom Search JSON API endpoint
const DefaultGoogleURL = "https://www.googleapis.com/customsearch/v1"

const (
	// GooglePageSize is the maximum page size the API allows
	GooglePageSize = 10
	// googleMaxStart is the last start index the API serves
	googleMaxStart = 91
)

// GoogleSearcher queries the Google Custom Search JSON API with
// searchType=image. It needs an API key and a search engine ID (cx).
type GoogleSearcher struct {
	opts      Options
	creds     Credentials
	collector *colly.Collector
	logger    logger.Logger
}

// NewGoogle creates a Google Custom Search searcher
func NewGoogle(opts Options, creds Credentials, log logger.Logger) *GoogleSearcher {
	if log == nil {
		log = logger.GetLogger()
	}
	opts = withDefaults(opts, DefaultGoogleURL)
	return &GoogleSearcher{
		opts:      opts,
		creds:     creds,
		collector: newCollector(opts, opts.UserAgent),
		logger:    log.WithField("engine", string(Google)),
	}
}

func (g *GoogleSearcher) Engine() Engine { return Google }

type googleResponse struct {
	Items []struct {
		Link string `json:"link"`
		Mime string `json:"mime"`
	} `json:"items"`
}

// PageURL returns the API URL for a zero-based page number, or "" past the
// last page the API serves.
func (g *GoogleSearcher) PageURL(query string, page int) string {
	start := page*GooglePageSize + 1
	if start > googleMaxStart {
		return ""
	}
	params := url.Values{}
	params.Set("key", g.creds.APIKey)
	params.Set("cx", g.creds.EngineID)
	params.Set("q", query)
	params.Set("searchType", "image")
	params.Set("num", strconv.Itoa(GooglePageSize))
	params.Set("start", strconv.Itoa(start))
	switch g.opts.SafeSearch {
	case "off":
		params.Set("safe", "off")
	case "moderate", "strict":
		params.Set("safe", "active")
	}
	return g.opts.BaseURL + "?" + params.Encode()
}

// Search returns the image URLs of one result page
func (g *GoogleSearcher) Search(ctx context.Context, query string, page int) ([]string, error) {
	if g.creds.APIKey == "" || g.creds.EngineID == "" {
		return nil, errs.Backend(errs.ErrorTypeAuth, 0,
			"google search needs an API key and engine ID (imgharvest auth set google)", nil)
	}
	pageURL := g.PageURL(query, page)
	if pageURL == "" || page >= g.opts.MaxPages {
		return nil, nil
	}
	if err := g.opts.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := g.collector.Clone()
	seen := make(map[string]struct{})
	var urls []string
	var parseErr error
	status := 0

	c.OnResponse(func(r *colly.Response) {
		var body googleResponse
		if err := json.Unmarshal(r.Body, &body); err != nil {
			parseErr = errs.Backend(errs.ErrorTypeParsing, r.StatusCode, "invalid search response", err)
			return
		}
		for _, item := range body.Items {
			if keepImageURL(item.Link, seen) {
				urls = append(urls, item.Link)
			}
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(pageURL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, visitError(Google, status, err)
	}
	if parseErr != nil {
		return nil, parseErr
	}

	logger.LogSearch(g.logger, string(Google), query, page, len(urls))
	return urls, nil
}
