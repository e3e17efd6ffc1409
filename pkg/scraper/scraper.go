package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"imgharvest/internal/downloader"
	"imgharvest/pkg/batch"
	"imgharvest/pkg/config"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/fetch"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/metrics"
	"imgharvest/pkg/ratelimit"
	"imgharvest/pkg/search"
	"imgharvest/pkg/storage"
)

const (
	defaultWorkers       = 4
	defaultSeenCacheSize = 4096
)

// Options configures a Scraper
type Options struct {
	Search      search.Options
	Credentials search.Credentials
	// BaseURLs overrides the endpoint of individual engines
	BaseURLs map[search.Engine]string
	Fetch    fetch.Options
	// Workers is the number of concurrent image downloads per category
	Workers int
	// RequestsPerMinute caps image downloads; zero means unlimited
	RequestsPerMinute int
	// Limiter selects how RequestsPerMinute is enforced
	Limiter ratelimit.Strategy
	// SeenCacheSize bounds the per-category set of queued URLs
	SeenCacheSize int
}

// OptionsFromConfig builds scraper options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	fetchOpts := fetch.DefaultOptions()
	if cfg.Download.DownloadTimeout > 0 {
		fetchOpts.Timeout = cfg.Download.DownloadTimeout
	}
	if cfg.Download.RetryAttempts >= 0 {
		fetchOpts.RetryAttempts = cfg.Download.RetryAttempts
	}
	if cfg.Download.MinFileSize > 0 {
		fetchOpts.MinSize = cfg.Download.MinFileSize
	}
	if cfg.Download.MaxFileSize > 0 {
		fetchOpts.MaxSize = cfg.Download.MaxFileSize
	}
	if cfg.Search.UserAgent != "" {
		fetchOpts.UserAgent = cfg.Search.UserAgent
	}

	return Options{
		Search: search.Options{
			UserAgent:  cfg.Search.UserAgent,
			Timeout:    cfg.Search.RequestTimeout,
			SafeSearch: cfg.Search.SafeSearch,
			MaxPages:   cfg.Search.MaxPages,
			Limiter:    ratelimit.PerMinute(cfg.Search.RequestsPerMinute),
		},
		BaseURLs: map[search.Engine]string{
			search.Bing:   cfg.Search.BingURL,
			search.Google: cfg.Search.GoogleURL,
		},
		Fetch:             fetchOpts,
		Workers:           cfg.Download.ConcurrentDownloads,
		RequestsPerMinute: cfg.Download.RequestsPerMinute,
		Limiter:           ratelimit.Strategy(cfg.Download.Limiter),
	}
}

// Option customizes a Scraper
type Option func(*Scraper)

// WithMetrics records search and download counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scraper) { s.metrics = m }
}

// WithSearcher registers a searcher for its engine, replacing the default
func WithSearcher(searcher search.Searcher) Option {
	return func(s *Scraper) {
		if searcher != nil {
			s.searchers[searcher.Engine()] = searcher
		}
	}
}

// WithFetcher replaces the HTTP image client
func WithFetcher(f downloader.ImageFetcher) Option {
	return func(s *Scraper) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// Scraper searches for and downloads category images. It implements
// batch.Backend and is safe for concurrent use on distinct destinations.
type Scraper struct {
	opts    Options
	fetcher downloader.ImageFetcher
	limiter ratelimit.Limiter
	metrics *metrics.Metrics
	logger  logger.Logger

	mu        sync.Mutex
	searchers map[search.Engine]search.Searcher
}

var _ batch.Backend = (*Scraper)(nil)

// New creates a Scraper
func New(opts Options, log logger.Logger, extra ...Option) *Scraper {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.SeenCacheSize <= 0 {
		opts.SeenCacheSize = defaultSeenCacheSize
	}

	s := &Scraper{
		opts:      opts,
		limiter:   ratelimit.NewPerMinute(opts.Limiter, opts.RequestsPerMinute),
		logger:    log,
		searchers: make(map[search.Engine]search.Searcher),
	}
	for _, o := range extra {
		o(s)
	}
	if s.fetcher == nil {
		s.fetcher = fetch.NewClient(opts.Fetch, log)
	}
	return s
}

func (s *Scraper) searcher(name string) (search.Searcher, error) {
	engine, err := search.ParseEngine(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.searchers[engine]; ok {
		return existing, nil
	}
	searchOpts := s.opts.Search
	if u := s.opts.BaseURLs[engine]; u != "" {
		searchOpts.BaseURL = u
	}
	created, err := search.New(engine, searchOpts, s.opts.Credentials, s.logger)
	if err != nil {
		return nil, err
	}
	s.searchers[engine] = created
	return created, nil
}

// Fetch downloads up to req.Limit images for one category into
// req.Destination and returns the number saved.
func (s *Scraper) Fetch(ctx context.Context, req batch.Request) (int, error) {
	if req.Limit <= 0 {
		return 0, nil
	}

	searcher, err := s.searcher(req.Engine)
	if err != nil {
		return 0, errs.Backend(errs.ErrorTypeUnknown, 0, "no search engine", err)
	}

	store, err := storage.NewManager(req.Destination)
	if err != nil {
		return 0, errs.Directory(req.Destination, err)
	}

	seen, err := lru.New[string, struct{}](s.opts.SeenCacheSize)
	if err != nil {
		return 0, fmt.Errorf("failed to create url cache: %w", err)
	}

	log := s.logger.WithFields(map[string]interface{}{
		"category": req.Category.Name,
		"engine":   searcher.Engine().String(),
	})

	poolCtx, cancel := context.WithCancel(ctx)
	pool := downloader.NewWorkerPool(s.opts.Workers, s.fetcher, store, s.limiter, log)
	pool.Start(poolCtx)
	defer func() {
		cancel()
		pool.Close()
	}()

	var (
		saved     int
		page      int
		rank      int
		pending   []string
		exhausted bool
	)

	for saved < req.Limit {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		for len(pending) < req.Limit-saved && !exhausted {
			urls, err := searcher.Search(poolCtx, req.Query, page)
			s.metrics.IncSearch(searcher.Engine().String())
			if err != nil {
				if ctx.Err() != nil {
					return saved, ctx.Err()
				}
				if page == 0 {
					return 0, err
				}
				log.WithError(err).WarnWithFields("Search failed, keeping downloaded images", map[string]interface{}{
					"page": page,
				})
				exhausted = true
				break
			}
			page++
			if len(urls) == 0 {
				exhausted = true
				break
			}
			for _, u := range urls {
				if found, _ := seen.ContainsOrAdd(u, struct{}{}); !found {
					pending = append(pending, u)
				}
			}
		}

		if len(pending) == 0 {
			break
		}

		n := min(len(pending), req.Limit-saved)
		round := make([]downloader.DownloadJob, n)
		for i, u := range pending[:n] {
			rank++
			round[i] = downloader.DownloadJob{URL: u, Rank: rank}
		}
		pending = pending[n:]

		got, err := s.download(poolCtx, pool, round, log)
		saved += got
		if err != nil {
			if ctx.Err() != nil {
				return saved, ctx.Err()
			}
			return saved, err
		}
	}

	log.DebugWithFields("Category download finished", map[string]interface{}{
		"saved":     saved,
		"limit":     req.Limit,
		"pages":     page,
		"exhausted": exhausted,
	})
	return saved, nil
}

// download submits one round of jobs and collects exactly one result per job
func (s *Scraper) download(ctx context.Context, pool *downloader.WorkerPool, jobs []downloader.DownloadJob, log logger.Logger) (int, error) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, job := range jobs {
			if err := pool.Submit(ctx, job); err != nil {
				return
			}
		}
	}()
	// Submit must have returned before the pool can be closed
	defer func() { <-done }()

	saved := 0
	for range jobs {
		select {
		case res, ok := <-pool.Results():
			if !ok {
				return saved, downloader.ErrPoolClosed
			}
			s.record(res, log)
			if res.Success {
				saved++
			}
		case <-ctx.Done():
			return saved, ctx.Err()
		}
	}
	return saved, ctx.Err()
}

func (s *Scraper) record(res downloader.DownloadResult, log logger.Logger) {
	switch {
	case res.Success:
	case res.Duplicate:
		log.DebugWithFields("Skipped duplicate image", map[string]interface{}{
			"url": res.Job.URL,
		})
	case errors.Is(res.Error, context.Canceled), errors.Is(res.Error, context.DeadlineExceeded):
	default:
		s.metrics.IncDownloadFailure(string(errs.TypeOf(res.Error)))
		log.DebugWithFields("Image rejected", map[string]interface{}{
			"url":      res.Job.URL,
			"rank":     res.Job.Rank,
			"error":    res.Error.Error(),
			"duration": res.Duration.Round(time.Millisecond).String(),
		})
	}
}
