package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"imgharvest/pkg/category"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/metrics"
	"imgharvest/pkg/query"
	"imgharvest/pkg/ratelimit"
	"imgharvest/pkg/retry"
	"imgharvest/pkg/storage"
)

// Checkpoint remembers completed categories so an interrupted run can resume
type Checkpoint interface {
	Lookup(cat category.Category) (CategoryResult, bool)
	Record(result CategoryResult) error
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPacer sets the pacer applied between categories
func WithPacer(p ratelimit.Pacer) Option {
	return func(r *Runner) {
		if p != nil {
			r.pacer = p
		}
	}
}

// WithQueryBuilder sets the query template
func WithQueryBuilder(b *query.Builder) Option {
	return func(r *Runner) {
		if b != nil {
			r.builder = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithObserver registers a progress observer. It may be given several times.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observers.add(o) }
}

func WithCheckpoint(c Checkpoint) Option {
	return func(r *Runner) { r.checkpoint = c }
}

// WithRetryBackoff sets the delay between category attempts
func WithRetryBackoff(b retry.BackoffStrategy) Option {
	return func(r *Runner) {
		if b != nil {
			r.retryBackoff = b
		}
	}
}

// Runner drives a batch of categories through a Backend, isolating failures
// per category.
type Runner struct {
	backend      Backend
	logger       logger.Logger
	pacer        ratelimit.Pacer
	builder      *query.Builder
	metrics      *metrics.Metrics
	observers    observers
	checkpoint   Checkpoint
	retryBackoff retry.BackoffStrategy
}

// NewRunner creates a runner for backend
func NewRunner(backend Backend, opts ...Option) *Runner {
	r := &Runner{
		backend: backend,
		logger:  logger.GetLogger(),
		pacer:   ratelimit.NewJitter(2*time.Second, 5*time.Second),
		builder: query.NewBuilder(query.DefaultTemplate),
		retryBackoff: &retry.ExponentialBackoff{
			BaseDelay:    10 * time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes the categories selected by cfg.Mode and returns the report.
// Results are appended only for completed categories. When ctx is cancelled
// the report holds the completed prefix, is marked interrupted, and the
// context error is returned with it.
func (r *Runner) Run(ctx context.Context, categories []category.Category, cfg RunConfig) (*RunReport, error) {
	selected := cfg.Mode.Select(categories)
	report := &RunReport{
		RunID:      cfg.RunID,
		Engine:     cfg.Engine,
		Mode:       cfg.Mode.String(),
		Limit:      cfg.ImagesPerCategory,
		OutputRoot: cfg.OutputRoot,
		Selected:   len(selected),
		StartedAt:  time.Now(),
		Results:    make([]CategoryResult, 0, len(selected)),
	}

	if len(selected) == 0 {
		r.logger.InfoWithFields("No categories selected", map[string]interface{}{
			"mode":       cfg.Mode.String(),
			"categories": len(categories),
		})
		report.FinishedAt = time.Now()
		r.observers.runFinished(report)
		return report, nil
	}

	r.logger.InfoWithFields("Starting batch run", map[string]interface{}{
		"run_id":              cfg.RunID,
		"mode":                cfg.Mode.String(),
		"categories":          len(selected),
		"images_per_category": cfg.ImagesPerCategory,
		"engine":              cfg.Engine,
		"output_root":         cfg.OutputRoot,
		"workers":             cfg.Workers,
	})

	collisions := r.detectCollisions(selected)
	r.observers.runStarted(len(selected), cfg)

	var err error
	if cfg.Workers > 1 {
		err = r.runParallel(ctx, selected, cfg, collisions, report)
	} else {
		err = r.runSequential(ctx, selected, cfg, collisions, report)
	}

	report.FinishedAt = time.Now()
	if err != nil {
		report.Interrupted = true
		r.logger.WarnWithFields("Run interrupted", map[string]interface{}{
			"completed": len(report.Results),
			"selected":  len(selected),
		})
	}
	r.observers.runFinished(report)
	return report, err
}

func (r *Runner) runSequential(ctx context.Context, selected []category.Category, cfg RunConfig, collisions map[int][]string, report *RunReport) error {
	total := len(selected)
	for pos, cat := range selected {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := r.process(ctx, pos, total, cat, cfg, collisions[cat.Index])
		if err != nil {
			return err
		}
		report.Results = append(report.Results, res)

		if pos < total-1 && !res.Resumed {
			if err := r.pause(ctx, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// runParallel processes groups of categories concurrently. Categories sharing
// a directory form one group and run in source order within it. Results are
// placed by position so the report keeps source order.
func (r *Runner) runParallel(ctx context.Context, selected []category.Category, cfg RunConfig, collisions map[int][]string, report *RunReport) error {
	total := len(selected)
	groups := groupByDirectory(selected)
	slots := make([]*CategoryResult, total)
	var mu sync.Mutex
	var pending atomic.Int32
	pending.Store(int32(len(groups)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for _, group := range groups {
		g.Go(func() error {
			pending.Add(-1)
			for i, pos := range group {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := r.process(gctx, pos, total, selected[pos], cfg, collisions[selected[pos].Index])
				if err != nil {
					return err
				}
				mu.Lock()
				slots[pos] = &res
				mu.Unlock()

				last := i == len(group)-1
				if res.Resumed || (last && pending.Load() == 0) {
					continue
				}
				if err := r.pause(gctx, res); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()

	for _, slot := range slots {
		if slot == nil {
			break
		}
		report.Results = append(report.Results, *slot)
	}
	if err == nil && len(report.Results) < total {
		err = ctx.Err()
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// groupByDirectory returns positions of selected grouped by directory name,
// ordered by first occurrence
func groupByDirectory(selected []category.Category) [][]int {
	index := make(map[string]int)
	var groups [][]int
	for pos, cat := range selected {
		dir := cat.DirName()
		g, ok := index[dir]
		if !ok {
			g = len(groups)
			index[dir] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], pos)
	}
	return groups
}

// process runs one category. The error is non-nil only when ctx was cancelled
// before the category completed; the category is then discarded.
func (r *Runner) process(ctx context.Context, pos, total int, cat category.Category, cfg RunConfig, collides []string) (CategoryResult, error) {
	if r.checkpoint != nil {
		if prev, ok := r.checkpoint.Lookup(cat); ok {
			prev.Resumed = true
			prev.CollidesWith = collides
			r.logger.InfoWithFields("Category already completed, reusing result", map[string]interface{}{
				"category": cat.Name,
				"status":   string(prev.Status),
				"count":    prev.Count,
			})
			r.observers.categoryFinished(pos, total, prev)
			return prev, nil
		}
	}

	start := time.Now()
	dir := filepath.Join(cfg.OutputRoot, cat.DirName())
	res := CategoryResult{
		Index:        cat.Index,
		Name:         cat.Name,
		Hint:         cat.Hint,
		Directory:    dir,
		CollidesWith: collides,
	}
	q := r.builder.Build(cat.Name)
	r.observers.categoryStarted(pos, total, cat, q, dir)
	logger.LogCategoryStart(r.logger, pos+1, total, cat.Name, q, dir)

	before, err := prepareDirectory(dir)
	if err != nil {
		res.fail(errs.Directory(dir, err))
	} else {
		attempts, fetchErr := r.fetch(ctx, Request{
			Category:    cat,
			Query:       q,
			Destination: dir,
			Limit:       cfg.ImagesPerCategory,
			Engine:      cfg.Engine,
		}, before, cfg.RetryAttempts)
		if fetchErr != nil && ctx.Err() != nil {
			return CategoryResult{}, ctx.Err()
		}
		res.Attempts = attempts

		after, countErr := storage.CountFiles(dir)
		if countErr == nil {
			res.Count = max(after-before, 0)
		}
		switch {
		case fetchErr != nil:
			res.fail(fetchErr)
		case countErr != nil:
			res.fail(errs.Directory(dir, countErr))
		case res.Count >= cfg.ImagesPerCategory:
			res.Status = StatusSucceeded
		default:
			res.Status = StatusPartiallySucceeded
		}
	}
	res.Duration = time.Since(start)

	r.finish(pos, total, res, cfg)
	return res, nil
}

// prepareDirectory creates dir and returns the number of files already in it
func prepareDirectory(dir string) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, errors.New("not a directory")
	}
	return storage.CountFiles(dir)
}

// fetch calls the backend with bounded retry. Later attempts only ask for the
// images still missing.
func (r *Runner) fetch(ctx context.Context, req Request, before, maxAttempts int) (int, error) {
	attempts := 0
	cfg := &retry.Config{
		MaxAttempts: maxAttempts,
		Backoff:     r.retryBackoff,
		Logger:      r.logger.WithField("category", req.Category.Name),
	}
	err := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		attempts = attempt
		attemptReq := req
		if attempt > 1 {
			current, err := storage.CountFiles(req.Destination)
			if err != nil {
				return errs.Directory(req.Destination, err)
			}
			attemptReq.Limit = req.Limit - (current - before)
			if attemptReq.Limit <= 0 {
				return nil
			}
		}
		_, err := r.backend.Fetch(ctx, attemptReq)
		return err
	})
	return attempts, err
}

func (res *CategoryResult) fail(err error) {
	res.Status = StatusFailed
	res.Reason = errs.KindOf(err)
	if res.Reason == "" || errs.IsFatal(res.Reason) {
		res.Reason = errs.KindBackend
	}
	if res.Reason == errs.KindBackend {
		res.ErrorType = errs.TypeOf(err)
	}

	var typed *errs.Error
	if errors.As(err, &typed) {
		res.Detail = typed.Detail()
	} else {
		res.Detail = err.Error()
	}
}

func (r *Runner) finish(pos, total int, res CategoryResult, cfg RunConfig) {
	reason := ""
	if res.Failed() {
		reason = string(res.Reason) + ": " + res.Detail
	}
	logger.LogCategoryResult(r.logger, res.Name, string(res.Status), res.Count, cfg.ImagesPerCategory, reason, res.Duration)

	r.metrics.IncCategory(string(res.Status))
	r.metrics.AddImages(res.Count)
	r.metrics.ObserveCategory(res.Duration)
	if res.Reason == errs.KindBackend {
		r.metrics.IncBackendError(string(res.ErrorType))
	}

	if r.checkpoint != nil && !res.Failed() {
		if err := r.checkpoint.Record(res); err != nil {
			r.logger.WithError(err).Warn("Failed to update checkpoint")
		}
	}
	r.observers.categoryFinished(pos, total, res)
}

func (r *Runner) pause(ctx context.Context, last CategoryResult) error {
	_, err := ratelimit.Pause(ctx, r.pacer, last.ErrorType == errs.ErrorTypeRateLimit, r.logger)
	return err
}

// detectCollisions logs one warning per shared directory and returns, per
// category index, the names of the other categories sharing its directory
func (r *Runner) detectCollisions(selected []category.Category) map[int][]string {
	groups := category.Collisions(selected)
	dirs := make([]string, 0, len(groups))
	for dir := range groups {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	out := make(map[int][]string)
	for _, dir := range dirs {
		group := groups[dir]
		names := make([]string, len(group))
		for i, c := range group {
			names[i] = c.Name
		}
		r.logger.WarnWithFields("Categories share an output directory and will not be merged", map[string]interface{}{
			"directory":  dir,
			"categories": names,
		})
		for _, c := range group {
			for _, other := range group {
				if other.Index != c.Index {
					out[c.Index] = append(out[c.Index], other.Name)
				}
			}
		}
	}
	return out
}
