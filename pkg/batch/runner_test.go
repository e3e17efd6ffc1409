package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgharvest/pkg/category"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/metrics"
	"imgharvest/pkg/ratelimit"
	"imgharvest/pkg/retry"
	"imgharvest/pkg/runmode"
	"imgharvest/pkg/storage"
)

// fakeBackend writes distinct files into the destination
type fakeBackend struct {
	mu       sync.Mutex
	calls    []Request
	produce  map[string]int
	fail     map[string]error
	failOnce map[string]error
	hook     func(req Request)
}

func (f *fakeBackend) Fetch(ctx context.Context, req Request) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	attempt := 0
	for _, c := range f.calls {
		if c.Category.Index == req.Category.Index {
			attempt++
		}
	}
	f.mu.Unlock()

	if f.hook != nil {
		f.hook(req)
	}
	if err, ok := f.fail[req.Category.Name]; ok {
		return 0, err
	}
	if err, ok := f.failOnce[req.Category.Name]; ok && attempt == 1 {
		// a failed attempt may leave files behind
		if _, werr := writeImages(req, 1, attempt); werr != nil {
			return 0, werr
		}
		return 0, err
	}

	n := req.Limit
	if p, ok := f.produce[req.Category.Name]; ok {
		n = min(p, req.Limit)
	}
	return writeImages(req, n, attempt)
}

func (f *fakeBackend) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Category.Name
	}
	return out
}

func writeImages(req Request, n, attempt int) (int, error) {
	m, err := storage.NewManager(req.Destination)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		data := []byte(fmt.Sprintf("%s#%d#%d", req.Query, attempt, i))
		if _, err := m.Save(data, ".jpg"); err != nil {
			return i, err
		}
	}
	return n, nil
}

// countingPacer records every requested delay and never sleeps
type countingPacer struct {
	mu          sync.Mutex
	calls       int
	rateLimited int
}

func (p *countingPacer) Delay(rateLimited bool) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if rateLimited {
		p.rateLimited++
	}
	return 0
}

func categories(names ...string) []category.Category {
	cats := make([]category.Category, len(names))
	for i, name := range names {
		cats[i] = category.Category{Index: i, Name: name}
	}
	return cats
}

func testConfig(t *testing.T, limit int) RunConfig {
	cfg := DefaultRunConfig()
	cfg.ImagesPerCategory = limit
	cfg.OutputRoot = t.TempDir()
	cfg.RunID = "test-run"
	return cfg
}

func newTestRunner(backend Backend, opts ...Option) (*Runner, *logger.TestLogger) {
	log := logger.NewTestLogger()
	base := []Option{
		WithLogger(log),
		WithPacer(ratelimit.Fixed(0)),
		WithRetryBackoff(&retry.ConstantBackoff{Delay: 0}),
	}
	return NewRunner(backend, append(base, opts...)...), log
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n, err := storage.CountFiles(dir)
	require.NoError(t, err)
	return n
}

func TestRunOneResultPerSelectedCategory(t *testing.T) {
	backend := &fakeBackend{}
	runner, _ := newTestRunner(backend)
	cfg := testConfig(t, 2)

	cats := categories("psoriasis", "eczema", "acne", "rosacea", "vitiligo")
	report, err := runner.Run(context.Background(), cats, cfg)
	require.NoError(t, err)

	require.Len(t, report.Results, len(cats))
	assert.True(t, report.Complete())
	assert.False(t, report.Interrupted)
	for i, res := range report.Results {
		assert.Equal(t, cats[i].Name, res.Name, "results keep source order")
		assert.Equal(t, StatusSucceeded, res.Status)
		assert.Equal(t, 2, res.Count)
		assert.Equal(t, filepath.Join(cfg.OutputRoot, cats[i].DirName()), res.Directory)
	}
	assert.Equal(t, []string{"psoriasis", "eczema", "acne", "rosacea", "vitiligo"}, backend.names())
	assert.Equal(t, 10, report.TotalImages())
}

func TestRunCountsFilesOnDisk(t *testing.T) {
	tests := []struct {
		name       string
		produce    int
		wantStatus Status
	}{
		{name: "full", produce: 5, wantStatus: StatusSucceeded},
		{name: "partial", produce: 3, wantStatus: StatusPartiallySucceeded},
		{name: "exhausted", produce: 0, wantStatus: StatusPartiallySucceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{produce: map[string]int{"melanoma": tt.produce}}
			runner, _ := newTestRunner(backend)
			cfg := testConfig(t, 5)

			report, err := runner.Run(context.Background(), categories("melanoma"), cfg)
			require.NoError(t, err)
			require.Len(t, report.Results, 1)

			res := report.Results[0]
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.produce, res.Count)
			assert.Equal(t, tt.produce, countFiles(t, res.Directory))
			assert.Empty(t, res.Reason)
		})
	}
}

func TestRunIgnoresBackendReportedCount(t *testing.T) {
	// the backend claims success for more files than it wrote
	backend := BackendFunc(func(ctx context.Context, req Request) (int, error) {
		if _, err := writeImages(req, 1, 1); err != nil {
			return 0, err
		}
		return req.Limit, nil
	})
	runner, _ := newTestRunner(backend)

	report, err := runner.Run(context.Background(), categories("urticaria"), testConfig(t, 4))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Results[0].Count)
	assert.Equal(t, StatusPartiallySucceeded, report.Results[0].Status)
}

func TestRunPreExistingFilesAreNotCounted(t *testing.T) {
	backend := &fakeBackend{}
	runner, _ := newTestRunner(backend)
	cfg := testConfig(t, 3)

	dir := filepath.Join(cfg.OutputRoot, "scabies")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001.jpg"), []byte("old"), 0644))

	report, err := runner.Run(context.Background(), categories("scabies"), cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Results[0].Count)
	assert.Equal(t, StatusSucceeded, report.Results[0].Status)
	assert.Equal(t, 4, countFiles(t, dir))
	assert.FileExists(t, filepath.Join(dir, "000004.jpg"), "numbering continues after existing files")
}

func TestRunDirectoryErrorDoesNotStopBatch(t *testing.T) {
	backend := &fakeBackend{}
	runner, _ := newTestRunner(backend)
	cfg := testConfig(t, 1)

	// a regular file where the category directory should go
	require.NoError(t, os.WriteFile(filepath.Join(cfg.OutputRoot, "psoriasis"), []byte("x"), 0644))

	report, err := runner.Run(context.Background(), categories("psoriasis", "eczema"), cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	failed := report.Results[0]
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, errs.KindDirectory, failed.Reason)
	assert.NotEmpty(t, failed.Detail)

	assert.Equal(t, StatusSucceeded, report.Results[1].Status)
	assert.Equal(t, []string{"eczema"}, backend.names(), "the backend is not called for the failed directory")
}

func TestRunBackendErrorContinues(t *testing.T) {
	netErr := errs.Backend(errs.ErrorTypeNetwork, 0, "request failed", errors.New("connection reset by peer"))
	backend := &fakeBackend{fail: map[string]error{"acne": netErr}}
	runner, log := newTestRunner(backend)

	report, err := runner.Run(context.Background(), categories("acne", "eczema"), testConfig(t, 2))
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	acne := report.Results[0]
	assert.Equal(t, "acne", acne.Name)
	assert.Equal(t, StatusFailed, acne.Status)
	assert.Equal(t, errs.KindBackend, acne.Reason)
	assert.Equal(t, errs.ErrorTypeNetwork, acne.ErrorType)
	assert.Contains(t, acne.Detail, "connection reset")
	assert.Equal(t, 1, acne.Attempts)

	assert.Equal(t, "eczema", report.Results[1].Name)
	assert.Equal(t, StatusSucceeded, report.Results[1].Status)
	assert.True(t, log.HasMessage("Category failed"))
}

func TestRunUntypedBackendErrorIsBackendError(t *testing.T) {
	backend := &fakeBackend{fail: map[string]error{"acne": errors.New("backend crashed")}}
	runner, _ := newTestRunner(backend)

	report, err := runner.Run(context.Background(), categories("acne"), testConfig(t, 2))
	require.NoError(t, err)
	assert.Equal(t, errs.KindBackend, report.Results[0].Reason)
	assert.Equal(t, "backend crashed", report.Results[0].Detail)
}

func TestRunModes(t *testing.T) {
	cats := categories("a1", "b2", "c3", "d4", "e5")

	tests := []struct {
		name string
		mode runmode.Mode
		cats []category.Category
		want []string
	}{
		{name: "full", mode: runmode.Full, cats: cats, want: []string{"a1", "b2", "c3", "d4", "e5"}},
		{name: "test", mode: runmode.Test, cats: cats, want: []string{"a1", "b2", "c3"}},
		{name: "test short list", mode: runmode.Test, cats: cats[:2], want: []string{"a1", "b2"}},
		{name: "abort", mode: runmode.Abort, cats: cats, want: nil},
		{name: "unrecognized directive", mode: runmode.Resolve("y"), cats: cats, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			runner, _ := newTestRunner(backend)
			cfg := testConfig(t, 1)
			cfg.Mode = tt.mode

			report, err := runner.Run(context.Background(), tt.cats, cfg)
			require.NoError(t, err)

			var got []string
			for _, res := range report.Results {
				got = append(got, res.Name)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want), report.Selected)

			if tt.want == nil {
				entries, err := os.ReadDir(cfg.OutputRoot)
				require.NoError(t, err)
				assert.Empty(t, entries, "an aborted run creates no directory")
			}
		})
	}
}

func TestRunEmptyCategories(t *testing.T) {
	runner, _ := newTestRunner(&fakeBackend{})
	report, err := runner.Run(context.Background(), nil, testConfig(t, 1))
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.True(t, report.Complete())
}

func TestRunCollisionsAreNotMerged(t *testing.T) {
	backend := &fakeBackend{}
	runner, log := newTestRunner(backend)
	cfg := testConfig(t, 2)

	cats := categories("Café au lait", "cafe-au lait", "cafe au lait")
	report, err := runner.Run(context.Background(), cats, cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	// "cafe-au lait" keeps its hyphen and gets its own directory
	assert.Equal(t, report.Results[0].Directory, report.Results[2].Directory)
	assert.NotEqual(t, report.Results[0].Directory, report.Results[1].Directory)

	assert.Equal(t, []string{"cafe au lait"}, report.Results[0].CollidesWith)
	assert.Equal(t, []string{"Café au lait"}, report.Results[2].CollidesWith)
	assert.Empty(t, report.Results[1].CollidesWith)

	// both categories are processed and the second continues numbering
	assert.Equal(t, 2, report.Results[0].Count)
	assert.Equal(t, 2, report.Results[2].Count)
	assert.Equal(t, 4, countFiles(t, report.Results[0].Directory))
	assert.FileExists(t, filepath.Join(report.Results[0].Directory, "000004.jpg"))

	assert.Len(t, log.GetMessagesByLevel("WARN"), 1)
}

func TestRunPacesBetweenCategories(t *testing.T) {
	limited := errs.Backend(errs.ErrorTypeRateLimit, 429, "Too Many Requests", nil)
	backend := &fakeBackend{fail: map[string]error{"b": limited}}
	pacer := &countingPacer{}
	runner, _ := newTestRunner(backend, WithPacer(pacer))

	_, err := runner.Run(context.Background(), categories("a", "b", "c", "d"), testConfig(t, 1))
	require.NoError(t, err)

	assert.Equal(t, 3, pacer.calls, "one pause between each pair of categories")
	assert.Equal(t, 1, pacer.rateLimited)
}

func TestRunCancellationKeepsPrefix(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &fakeBackend{hook: func(req Request) {
		if req.Category.Name == "second" {
			cancel()
		}
	}}
	runner, _ := newTestRunner(backend)

	report, err := runner.Run(ctx, categories("first", "second", "third"), testConfig(t, 1))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Interrupted)
	assert.False(t, report.Complete())

	require.Len(t, report.Results, 2)
	assert.Equal(t, "first", report.Results[0].Name)
	assert.Equal(t, "second", report.Results[1].Name)
	assert.Equal(t, []string{"first", "second"}, backend.names())
}

func TestRunCancelledBackendCallIsDiscarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := BackendFunc(func(ctx context.Context, req Request) (int, error) {
		if req.Category.Name == "second" {
			cancel()
			return 0, ctx.Err()
		}
		return writeImages(req, req.Limit, 1)
	})
	runner, _ := newTestRunner(backend)

	report, err := runner.Run(ctx, categories("first", "second", "third"), testConfig(t, 1))
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "first", report.Results[0].Name)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	transient := errs.Backend(errs.ErrorTypeServerError, 503, "Service Unavailable", nil)
	backend := &fakeBackend{failOnce: map[string]error{"lupus": transient}}
	runner, _ := newTestRunner(backend)
	cfg := testConfig(t, 3)
	cfg.RetryAttempts = 3

	report, err := runner.Run(context.Background(), categories("lupus"), cfg)
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 3, res.Count, "the retry only asks for the missing images")
	assert.Equal(t, 3, countFiles(t, res.Directory))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.calls, 2)
	assert.Equal(t, 2, backend.calls[1].Limit)
}

func TestRunDoesNotRetryPermanentFailures(t *testing.T) {
	forbidden := errs.Backend(errs.ErrorTypeForbidden, 403, "Forbidden", nil)
	backend := &fakeBackend{fail: map[string]error{"lupus": forbidden}}
	runner, _ := newTestRunner(backend)
	cfg := testConfig(t, 3)
	cfg.RetryAttempts = 3

	report, err := runner.Run(context.Background(), categories("lupus"), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Results[0].Attempts)
	assert.Equal(t, errs.ErrorTypeForbidden, report.Results[0].ErrorType)
}

func TestRunParallelKeepsOrder(t *testing.T) {
	backend := &fakeBackend{fail: map[string]error{"c3": errors.New("boom")}}
	runner, _ := newTestRunner(backend)
	cfg := testConfig(t, 2)
	cfg.Workers = 3

	names := []string{"a1", "b2", "c3", "d4", "e5", "f6", "g7"}
	report, err := runner.Run(context.Background(), categories(names...), cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, len(names))

	for i, res := range report.Results {
		assert.Equal(t, names[i], res.Name)
		if res.Name == "c3" {
			assert.Equal(t, StatusFailed, res.Status)
		} else {
			assert.Equal(t, StatusSucceeded, res.Status)
		}
	}
}

func TestRunParallelAccentedNames(t *testing.T) {
	names := make([]string, 200)
	for i := range names {
		names[i] = fmt.Sprintf("Éczéma Ñodular à %d", i)
	}
	runner, _ := newTestRunner(&fakeBackend{})
	cfg := testConfig(t, 1)
	cfg.Workers = 8

	report, err := runner.Run(context.Background(), categories(names...), cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, len(names))

	for i, res := range report.Results {
		assert.Equal(t, StatusSucceeded, res.Status, res.Name)
		assert.Equal(t, fmt.Sprintf("eczema_nodular_a_%d", i), filepath.Base(res.Directory))
		assert.Empty(t, res.CollidesWith)
	}
}

func TestRunParallelSerializesSharedDirectory(t *testing.T) {
	var mu sync.Mutex
	active := map[string]bool{}
	overlap := false

	backend := BackendFunc(func(ctx context.Context, req Request) (int, error) {
		mu.Lock()
		if active[req.Destination] {
			overlap = true
		}
		active[req.Destination] = true
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)
		n, err := writeImages(req, req.Limit, 1)

		mu.Lock()
		active[req.Destination] = false
		mu.Unlock()
		return n, err
	})
	runner, _ := newTestRunner(backend)
	cfg := testConfig(t, 2)
	cfg.Workers = 4

	report, err := runner.Run(context.Background(), categories("Tinea", "tinea", "TINEA", "other"), cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, 4)
	assert.False(t, overlap, "categories sharing a directory never run concurrently")
	assert.Equal(t, 6, countFiles(t, report.Results[0].Directory))
}

func TestGroupByDirectory(t *testing.T) {
	groups := groupByDirectory(categories("a", "B", "c", "b", "A"))
	assert.Equal(t, [][]int{{0, 4}, {1, 3}, {2}}, groups)
}

// fakeCheckpoint holds results in memory
type fakeCheckpoint struct {
	mu       sync.Mutex
	done     map[string]CategoryResult
	recorded []string
}

func (c *fakeCheckpoint) Lookup(cat category.Category) (CategoryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.done[fmt.Sprintf("%d:%s", cat.Index, cat.Name)]
	return res, ok
}

func (c *fakeCheckpoint) Record(res CategoryResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorded = append(c.recorded, res.Name)
	return nil
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	cp := &fakeCheckpoint{done: map[string]CategoryResult{
		"0:first": {Index: 0, Name: "first", Status: StatusSucceeded, Count: 2},
	}}
	backend := &fakeBackend{fail: map[string]error{"third": errors.New("boom")}}
	runner, _ := newTestRunner(backend, WithCheckpoint(cp))

	report, err := runner.Run(context.Background(), categories("first", "second", "third"), testConfig(t, 2))
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	assert.True(t, report.Results[0].Resumed)
	assert.Equal(t, 2, report.Results[0].Count)
	assert.Equal(t, []string{"second", "third"}, backend.names())
	assert.Equal(t, []string{"second"}, cp.recorded, "failed categories are not checkpointed")
}

// recordingObserver keeps the event sequence
type recordingObserver struct {
	events []string
}

func (o *recordingObserver) RunStarted(total int, cfg RunConfig) {
	o.events = append(o.events, fmt.Sprintf("run:%d", total))
}

func (o *recordingObserver) CategoryStarted(position, total int, cat category.Category, query, dir string) {
	o.events = append(o.events, "start:"+cat.Name)
}

func (o *recordingObserver) CategoryFinished(position, total int, res CategoryResult) {
	o.events = append(o.events, "done:"+res.Name+":"+string(res.Status))
}

func (o *recordingObserver) RunFinished(report *RunReport) {
	o.events = append(o.events, fmt.Sprintf("finished:%d", len(report.Results)))
}

func TestRunNotifiesObservers(t *testing.T) {
	obs := &recordingObserver{}
	runner, _ := newTestRunner(&fakeBackend{}, WithObserver(obs), WithObserver(NopObserver{}))

	_, err := runner.Run(context.Background(), categories("x1", "y2"), testConfig(t, 1))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"run:2",
		"start:x1", "done:x1:succeeded",
		"start:y2", "done:y2:succeeded",
		"finished:2",
	}, obs.events)
}

func TestRunRecordsMetrics(t *testing.T) {
	m := metrics.New()
	backend := &fakeBackend{fail: map[string]error{"b": errs.Backend(errs.ErrorTypeTimeout, 0, "timeout", nil)}}
	runner, _ := newTestRunner(backend, WithMetrics(m))

	_, err := runner.Run(context.Background(), categories("a", "b"), testConfig(t, 2))
	require.NoError(t, err)

	body := scrapeMetrics(t, m)
	assert.Contains(t, body, `imgharvest_categories_total{status="succeeded"} 1`)
	assert.Contains(t, body, `imgharvest_categories_total{status="failed"} 1`)
	assert.Contains(t, body, `imgharvest_backend_errors_total{type="timeout"} 1`)
	assert.Contains(t, body, "imgharvest_images_downloaded_total 2")
}

func scrapeMetrics(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	var b strings.Builder
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, l := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			value := metric.GetCounter().GetValue()
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			fmt.Fprintf(&b, "%s %g\n", name, value)
		}
	}
	return b.String()
}

func TestRunReportSummary(t *testing.T) {
	report := &RunReport{
		Selected: 3,
		Results: []CategoryResult{
			{Name: "a", Status: StatusSucceeded, Count: 5},
			{Name: "b", Status: StatusPartiallySucceeded, Count: 0},
			{Name: "c", Status: StatusFailed, Reason: errs.KindBackend},
		},
	}

	assert.Equal(t, 1, report.Count(StatusSucceeded))
	assert.Equal(t, 1, report.Count(StatusPartiallySucceeded))
	assert.Equal(t, 1, report.Count(StatusFailed))
	assert.Equal(t, 5, report.TotalImages())

	zero := report.ZeroImage()
	require.Len(t, zero, 2)
	assert.Equal(t, "b", zero[0].Name)
	assert.Equal(t, "c", zero[1].Name)
	assert.True(t, report.Complete())
}
