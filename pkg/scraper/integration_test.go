package scraper

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgharvest/internal/testserver"
	"imgharvest/pkg/batch"
	"imgharvest/pkg/category"
	"imgharvest/pkg/checkpoint"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/fetch"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/metrics"
	"imgharvest/pkg/query"
	"imgharvest/pkg/ratelimit"
	"imgharvest/pkg/runmode"
	"imgharvest/pkg/search"
)

func serverScraper(srv *testserver.Server, creds search.Credentials, m *metrics.Metrics) *Scraper {
	fetchOpts := fetch.DefaultOptions()
	fetchOpts.RetryAttempts = 0
	fetchOpts.MinSize = 1024

	return New(Options{
		Search:      search.Options{MaxPages: 3},
		Credentials: creds,
		BaseURLs: map[search.Engine]string{
			search.Bing:   srv.BingURL(),
			search.Google: srv.GoogleURL(),
		},
		Fetch:   fetchOpts,
		Workers: 2,
	}, logger.NewNopLogger(), WithMetrics(m))
}

func serverRunner(backend batch.Backend, m *metrics.Metrics, extra ...batch.Option) *batch.Runner {
	opts := append([]batch.Option{
		batch.WithLogger(logger.NewNopLogger()),
		batch.WithPacer(ratelimit.Fixed(0)),
		batch.WithQueryBuilder(query.NewBuilder(query.Placeholder)),
		batch.WithMetrics(m),
	}, extra...)
	return batch.NewRunner(backend, opts...)
}

func fruitCategories() []category.Category {
	return []category.Category{
		{Index: 0, Name: "Apple"},
		{Index: 1, Name: "Pear"},
		{Index: 2, Name: "Plum"},
	}
}

func runConfig(root, engine string) batch.RunConfig {
	return batch.RunConfig{
		ImagesPerCategory: 3,
		OutputRoot:        root,
		Engine:            engine,
		Mode:              runmode.Full,
		Workers:           1,
		RetryAttempts:     1,
		RunID:             "integration",
	}
}

func TestBatchRunAgainstSearchServer(t *testing.T) {
	srv := testserver.New(5)
	defer srv.Close()
	srv.SetResults("Pear", 2)
	srv.SetSearchError("Plum", http.StatusInternalServerError)
	srv.SetImageError("Apple", 1, http.StatusNotFound)

	m := metrics.New()
	root := t.TempDir()
	rep, err := serverRunner(serverScraper(srv, search.Credentials{}, m), m).
		Run(context.Background(), fruitCategories(), runConfig(root, "bing"))
	require.NoError(t, err)
	require.Len(t, rep.Results, 3)

	apple, pear, plum := rep.Results[0], rep.Results[1], rep.Results[2]

	assert.Equal(t, batch.StatusSucceeded, apple.Status)
	assert.Equal(t, 3, apple.Count)
	assert.Equal(t, []string{"000001.jpg", "000002.jpg", "000003.jpg"}, listFiles(t, apple.Directory))

	assert.Equal(t, batch.StatusPartiallySucceeded, pear.Status)
	assert.Equal(t, 2, pear.Count)

	assert.Equal(t, batch.StatusFailed, plum.Status)
	assert.Equal(t, errs.KindBackend, plum.Reason)
	assert.Equal(t, errs.ErrorTypeServerError, plum.ErrorType)
	assert.Equal(t, 0, plum.Count)

	assert.True(t, rep.Complete())
	assert.Equal(t, 5, rep.TotalImages())

	// Apple: one page; Pear: a full page and an empty one; Plum: one failure
	assert.Equal(t, 4, srv.SearchCount())
	// Apple needs a fourth image after the missing one
	assert.Equal(t, 6, srv.ImageCount())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CategoriesTotal.WithLabelValues("failed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ImagesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DownloadFailures.WithLabelValues(string(errs.ErrorTypeNotFound))))
}

func TestBatchRunResumesFromCheckpoint(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	srv := testserver.New(5)
	defer srv.Close()
	srv.SetSearchError("Plum", http.StatusServiceUnavailable)

	root := t.TempDir()
	cfg := runConfig(root, "bing")
	key := checkpoint.Key("fruit.txt", cfg.Engine, cfg.ImagesPerCategory, root)

	first, err := checkpoint.NewManager(key)
	require.NoError(t, err)
	require.NoError(t, first.Begin(key, cfg))

	backend := serverScraper(srv, search.Credentials{}, nil)
	rep, err := serverRunner(backend, nil, batch.WithCheckpoint(first)).
		Run(context.Background(), fruitCategories(), cfg)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusFailed, rep.Results[2].Status)
	assert.Equal(t, 2, first.Completed())

	srv.ClearSearchError("Plum")
	srv.ResetCounters()

	second, err := checkpoint.NewManager(key)
	require.NoError(t, err)
	prev, err := second.Load()
	require.NoError(t, err)
	require.NotNil(t, prev)

	rep, err = serverRunner(backend, nil, batch.WithCheckpoint(second)).
		Run(context.Background(), fruitCategories(), cfg)
	require.NoError(t, err)

	assert.True(t, rep.Results[0].Resumed)
	assert.True(t, rep.Results[1].Resumed)
	assert.False(t, rep.Results[2].Resumed)
	assert.Equal(t, batch.StatusSucceeded, rep.Results[2].Status)
	assert.Equal(t, 1, srv.SearchCount(), "only the failed category searches again")
	assert.Equal(t, 3, second.Completed())
}

func TestBatchRunWithGoogle(t *testing.T) {
	srv := testserver.New(4)
	defer srv.Close()

	root := t.TempDir()
	backend := serverScraper(srv, search.Credentials{APIKey: "key", EngineID: "cx"}, nil)
	rep, err := serverRunner(backend, nil).
		Run(context.Background(), fruitCategories()[:1], runConfig(root, "google"))
	require.NoError(t, err)

	require.Len(t, rep.Results, 1)
	assert.Equal(t, batch.StatusSucceeded, rep.Results[0].Status)
	assert.Equal(t, 3, rep.Results[0].Count)
}

func TestBatchRunWithGoogleWithoutCredentials(t *testing.T) {
	srv := testserver.New(4)
	defer srv.Close()

	backend := serverScraper(srv, search.Credentials{}, nil)
	rep, err := serverRunner(backend, nil).
		Run(context.Background(), fruitCategories()[:1], runConfig(t.TempDir(), "google"))
	require.NoError(t, err)

	res := rep.Results[0]
	assert.Equal(t, batch.StatusFailed, res.Status)
	assert.Equal(t, errs.ErrorTypeAuth, res.ErrorType)
	assert.Equal(t, 0, srv.SearchCount())
}
