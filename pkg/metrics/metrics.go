package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imgharvest/pkg/logger"
)

// Metrics bundles the Prometheus collectors of a run. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry         *prometheus.Registry
	CategoriesTotal  *prometheus.CounterVec
	ImagesTotal      prometheus.Counter
	BackendErrors    *prometheus.CounterVec
	SearchRequests   *prometheus.CounterVec
	DownloadFailures *prometheus.CounterVec
	CategoryDuration prometheus.Histogram
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	categories := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgharvest_categories_total",
			Help: "Categories processed, by final status.",
		},
		[]string{"status"},
	)
	images := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imgharvest_images_downloaded_total",
			Help: "Images written to category directories.",
		},
	)
	backendErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgharvest_backend_errors_total",
			Help: "Categories that failed in the download backend, by failure type.",
		},
		[]string{"type"},
	)
	searches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgharvest_search_requests_total",
			Help: "Search result pages requested, by engine.",
		},
		[]string{"engine"},
	)
	downloadFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgharvest_download_failures_total",
			Help: "Image candidates that could not be stored, by failure type.",
		},
		[]string{"type"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imgharvest_category_duration_seconds",
			Help:    "Wall time spent on one category.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	registry.MustRegister(categories, images, backendErrors, searches, downloadFailures, duration)

	return &Metrics{
		Registry:         registry,
		CategoriesTotal:  categories,
		ImagesTotal:      images,
		BackendErrors:    backendErrors,
		SearchRequests:   searches,
		DownloadFailures: downloadFailures,
		CategoryDuration: duration,
	}
}

// IncCategory counts a finished category
func (m *Metrics) IncCategory(status string) {
	if m == nil {
		return
	}
	m.CategoriesTotal.WithLabelValues(status).Inc()
}

// AddImages adds n stored images
func (m *Metrics) AddImages(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ImagesTotal.Add(float64(n))
}

// IncBackendError counts a failed category by failure type
func (m *Metrics) IncBackendError(errorType string) {
	if m == nil {
		return
	}
	m.BackendErrors.WithLabelValues(errorType).Inc()
}

// IncSearch counts a search page request
func (m *Metrics) IncSearch(engine string) {
	if m == nil {
		return
	}
	m.SearchRequests.WithLabelValues(engine).Inc()
}

// IncDownloadFailure counts a rejected or failed image candidate
func (m *Metrics) IncDownloadFailure(errorType string) {
	if m == nil {
		return
	}
	m.DownloadFailures.WithLabelValues(errorType).Inc()
}

// ObserveCategory records the duration of one category
func (m *Metrics) ObserveCategory(d time.Duration) {
	if m == nil {
		return
	}
	m.CategoryDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string, log logger.Logger) error {
	if log == nil {
		log = logger.GetLogger()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.InfoWithFields("Serving metrics", map[string]interface{}{
		"addr": addr,
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
