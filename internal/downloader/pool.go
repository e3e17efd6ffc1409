package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"imgharvest/pkg/fetch"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/ratelimit"
	"imgharvest/pkg/storage"
)

// DownloadJob represents a single image candidate
type DownloadJob struct {
	URL string
	// Rank is the position of the URL in the search results
	Rank int
}

// DownloadResult represents the result of a download job
type DownloadResult struct {
	Job       DownloadJob
	Success   bool
	Duplicate bool
	File      string
	Error     error
	Duration  time.Duration
	Size      int
}

// ImageFetcher downloads and validates one image
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) (*fetch.Image, error)
}

// ImageStorage stores validated images
type ImageStorage interface {
	Save(data []byte, ext string) (string, error)
}

// ErrPoolClosed is returned by Submit after Close
var ErrPoolClosed = errors.New("worker pool is shutting down")

// WorkerPool manages concurrent download workers for one category
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan DownloadJob
	resultQueue chan DownloadResult
	wg          sync.WaitGroup
	closeOnce   sync.Once
	closed      chan struct{}
	fetcher     ImageFetcher
	storage     ImageStorage
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// NewWorkerPool creates a new download worker pool
func NewWorkerPool(
	numWorkers int,
	fetcher ImageFetcher,
	store ImageStorage,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan DownloadJob, numWorkers*2),
		resultQueue: make(chan DownloadResult, numWorkers),
		closed:      make(chan struct{}),
		fetcher:     fetcher,
		storage:     store,
		rateLimiter: rateLimiter,
		logger:      log,
	}
}

// Start launches the workers. They stop when ctx is done or after Close.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Close stops accepting jobs, waits for the workers and closes Results
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() {
		close(wp.closed)
		close(wp.jobQueue)
		wp.wg.Wait()
		close(wp.resultQueue)
	})
}

// Submit adds a new download job to the queue
func (wp *WorkerPool) Submit(ctx context.Context, job DownloadJob) error {
	select {
	case <-wp.closed:
		return ErrPoolClosed
	default:
	}

	select {
	case wp.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the result channel. Every submitted job yields exactly one
// result unless the context is cancelled first.
func (wp *WorkerPool) Results() <-chan DownloadResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		result := wp.processJob(ctx, job, id)

		select {
		case wp.resultQueue <- result:
		case <-ctx.Done():
			// Drain so Close never blocks on a full queue
			for range wp.jobQueue {
			}
			return
		}
	}
}

func (wp *WorkerPool) processJob(ctx context.Context, job DownloadJob, workerID int) DownloadResult {
	start := time.Now()
	result := DownloadResult{Job: job}

	if err := wp.rateLimiter.Wait(ctx); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	img, err := wp.fetcher.FetchImage(ctx, job.URL)
	if err != nil {
		result.Error = fmt.Errorf("download failed: %w", err)
		result.Duration = time.Since(start)
		logger.LogDownload(wp.logger.WithField("worker_id", workerID), job.URL, "", 0, err)
		return result
	}
	result.Size = len(img.Data)

	file, err := wp.storage.Save(img.Data, img.Ext)
	if err != nil {
		var dup *storage.DuplicateError
		result.Duplicate = errors.As(err, &dup)
		result.Error = fmt.Errorf("save failed: %w", err)
		result.Duration = time.Since(start)
		logger.LogDownload(wp.logger.WithField("worker_id", workerID), job.URL, "", int64(result.Size), err)
		return result
	}

	result.Success = true
	result.File = file
	result.Duration = time.Since(start)
	logger.LogDownload(wp.logger.WithField("worker_id", workerID), job.URL, file, int64(result.Size), nil)
	return result
}
