package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs HTTP request information
func LogRequest(l Logger, method, url string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	switch {
	case statusCode >= 500:
		l.ErrorWithFields("HTTP request server error", fields)
	case statusCode >= 400:
		l.WarnWithFields("HTTP request client error", fields)
	default:
		l.DebugWithFields("HTTP request completed", fields)
	}
}

// LogCategoryStart logs the beginning of one category
func LogCategoryStart(l Logger, position, total int, name, query, dir string) {
	l.InfoWithFields("Processing category", map[string]interface{}{
		"position": fmt.Sprintf("%d/%d", position, total),
		"category": name,
		"query":    query,
		"dir":      dir,
	})
}

// LogCategoryResult logs the outcome of one category
func LogCategoryResult(l Logger, name, status string, count, limit int, reason string, duration time.Duration) {
	fields := map[string]interface{}{
		"category": name,
		"status":   status,
		"count":    count,
		"limit":    limit,
		"duration": duration.Round(time.Millisecond),
	}
	if reason != "" {
		fields["reason"] = reason
		l.ErrorWithFields("Category failed", fields)
		return
	}
	if count < limit {
		l.WarnWithFields("Category partially succeeded", fields)
		return
	}
	l.InfoWithFields("Category completed", fields)
}

// LogSearch logs one page of search results
func LogSearch(l Logger, engine, query string, page, found int) {
	l.DebugWithFields("Search page fetched", map[string]interface{}{
		"engine": engine,
		"query":  query,
		"page":   page,
		"found":  found,
	})
}

// LogDownload logs one image download
func LogDownload(l Logger, url, file string, size int64, err error) {
	fields := map[string]interface{}{
		"url": url,
	}
	if err != nil {
		l.WithError(err).DebugWithFields("Image skipped", fields)
		return
	}
	fields["file"] = file
	fields["size"] = size
	l.DebugWithFields("Image saved", fields)
}

// LogPacing logs the delay applied before the next category
func LogPacing(l Logger, delay time.Duration, reason string) {
	l.DebugWithFields("Pacing before next category", map[string]interface{}{
		"delay":  delay.Round(time.Millisecond),
		"reason": reason,
	})
}

// LogRateLimit logs rate limiting events
func LogRateLimit(l Logger, endpoint string, backoff time.Duration) {
	l.WarnWithFields("Rate limit reached, backing off", map[string]interface{}{
		"endpoint": endpoint,
		"backoff":  backoff,
		"action":   "rate_limited",
	})
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	logger := l.WithField("component", component)
	if len(config) > 0 {
		logger = logger.WithFields(config)
	}
	logger.Debug("Component started")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
