package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
)

const imageURL = "http://img.example.test/photo"

var (
	pngData  = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 4096)...)
	jpegData = append([]byte{0xff, 0xd8, 0xff, 0xe0}, bytes.Repeat([]byte{1}, 4096)...)
)

func newTestClient(t *testing.T, opts Options) (*Client, *httpmock.MockTransport) {
	t.Helper()
	if opts.RetryBaseDelay == 0 {
		opts.RetryBaseDelay = time.Millisecond
		opts.RetryMaxDelay = 2 * time.Millisecond
	}
	if opts.MinSize == 0 {
		opts.MinSize = 1024
	}
	transport := httpmock.NewMockTransport()
	c := NewClient(opts, logger.NewNopLogger())
	c.SetTransport(transport)
	return c, transport
}

func TestFetchImageSniffsType(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		wantMIME string
		wantExt  string
	}{
		{name: "png", body: pngData, wantMIME: "image/png", wantExt: ".png"},
		{name: "jpeg", body: jpegData, wantMIME: "image/jpeg", wantExt: ".jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, transport := newTestClient(t, Options{})
			transport.RegisterResponder("GET", imageURL, httpmock.NewBytesResponder(200, tt.body))

			img, err := c.FetchImage(context.Background(), imageURL)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMIME, img.MIME)
			assert.Equal(t, tt.wantExt, img.Ext)
			assert.Equal(t, len(tt.body), len(img.Data))
		})
	}
}

func TestFetchImageRejectsInvalidContent(t *testing.T) {
	html := []byte("<html><body>" + string(bytes.Repeat([]byte("a"), 2048)) + "</body></html>")

	tests := []struct {
		name string
		body []byte
		opts Options
	}{
		{name: "not an image", body: html},
		{name: "too small", body: pngData[:200]},
		{name: "too large", body: pngData, opts: Options{MaxSize: 2048}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, transport := newTestClient(t, tt.opts)
			transport.RegisterResponder("GET", imageURL, httpmock.NewBytesResponder(200, tt.body))

			_, err := c.FetchImage(context.Background(), imageURL)
			require.Error(t, err)
			assert.Equal(t, errs.KindBackend, errs.KindOf(err))
			assert.Equal(t, errs.ErrorTypeInvalidContent, errs.TypeOf(err))
			// invalid content is never retried
			assert.Equal(t, 1, transport.GetTotalCallCount())
		})
	}
}

func TestFetchImageStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		wantType errs.ErrorType
		calls    int
	}{
		{status: http.StatusNotFound, wantType: errs.ErrorTypeNotFound, calls: 1},
		{status: http.StatusForbidden, wantType: errs.ErrorTypeForbidden, calls: 1},
		{status: http.StatusTooManyRequests, wantType: errs.ErrorTypeRateLimit, calls: 3},
		{status: http.StatusBadGateway, wantType: errs.ErrorTypeServerError, calls: 3},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c, transport := newTestClient(t, Options{RetryAttempts: 2})
			transport.RegisterResponder("GET", imageURL, httpmock.NewStringResponder(tt.status, ""))

			_, err := c.FetchImage(context.Background(), imageURL)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, errs.TypeOf(err))
			assert.Equal(t, tt.calls, transport.GetTotalCallCount())

			var typed *errs.Error
			require.True(t, errors.As(err, &typed))
			assert.Equal(t, tt.status, typed.Code)
		})
	}
}

func TestFetchImageRetriesTransientFailure(t *testing.T) {
	c, transport := newTestClient(t, Options{RetryAttempts: 2})

	calls := 0
	transport.RegisterResponder("GET", imageURL, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
		}
		return httpmock.NewBytesResponse(200, pngData), nil
	})

	img, err := c.FetchImage(context.Background(), imageURL)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIME)
	assert.Equal(t, 2, calls)
}

func TestFetchImageNetworkError(t *testing.T) {
	c, transport := newTestClient(t, Options{})
	transport.RegisterResponder("GET", imageURL, httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := c.FetchImage(context.Background(), imageURL)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
}

func TestFetchImageSendsHeaders(t *testing.T) {
	c, transport := newTestClient(t, Options{UserAgent: "imgharvest-test"})
	c.SetHeader("Referer", "https://www.bing.com/")

	transport.RegisterResponder("GET", imageURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "imgharvest-test", req.Header.Get("User-Agent"))
		assert.Equal(t, "https://www.bing.com/", req.Header.Get("Referer"))
		return httpmock.NewBytesResponse(200, pngData), nil
	})

	_, err := c.FetchImage(context.Background(), imageURL)
	require.NoError(t, err)
}

func TestFetchImageCancelled(t *testing.T) {
	c, transport := newTestClient(t, Options{RetryAttempts: 3})
	transport.RegisterResponder("GET", imageURL, func(req *http.Request) (*http.Response, error) {
		if err := req.Context().Err(); err != nil {
			return nil, err
		}
		return httpmock.NewBytesResponse(200, pngData), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchImage(ctx, imageURL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
