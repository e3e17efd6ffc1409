package search

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
)

const (
	bingTestURL   = "http://bing.test/images/async"
	googleTestURL = "http://google.test/customsearch/v1"
)

const bingPage = `<html><body>
<div class="imgpt">
  <a class="iusc" m='{"murl":"https://img.test/a.jpg","turl":"https://tse.test/a"}'></a>
  <a class="iusc" m='{"murl":"https://img.test/b.png","t":"lesion"}'></a>
  <a class="iusc" m='{"murl":"https://img.test/a.jpg"}'></a>
  <a class="iusc" m='not json'></a>
  <a class="iusc" m='{"murl":"data:image/png;base64,AAAA"}'></a>
  <a class="other" m='{"murl":"https://img.test/ignored.jpg"}'></a>
</div>
</body></html>`

func htmlResponder(body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		return resp, nil
	}
}

func TestParseEngine(t *testing.T) {
	tests := []struct {
		input   string
		want    Engine
		wantErr bool
	}{
		{input: "", want: Bing},
		{input: "bing", want: Bing},
		{input: " Primary ", want: Bing},
		{input: "GOOGLE", want: Google},
		{input: "secondary", want: Google},
		{input: "yandex", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEngine(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBingSearchExtractsImageURLs(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", bingTestURL, htmlResponder(bingPage))

	b := NewBing(Options{BaseURL: bingTestURL, Transport: transport}, logger.NewNopLogger())
	urls, err := b.Search(context.Background(), "acne skin lesion", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img.test/a.jpg", "https://img.test/b.png"}, urls)
}

func TestBingPageURL(t *testing.T) {
	b := NewBing(Options{BaseURL: bingTestURL, SafeSearch: "strict"}, logger.NewNopLogger())

	u, err := url.Parse(b.PageURL("eczema photo", 2))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "eczema photo", q.Get("q"))
	assert.Equal(t, "70", q.Get("first"))
	assert.Equal(t, "35", q.Get("count"))
	assert.Equal(t, "strict", q.Get("adlt"))
}

func TestBingEmptyPageIsExhaustion(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", bingTestURL, htmlResponder("<html><body></body></html>"))

	b := NewBing(Options{BaseURL: bingTestURL, Transport: transport}, logger.NewNopLogger())
	urls, err := b.Search(context.Background(), "rare", 0)
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestBingMaxPages(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", bingTestURL, htmlResponder(bingPage))

	b := NewBing(Options{BaseURL: bingTestURL, Transport: transport, MaxPages: 2}, logger.NewNopLogger())
	urls, err := b.Search(context.Background(), "acne", 2)
	require.NoError(t, err)
	assert.Empty(t, urls)
	assert.Equal(t, 0, transport.GetTotalCallCount())
}

func TestSearchStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		wantType errs.ErrorType
	}{
		{status: http.StatusTooManyRequests, wantType: errs.ErrorTypeRateLimit},
		{status: http.StatusForbidden, wantType: errs.ErrorTypeForbidden},
		{status: http.StatusUnauthorized, wantType: errs.ErrorTypeAuth},
		{status: http.StatusServiceUnavailable, wantType: errs.ErrorTypeServerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", bingTestURL, httpmock.NewStringResponder(tt.status, ""))
			transport.RegisterResponder("GET", googleTestURL, httpmock.NewStringResponder(tt.status, `{"error":{}}`))

			searchers := []Searcher{
				NewBing(Options{BaseURL: bingTestURL, Transport: transport}, logger.NewNopLogger()),
				NewGoogle(Options{BaseURL: googleTestURL, Transport: transport},
					Credentials{APIKey: "key", EngineID: "cx"}, logger.NewNopLogger()),
			}
			for _, s := range searchers {
				_, err := s.Search(context.Background(), "acne", 0)
				require.Error(t, err, s.Engine())
				assert.Equal(t, errs.KindBackend, errs.KindOf(err), s.Engine())
				assert.Equal(t, tt.wantType, errs.TypeOf(err), s.Engine())
			}
		})
	}
}

func TestSearchNetworkError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", bingTestURL, httpmock.NewErrorResponder(errors.New("connection refused")))

	b := NewBing(Options{BaseURL: bingTestURL, Transport: transport}, logger.NewNopLogger())
	_, err := b.Search(context.Background(), "acne", 0)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
}

func TestSearchCancelled(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", bingTestURL, htmlResponder(bingPage))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBing(Options{BaseURL: bingTestURL, Transport: transport}, logger.NewNopLogger())
	_, err := b.Search(ctx, "acne", 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, transport.GetTotalCallCount())
}

func TestGoogleSearch(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", googleTestURL, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		assert.Equal(t, "key", q.Get("key"))
		assert.Equal(t, "cx", q.Get("cx"))
		assert.Equal(t, "image", q.Get("searchType"))
		assert.Equal(t, "11", q.Get("start"))
		return httpmock.NewStringResponse(http.StatusOK, `{"items":[
			{"link":"https://img.test/1.jpg","mime":"image/jpeg"},
			{"link":"https://img.test/2.png","mime":"image/png"},
			{"link":"https://img.test/1.jpg","mime":"image/jpeg"}
		]}`), nil
	})

	g := NewGoogle(Options{BaseURL: googleTestURL, Transport: transport},
		Credentials{APIKey: "key", EngineID: "cx"}, logger.NewNopLogger())
	urls, err := g.Search(context.Background(), "psoriasis", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img.test/1.jpg", "https://img.test/2.png"}, urls)
}

func TestGoogleMissingCredentials(t *testing.T) {
	g := NewGoogle(Options{BaseURL: googleTestURL}, Credentials{}, logger.NewNopLogger())
	_, err := g.Search(context.Background(), "acne", 0)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeAuth, errs.TypeOf(err))
}

func TestGoogleInvalidJSON(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", googleTestURL, httpmock.NewStringResponder(http.StatusOK, "<html>"))

	g := NewGoogle(Options{BaseURL: googleTestURL, Transport: transport},
		Credentials{APIKey: "key", EngineID: "cx"}, logger.NewNopLogger())
	_, err := g.Search(context.Background(), "acne", 0)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeParsing, errs.TypeOf(err))
}

func TestGooglePageLimit(t *testing.T) {
	g := NewGoogle(Options{BaseURL: googleTestURL, MaxPages: 20},
		Credentials{APIKey: "key", EngineID: "cx"}, logger.NewNopLogger())
	assert.NotEmpty(t, g.PageURL("acne", 9))
	assert.Empty(t, g.PageURL("acne", 10))

	urls, err := g.Search(context.Background(), "acne", 10)
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestNewSearcher(t *testing.T) {
	s, err := New(Google, Options{}, Credentials{}, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, Google, s.Engine())

	_, err = New(Engine("yandex"), Options{}, Credentials{}, logger.NewNopLogger())
	assert.Error(t, err)
}
