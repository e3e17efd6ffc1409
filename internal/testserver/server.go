// Package testserver simulates the image search engines and the hosts serving
// the images they return.
package testserver

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	BingPath   = "/images/async"
	GooglePath = "/customsearch/v1"
	imagePath  = "/img/"

	// ImageSize is the body size of every served image
	ImageSize = 4096
)

// Server is an httptest server answering Bing and Google image searches.
// Each query yields a configurable number of distinct images.
type Server struct {
	server *httptest.Server

	requestCount  int32
	searchCount   int32
	imageCount    int32
	rateLimitHits int32

	mu sync.RWMutex
	// results is the number of images a query yields, defaultResults if absent
	results        map[string]int
	defaultResults int
	// searchErrors maps a query to the status its searches fail with
	searchErrors map[string]int
	// imageErrors maps an unescaped image path to the status it fails with
	imageErrors map[string]int
	// rateLimitEvery answers every nth request with 429 when positive
	rateLimitEvery int32
}

// New starts a server where every query yields defaultResults images
func New(defaultResults int) *Server {
	s := &Server{
		results:        make(map[string]int),
		defaultResults: defaultResults,
		searchErrors:   make(map[string]int),
		imageErrors:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(BingPath, s.handleBing)
	mux.HandleFunc(GooglePath, s.handleGoogle)
	mux.HandleFunc(imagePath, s.handleImage)

	s.server = httptest.NewServer(mux)
	return s
}

// SetResults sets the number of images query yields
func (s *Server) SetResults(query string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[query] = n
}

// SetSearchError makes every search for query fail with code
func (s *Server) SetSearchError(query string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchErrors[query] = code
}

// ClearSearchError removes the error configured for query
func (s *Server) ClearSearchError(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.searchErrors, query)
}

// SetImageError makes the nth image (1-based) of query fail with code
func (s *Server) SetImageError(query string, n int, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageErrors[query+"/"+strconv.Itoa(n)+".jpg"] = code
}

// RateLimitEvery answers every nth request with 429 Too Many Requests.
// Zero disables it.
func (s *Server) RateLimitEvery(n int) {
	atomic.StoreInt32(&s.rateLimitEvery, int32(n))
}

func (s *Server) handleBing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if !s.beginSearch(w, query) {
		return
	}

	first, _ := strconv.Atoi(q.Get("first"))
	count, _ := strconv.Atoi(q.Get("count"))

	var b strings.Builder
	b.WriteString("<html><body>\n")
	for _, n := range s.page(query, first, count) {
		meta, _ := json.Marshal(map[string]string{"murl": s.ImageURL(query, n), "t": query})
		fmt.Fprintf(&b, "<a class=\"iusc\" m=\"%s\"></a>\n", html.EscapeString(string(meta)))
	}
	b.WriteString("</body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(b.String()))
}

func (s *Server) handleGoogle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("key") == "" || q.Get("cx") == "" {
		atomic.AddInt32(&s.requestCount, 1)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	query := q.Get("q")
	if !s.beginSearch(w, query) {
		return
	}

	start, _ := strconv.Atoi(q.Get("start"))
	num, _ := strconv.Atoi(q.Get("num"))

	type item struct {
		Link string `json:"link"`
		Mime string `json:"mime"`
	}
	body := struct {
		Items []item `json:"items,omitempty"`
	}{}
	for _, n := range s.page(query, start-1, num) {
		body.Items = append(body.Items, item{Link: s.ImageURL(query, n), Mime: "image/jpeg"})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// beginSearch counts the request and writes any configured failure. It
// reports whether the handler should continue.
func (s *Server) beginSearch(w http.ResponseWriter, query string) bool {
	atomic.AddInt32(&s.searchCount, 1)
	if s.rateLimited(w) {
		return false
	}
	s.mu.RLock()
	code := s.searchErrors[query]
	s.mu.RUnlock()
	if code > 0 {
		http.Error(w, http.StatusText(code), code)
		return false
	}
	return true
}

// page returns the 1-based image numbers in [offset, offset+count)
func (s *Server) page(query string, offset, count int) []int {
	s.mu.RLock()
	total, ok := s.results[query]
	if !ok {
		total = s.defaultResults
	}
	s.mu.RUnlock()

	var out []int
	for n := offset + 1; n <= total && n <= offset+count; n++ {
		out = append(out, n)
	}
	return out
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.imageCount, 1)
	if s.rateLimited(w) {
		return
	}

	key := strings.TrimPrefix(r.URL.Path, imagePath)
	s.mu.RLock()
	code := s.imageErrors[key]
	s.mu.RUnlock()
	if code > 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(JPEG(key))
}

func (s *Server) rateLimited(w http.ResponseWriter) bool {
	n := atomic.AddInt32(&s.requestCount, 1)
	every := atomic.LoadInt32(&s.rateLimitEvery)
	if every <= 0 || n%every != 0 {
		return false
	}
	atomic.AddInt32(&s.rateLimitHits, 1)
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	return true
}

// JPEG returns a distinct JPEG-signed body of ImageSize bytes for seed
func JPEG(seed string) []byte {
	data := make([]byte, ImageSize)
	copy(data, []byte{0xff, 0xd8, 0xff, 0xe0})
	for i := 4; i < len(data); i++ {
		data[i] = byte(i % 251)
	}
	copy(data[16:], seed)
	return data
}

func imageKey(query string, n int) string {
	return url.PathEscape(query) + "/" + strconv.Itoa(n) + ".jpg"
}

// ImageURL returns the URL of the nth image of query
func (s *Server) ImageURL(query string, n int) string {
	return s.server.URL + imagePath + imageKey(query, n)
}

// BingURL returns the Bing-style search endpoint
func (s *Server) BingURL() string {
	return s.server.URL + BingPath
}

// GoogleURL returns the Google-style search endpoint
func (s *Server) GoogleURL() string {
	return s.server.URL + GooglePath
}

// SearchCount returns the number of search requests
func (s *Server) SearchCount() int {
	return int(atomic.LoadInt32(&s.searchCount))
}

// ImageCount returns the number of image requests
func (s *Server) ImageCount() int {
	return int(atomic.LoadInt32(&s.imageCount))
}

// RateLimitHits returns the number of 429 responses
func (s *Server) RateLimitHits() int {
	return int(atomic.LoadInt32(&s.rateLimitHits))
}

// ResetCounters resets all request counters
func (s *Server) ResetCounters() {
	atomic.StoreInt32(&s.requestCount, 0)
	atomic.StoreInt32(&s.searchCount, 0)
	atomic.StoreInt32(&s.imageCount, 0)
	atomic.StoreInt32(&s.rateLimitHits, 0)
}

// Close shuts down the server
func (s *Server) Close() {
	s.server.Close()
}
