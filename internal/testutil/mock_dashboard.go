// Package testutil provides testing utilities for the dashboard sync client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Record is a generic collection item served by the mock.
type Record map[string]any

// ID returns the record's "id" field as a string.
func (r Record) ID() string {
	return fmt.Sprint(r["id"])
}

type collection struct {
	records []Record

	// failIDs maps item ids to the status their mutations fail with.
	failIDs map[string]int
}

// MockDashboard is a configurable mock dashboard API for testing. It serves
// in-memory collections with envelopes, pagination and single-item
// mutations, and accepts per-path overrides and failure injection.
type MockDashboard struct {
	server      *httptest.Server
	mu          sync.RWMutex
	handlers    map[string]http.HandlerFunc
	collections map[string]*collection
	failures    map[string][]MockResponse

	// Tracking
	requestCount      int
	conditionalCount  int
	pathCounts        map[string]int
	lastRequestHeader http.Header
	lastQuery         map[string]string
}

// NewMockDashboard creates and starts a mock dashboard server.
func NewMockDashboard() *MockDashboard {
	mock := &MockDashboard{
		handlers:    make(map[string]http.HandlerFunc),
		collections: make(map[string]*collection),
		failures:    make(map[string][]MockResponse),
		pathCounts:  make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.Method+" "+r.URL.Path]++
		mock.lastRequestHeader = r.Header.Clone()
		if r.URL.Path != "" && r.Method == http.MethodGet {
			q := make(map[string]string)
			for k := range r.URL.Query() {
				q[k] = r.URL.Query().Get(k)
			}
			mock.lastQuery = q
		}
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.conditionalCount++
		}

		var injected *MockResponse
		if queue := mock.failures[r.URL.Path]; len(queue) > 0 {
			injected = &queue[0]
			mock.failures[r.URL.Path] = queue[1:]
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if injected != nil {
			writeResponse(w, *injected)
			return
		}
		if exists {
			handler(w, r)
			return
		}
		mock.collectionHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockDashboard) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockDashboard) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockDashboard) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.pathCounts = make(map[string]int)
	m.lastRequestHeader = nil
	m.lastQuery = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockDashboard) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockDashboard) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// FailNext makes the next len(resps) requests to path return resps in order
// before normal handling resumes.
func (m *MockDashboard) FailNext(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = append(m.failures[path], resps...)
}

// SetCollection serves records under path. GET path returns a paginated
// envelope; PUT and DELETE path/{id} mutate the records; POST path appends.
func (m *MockDashboard) SetCollection(path string, records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Record, len(records))
	copy(cp, records)
	m.collections[path] = &collection{records: cp, failIDs: make(map[string]int)}
}

// FailItem makes every mutation of item id in the collection at path fail
// with status.
func (m *MockDashboard) FailItem(path, id string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[path]; ok {
		c.failIDs[id] = status
	}
}

// Records returns a copy of the current records of a collection.
func (m *MockDashboard) Records(path string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[path]
	if !ok {
		return nil
	}
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// RequestCount returns the number of requests made to the server.
func (m *MockDashboard) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns how often "METHOD /path" was requested.
func (m *MockDashboard) PathCount(method, path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[method+" "+path]
}

// ConditionalCount returns the number of conditional requests.
func (m *MockDashboard) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockDashboard) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// LastQuery returns the query of the most recent GET.
func (m *MockDashboard) LastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

func (m *MockDashboard) collectionHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.collections[path]; ok {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, pageEnvelope(c.records, r))
		case http.MethodPost:
			var rec Record
			if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
				writeJSON(w, http.StatusBadRequest, Envelope(false, nil, "invalid body"))
				return
			}
			if _, ok := rec["id"]; !ok {
				rec["id"] = strconv.Itoa(len(c.records) + 1)
			}
			c.records = append(c.records, rec)
			writeJSON(w, http.StatusCreated, Envelope(true, rec, ""))
		default:
			writeJSON(w, http.StatusMethodNotAllowed, Envelope(false, nil, "method not allowed"))
		}
		return
	}

	idx := strings.LastIndex(path, "/")
	if idx > 0 {
		if c, ok := m.collections[path[:idx]]; ok {
			m.itemHandler(w, r, c, path[idx+1:])
			return
		}
	}

	writeJSON(w, http.StatusNotFound, Envelope(false, nil, "not found"))
}

func (m *MockDashboard) itemHandler(w http.ResponseWriter, r *http.Request, c *collection, id string) {
	if status, ok := c.failIDs[id]; ok {
		writeJSON(w, status, Envelope(false, nil, fmt.Sprintf("item %s: %s", id, http.StatusText(status))))
		return
	}

	pos := -1
	for i, rec := range c.records {
		if rec.ID() == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		writeJSON(w, http.StatusNotFound, Envelope(false, nil, fmt.Sprintf("item %s not found", id)))
		return
	}

	switch r.Method {
	case http.MethodDelete:
		c.records = append(c.records[:pos], c.records[pos+1:]...)
		writeJSON(w, http.StatusOK, Envelope(true, nil, ""))
	case http.MethodPut:
		var patch Record
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, Envelope(false, nil, "invalid body"))
			return
		}
		merged := Record{}
		for k, v := range c.records[pos] {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		merged["id"] = c.records[pos]["id"]
		c.records[pos] = merged
		writeJSON(w, http.StatusOK, Envelope(true, merged, ""))
	case http.MethodGet:
		writeJSON(w, http.StatusOK, Envelope(true, c.records[pos], ""))
	default:
		writeJSON(w, http.StatusMethodNotAllowed, Envelope(false, nil, "method not allowed"))
	}
}

// pageEnvelope filters by search (name) and equality facets, sorts and pages.
func pageEnvelope(records []Record, r *http.Request) map[string]any {
	q := r.URL.Query()
	search := strings.ToLower(q.Get("search"))

	reserved := map[string]bool{"search": true, "sortField": true, "sortDirection": true, "page": true, "pageSize": true}
	filtered := make([]Record, 0, len(records))
	for _, rec := range records {
		if search != "" && !strings.Contains(strings.ToLower(fmt.Sprint(rec["name"])), search) {
			continue
		}
		keep := true
		for k := range q {
			if reserved[k] {
				continue
			}
			if fmt.Sprint(rec[k]) != q.Get(k) {
				keep = false
				break
			}
		}
		if keep {
			filtered = append(filtered, rec)
		}
	}

	if field := q.Get("sortField"); field != "" {
		desc := q.Get("sortDirection") == "desc"
		sort.SliceStable(filtered, func(i, j int) bool {
			a, b := fmt.Sprint(filtered[i][field]), fmt.Sprint(filtered[j][field])
			if desc {
				return a > b
			}
			return a < b
		})
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(q.Get("pageSize"))
	if size <= 0 {
		size = len(filtered)
		if size == 0 {
			size = 1
		}
	}

	start := (page - 1) * size
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + size
	if end > len(filtered) {
		end = len(filtered)
	}

	env := Envelope(true, filtered[start:end], "")
	env["pagination"] = map[string]int{
		"page":       page,
		"pageSize":   size,
		"total":      len(filtered),
		"totalPages": (len(filtered) + size - 1) / size,
	}
	return env
}

// Envelope builds a {success, data, message} body.
func Envelope(success bool, data any, message string) map[string]any {
	env := map[string]any{"success": success}
	if data != nil {
		env["data"] = data
	}
	if message != "" {
		env["message"] = message
	}
	return env
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-RateLimit-Remaining", "100")
	w.Header().Set("X-RateLimit-Reset", "60")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// NewHealthyResponse creates a 200 OK envelope response carrying data.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"success":true,"data":` + data + `}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "100",
			"X-RateLimit-Reset":     "60",
			"ETag":                  `"test-etag-123"`,
			"Cache-Control":         "max-age=300",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewRejectedResponse creates a 200 OK response with success:false.
func NewRejectedResponse(message string) MockResponse {
	body, _ := json.Marshal(Envelope(false, nil, message))
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"success":false,"message":"rate limit exceeded"}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     "30",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"success":false,"message":"internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewMalformedResponse creates a 200 OK response whose body is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       "<html>gateway hiccup</html>",
		Headers:    map[string]string{"Content-Type": "text/html"},
	}
}

// NewConditionalHandler creates a handler that answers 304 when the request
// carries etag in If-None-Match, and a full envelope otherwise.
func NewConditionalHandler(etag string, data string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "max-age=0")

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"data":` + data + `}`))
	}
}
