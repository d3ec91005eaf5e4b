package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sk-pathak/wayback-discover-diff-go/internal/config"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/job"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/metrics"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/queue"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCache struct {
	data map[string]map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]map[string]string)}
}

func (f *fakeCache) PutMany(ctx context.Context, urlkey string, entries map[string]string, ttl time.Duration) error {
	if f.data[urlkey] == nil {
		f.data[urlkey] = make(map[string]string)
	}
	for k, v := range entries {
		f.data[urlkey][k] = v
	}
	return nil
}

func (f *fakeCache) PutYearSentinel(ctx context.Context, urlkey, year string, ttl time.Duration) error {
	return f.PutMany(ctx, urlkey, map[string]string{year: store.YearSentinel}, ttl)
}

func (f *fakeCache) Get(ctx context.Context, urlkey, field string) (string, bool, error) {
	v, ok := f.data[urlkey][field]
	return v, ok, nil
}

func (f *fakeCache) Keys(ctx context.Context, urlkey string) ([]string, error) {
	keys := make([]string, 0, len(f.data[urlkey]))
	for k := range f.data[urlkey] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeCache) MultiGet(ctx context.Context, urlkey string, fields []string) ([]store.Entry, error) {
	entries := make([]store.Entry, len(fields))
	for i, field := range fields {
		v, ok := f.data[urlkey][field]
		entries[i] = store.Entry{Field: field, Value: v, Found: ok}
	}
	return entries, nil
}

func (f *fakeCache) ScanYear(ctx context.Context, urlkey, year string) ([]string, error) {
	var matched []string
	for k := range f.data[urlkey] {
		if len(k) >= 4 && k[:4] == year {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

type fakeSubmitter struct {
	statuses map[string]job.Result
	submitID string
	active   bool
	err      error
}

func (f *fakeSubmitter) Submit(ctx context.Context, url, year string) (string, bool, error) {
	return f.submitID, f.active, f.err
}

func (f *fakeSubmitter) Status(id string) (job.Result, error) {
	res, ok := f.statuses[id]
	if !ok {
		return job.Result{}, queue.ErrNotFound
	}
	return res, nil
}

func newTestHandler(cache store.Cache, sub Submitter) *Handler {
	noop, _ := metrics.New(config.Statsd{})
	return NewHandler(cache, sub, noop, 100)
}

func performRequest(h *Handler, method, target string, register func(*gin.Engine)) *httptest.ResponseRecorder {
	router := gin.New()
	register(router)
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRootReportsVersion(t *testing.T) {
	h := newTestHandler(newFakeCache(), &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/", func(r *gin.Engine) { r.GET("/", h.Root) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), Version)
}

func TestGetSimhashRequiresURL(t *testing.T) {
	h := newTestHandler(newFakeCache(), &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/simhash", func(r *gin.Engine) { r.GET("/simhash", h.GetSimhash) })
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSimhashRejectsInvalidURL(t *testing.T) {
	h := newTestHandler(newFakeCache(), &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/simhash?url=not+a+host&year=2020", func(r *gin.Engine) {
		r.GET("/simhash", h.GetSimhash)
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSimhashReportsNotCapturedWhenEmpty(t *testing.T) {
	h := newTestHandler(newFakeCache(), &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/simhash?url=example.com&year=2020", func(r *gin.Engine) {
		r.GET("/simhash", h.GetSimhash)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NOT_CAPTURED", body["message"])
}

func TestGetSimhashReportsNoCapturesWhenSentinelSet(t *testing.T) {
	cache := newFakeCache()
	cache.data["com,example)"] = map[string]string{"2020": store.YearSentinel}
	h := newTestHandler(cache, &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/simhash?url=example.com&year=2020", func(r *gin.Engine) {
		r.GET("/simhash", h.GetSimhash)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NO_CAPTURES", body["message"])
}

func TestGetSimhashReturnsCapturesForYear(t *testing.T) {
	cache := newFakeCache()
	cache.data["com,example)"] = map[string]string{
		"20200101000000": "aGVsbG8=",
		"20200601000000": "d29ybGQ=",
	}
	h := newTestHandler(cache, &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/simhash?url=example.com&year=2020", func(r *gin.Engine) {
		r.GET("/simhash", h.GetSimhash)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["total_captures"])
	assert.Equal(t, "COMPLETE", body["status"])
}

func TestGetSimhashCompressFormat(t *testing.T) {
	cache := newFakeCache()
	cache.data["com,example)"] = map[string]string{
		"20200101000000": "aGVsbG8=",
	}
	h := newTestHandler(cache, &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/simhash?url=example.com&year=2020&compress=true", func(r *gin.Engine) {
		r.GET("/simhash", h.GetSimhash)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "hashes")
	assert.Contains(t, body, "captures")
}

func TestGetSimhashPaginatedPrependsPageCount(t *testing.T) {
	cache := newFakeCache()
	entries := make(map[string]string, 250)
	for i := 0; i < 250; i++ {
		entries[fmt.Sprintf("2016%010d", i)] = fmt.Sprintf("hash-%d", i)
	}
	cache.data["com,example)"] = entries
	h := newTestHandler(cache, &fakeSubmitter{statuses: map[string]job.Result{}})
	h.SnapshotsPerPage = 100

	w := performRequest(h, http.MethodGet, "/simhash?url=example.com&year=2016&page=2", func(r *gin.Engine) {
		r.GET("/simhash", h.GetSimhash)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(250), body["total_captures"])

	captures := body["captures"].([]interface{})
	require.Len(t, captures, 101)
	pagesMarker := captures[0].([]interface{})
	assert.Equal(t, "pages", pagesMarker[0])
	assert.Equal(t, float64(3), pagesMarker[1])
}

func TestGetSimhashUnpaginatedOmitsPageCount(t *testing.T) {
	cache := newFakeCache()
	cache.data["com,example)"] = map[string]string{"20200101000000": "aGVsbG8="}
	h := newTestHandler(cache, &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/simhash?url=example.com&year=2020", func(r *gin.Engine) {
		r.GET("/simhash", h.GetSimhash)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	captures := body["captures"].([]interface{})
	require.Len(t, captures, 1)
	entry := captures[0].(map[string]interface{})
	assert.Equal(t, "20200101000000", entry["Timestamp"])
}

func TestCalculateSimhashStarted(t *testing.T) {
	sub := &fakeSubmitter{submitID: "com,example):2020", active: false, statuses: map[string]job.Result{}}
	h := newTestHandler(newFakeCache(), sub)
	w := performRequest(h, http.MethodGet, "/calculate-simhash?url=example.com&year=2020", func(r *gin.Engine) {
		r.GET("/calculate-simhash", h.CalculateSimhash)
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "STARTED", body["status"])
}

func TestCalculateSimhashAlreadyActive(t *testing.T) {
	sub := &fakeSubmitter{submitID: "com,example):2020", active: true, statuses: map[string]job.Result{}}
	h := newTestHandler(newFakeCache(), sub)
	w := performRequest(h, http.MethodGet, "/calculate-simhash?url=example.com&year=2020", func(r *gin.Engine) {
		r.GET("/calculate-simhash", h.CalculateSimhash)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "PENDING", body["status"])
}

func TestGetJobStatusUnknownID(t *testing.T) {
	h := newTestHandler(newFakeCache(), &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/job?job_id=nope", func(r *gin.Engine) {
		r.GET("/job", h.GetJobStatus)
	})
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestGetSimhashByTimestampHit(t *testing.T) {
	cache := newFakeCache()
	cache.data["com,example)"] = map[string]string{"20141021062411": "abc123"}
	h := newTestHandler(cache, &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/simhash?url=example.com&timestamp=20141021062411", func(r *gin.Engine) {
		r.GET("/simhash", h.GetSimhash)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "COMPLETE", body["status"])
	captures := body["captures"].(map[string]interface{})
	assert.Equal(t, "abc123", captures["simhash"])
}

func TestGetSimhashByTimestampNotCapturedAtAll(t *testing.T) {
	h := newTestHandler(newFakeCache(), &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/simhash?url=example.com&timestamp=20141021062411", func(r *gin.Engine) {
		r.GET("/simhash", h.GetSimhash)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NOT_CAPTURED", body["message"])
}

func TestGetSimhashByTimestampYearSentinel(t *testing.T) {
	cache := newFakeCache()
	cache.data["com,example)"] = map[string]string{"2014": store.YearSentinel}
	h := newTestHandler(cache, &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/simhash?url=example.com&timestamp=20141021062411", func(r *gin.Engine) {
		r.GET("/simhash", h.GetSimhash)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NO_CAPTURES", body["message"])
}

func TestGetSimhashByTimestampOtherCapturesSameYear(t *testing.T) {
	cache := newFakeCache()
	cache.data["com,example)"] = map[string]string{"20141001000000": "xyz"}
	h := newTestHandler(cache, &fakeSubmitter{statuses: map[string]job.Result{}})
	w := performRequest(h, http.MethodGet, "/simhash?url=example.com&timestamp=20141021062411", func(r *gin.Engine) {
		r.GET("/simhash", h.GetSimhash)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "CAPTURE_NOT_FOUND", body["message"])
}

func TestGetJobStatusSuccess(t *testing.T) {
	sub := &fakeSubmitter{statuses: map[string]job.Result{
		"jid": {State: job.Success, Duration: 2 * time.Second},
	}}
	h := newTestHandler(newFakeCache(), sub)
	w := performRequest(h, http.MethodGet, "/job?job_id=jid", func(r *gin.Engine) {
		r.GET("/job", h.GetJobStatus)
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "SUCCESS", body["status"])
	assert.Equal(t, float64(2), body["duration"])
}
