// Package api implements the HTTP surface: /, /simhash,
// /calculate-simhash and /job, ported from the teacher's gin handlers
// onto the store/urlkey/compress/queue packages.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sk-pathak/wayback-discover-diff-go/internal/compress"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/job"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/metrics"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/queue"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/store"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/urlkey"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Submitter is the subset of *queue.Queue the API depends on.
type Submitter interface {
	Submit(ctx context.Context, url, year string) (id string, alreadyActive bool, err error)
	Status(id string) (job.Result, error)
}

// Handler groups the service's HTTP endpoints.
type Handler struct {
	Cache            store.Cache
	Queue            Submitter
	Metrics          metrics.Client
	SnapshotsPerPage int
}

// NewHandler builds a Handler. snapshotsPerPage must be > 0.
func NewHandler(cache store.Cache, q Submitter, m metrics.Client, snapshotsPerPage int) *Handler {
	return &Handler{Cache: cache, Queue: q, Metrics: m, SnapshotsPerPage: snapshotsPerPage}
}

// Root reports the running version, matching the teacher's plain-text
// landing page.
func (h *Handler) Root(c *gin.Context) {
	c.String(http.StatusOK, fmt.Sprintf("wayback-discover-diff service version: %s", Version))
}

// GetSimhash serves /simhash?url=&year=&page=&compress= or
// /simhash?url=&timestamp=.
func (h *Handler) GetSimhash(c *gin.Context) {
	metrics.Incr(h.Metrics, metrics.GetSimhashYearRequest)

	url := c.Query("url")
	if url == "" {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"status": "error", "info": "url param is required."})
		return
	}
	if !urlkey.IsValid(url) {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"status": "error", "info": "invalid url format."})
		return
	}

	if timestamp := c.Query("timestamp"); timestamp != "" {
		h.getByTimestamp(c, url, timestamp)
		return
	}

	year := c.Query("year")
	if year == "" {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"status": "error", "info": "year param is required."})
		return
	}
	if _, err := strconv.Atoi(year); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"status": "error", "info": "year param must be numeric."})
		return
	}

	page := -1
	if pageStr := c.Query("page"); pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"status": "error", "info": "page param should be > 0."})
			return
		}
		page = p
	}

	key := urlkey.Canonicalize(url)
	fields, err := h.Cache.Keys(c.Request.Context(), key)
	if err != nil {
		c.IndentedJSON(http.StatusAccepted, gin.H{"status": "error", "message": err.Error()})
		return
	}

	timestamps, sentinel := filterYear(fields, year)
	if sentinel {
		c.IndentedJSON(http.StatusOK, gin.H{"status": "error", "message": "NO_CAPTURES"})
		return
	}
	if len(timestamps) == 0 {
		c.IndentedJSON(http.StatusOK, gin.H{"status": "error", "message": "NOT_CAPTURED"})
		return
	}

	pageTimestamps := paginate(timestamps, page, h.SnapshotsPerPage)
	entries, err := h.Cache.MultiGet(c.Request.Context(), key, pageTimestamps)
	if err != nil {
		c.IndentedJSON(http.StatusAccepted, gin.H{"status": "error", "message": err.Error()})
		return
	}
	captures := compress.FromEntries(entries)

	status := h.activeStatus(url, year)

	if compressFlag := c.Query("compress"); compressFlag == "true" || compressFlag == "1" {
		nested, hashes := compress.Compress(captures)
		c.IndentedJSON(http.StatusOK, gin.H{
			"captures":       withPages(nested, page, len(timestamps), h.SnapshotsPerPage),
			"hashes":         hashes,
			"total_captures": len(timestamps),
			"status":         status,
		})
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"captures":       withPages(capturesToInterfaceSlice(captures), page, len(timestamps), h.SnapshotsPerPage),
		"total_captures": len(timestamps),
		"status":         status,
	})
}

// getByTimestamp distinguishes three negative outcomes the year-only
// path cannot tell apart: no year data at all for the URL
// (NOT_CAPTURED), a recorded negative-cache sentinel for the year
// (NO_CAPTURES), and a year with real captures but not this exact
// timestamp (CAPTURE_NOT_FOUND).
func (h *Handler) getByTimestamp(c *gin.Context, url, timestamp string) {
	if len(timestamp) < 14 {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"status": "error", "info": "invalid timestamp format."})
		return
	}
	key := urlkey.Canonicalize(url)
	year := timestamp[:4]

	val, found, err := h.Cache.Get(c.Request.Context(), key, timestamp)
	if err != nil {
		c.IndentedJSON(http.StatusAccepted, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if found {
		status := h.activeStatus(url, year)
		c.IndentedJSON(http.StatusOK, gin.H{"captures": gin.H{"simhash": val}, "status": status})
		return
	}

	sentinelVal, sentinelFound, err := h.Cache.Get(c.Request.Context(), key, year)
	if err != nil {
		c.IndentedJSON(http.StatusAccepted, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if sentinelFound && sentinelVal == store.YearSentinel {
		c.IndentedJSON(http.StatusOK, gin.H{"status": "error", "message": "NO_CAPTURES"})
		return
	}

	yearEntries, err := h.Cache.ScanYear(c.Request.Context(), key, year)
	if err != nil {
		c.IndentedJSON(http.StatusAccepted, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if len(yearEntries) == 0 {
		c.IndentedJSON(http.StatusOK, gin.H{"status": "error", "message": "NOT_CAPTURED"})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"status": "error", "message": "CAPTURE_NOT_FOUND"})
}

// CalculateSimhash serves /calculate-simhash?url=&year=.
func (h *Handler) CalculateSimhash(c *gin.Context) {
	metrics.Incr(h.Metrics, metrics.CalculateSimhashYearReq)

	url := c.Query("url")
	if url == "" {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"status": "error", "info": "url param is required."})
		return
	}
	if !urlkey.IsValid(url) {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"status": "error", "info": "invalid url format."})
		return
	}
	year := c.Query("year")
	if year == "" {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"status": "error", "info": "year param is required."})
		return
	}
	if _, err := strconv.Atoi(year); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"status": "error", "info": "year param must be numeric."})
		return
	}

	id, alreadyActive, err := h.Queue.Submit(c.Request.Context(), url, year)
	if err != nil {
		c.IndentedJSON(http.StatusAccepted, gin.H{"status": "error", "info": "Cannot start calculation."})
		return
	}
	if alreadyActive {
		c.IndentedJSON(http.StatusOK, gin.H{"status": "PENDING", "job_id": id})
		return
	}
	c.IndentedJSON(http.StatusAccepted, gin.H{"status": "STARTED", "job_id": id})
}

// GetJobStatus serves /job?job_id=.
func (h *Handler) GetJobStatus(c *gin.Context) {
	metrics.Incr(h.Metrics, metrics.StatusRequest)

	jobID := c.Query("job_id")
	if jobID == "" {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"status": "error", "info": "job_id param is required."})
		return
	}

	res, err := h.Queue.Status(jobID)
	if err != nil {
		c.IndentedJSON(http.StatusAccepted, gin.H{"status": "error", "info": "Cannot get status."})
		return
	}

	switch res.State {
	case job.Pending, job.Error:
		c.IndentedJSON(http.StatusOK, gin.H{"status": res.State, "job_id": jobID, "info": res.Info})
	default:
		c.IndentedJSON(http.StatusOK, gin.H{"status": res.State, "job_id": jobID, "duration": res.Duration.Seconds()})
	}
}

// activeStatus reports PENDING when a calculate-simhash job for (url,
// scope) is still running in the queue, COMPLETE otherwise. scope is
// either a 4-digit year or a timestamp's year prefix.
func (h *Handler) activeStatus(url, scope string) string {
	res, err := h.Queue.Status(queue.ID(url, scope))
	if err == nil && res.State == job.Pending {
		return "PENDING"
	}
	return "COMPLETE"
}

// filterYear splits the full set of fields stored under a urlkey into
// those belonging to the requested year, reporting whether the
// negative-cache sentinel (a bare year key holding "-1") is present.
func filterYear(fields []string, year string) (timestamps []string, sentinel bool) {
	for _, f := range fields {
		if f == year {
			sentinel = true
			continue
		}
		if strings.HasPrefix(f, year) && len(f) == 14 {
			timestamps = append(timestamps, f)
		}
	}
	sort.Strings(timestamps)
	return timestamps, sentinel
}

// paginate slices timestamps into the requested page of
// snapshotsPerPage entries; page == -1 means "return everything".
func paginate(timestamps []string, page, snapshotsPerPage int) []string {
	if page == -1 || snapshotsPerPage <= 0 {
		return timestamps
	}
	totalPages := (len(timestamps) + snapshotsPerPage - 1) / snapshotsPerPage
	if totalPages == 0 {
		return nil
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * snapshotsPerPage
	end := start + snapshotsPerPage
	if end > len(timestamps) {
		end = len(timestamps)
	}
	return timestamps[start:end]
}

// numberOfPages computes how many pages of snapshotsPerPage entries
// total items spans; snapshotsPerPage <= 0 means unpaginated.
func numberOfPages(total, snapshotsPerPage int) int {
	if snapshotsPerPage <= 0 {
		return 1
	}
	return (total + snapshotsPerPage - 1) / snapshotsPerPage
}

// withPages prepends ["pages", number_of_pages] to entries when page
// was explicitly requested (page != -1), per spec §6.
func withPages(entries []interface{}, page, total, snapshotsPerPage int) []interface{} {
	if page == -1 {
		return entries
	}
	out := make([]interface{}, 0, len(entries)+1)
	out = append(out, []interface{}{"pages", numberOfPages(total, snapshotsPerPage)})
	out = append(out, entries...)
	return out
}

// capturesToInterfaceSlice widens a []compress.Capture into
// []interface{} so withPages can prepend the pages marker to it.
func capturesToInterfaceSlice(captures []compress.Capture) []interface{} {
	out := make([]interface{}, len(captures))
	for i, c := range captures {
		out[i] = c
	}
	return out
}
