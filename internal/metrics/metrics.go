// Package metrics wraps github.com/cactus/go-statsd-client for the
// counters and timings this service emits. The teacher lists
// go-statsd-client in go.mod but never imports it; every counter and
// timer named in the service's operations runbook is wired here.
package metrics

import (
	"net"
	"strconv"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"

	"github.com/sk-pathak/wayback-discover-diff-go/internal/config"
)

// Counter names emitted by the job runner, queue adapter and API.
const (
	DownloadCapture           = "download-capture"
	DownloadError             = "download-error"
	CalculateSimhash          = "calculate-simhash"
	MultipleConsecutiveErrors = "multiple-consecutive-errors"
	GetSimhashYearRequest     = "get-simhash-year-request"
	CalculateSimhashYearReq   = "calculate-simhash-year-request"
	StatusRequest             = "status-request"
)

// Timing names.
const (
	TaskWait     = "task-wait"
	TaskDuration = "task-duration"
)

// Client is the subset of statsd.Statter this package depends on,
// satisfied both by a live statsd.Client and by statsd.NoopClient in
// tests.
type Client interface {
	Inc(stat string, value int64, rate float32, tags ...statsd.Tag) error
	TimingDuration(stat string, delta time.Duration, rate float32, tags ...statsd.Tag) error
	Close() error
}

// New builds a statsd client from cfg. When cfg.Host is empty it
// returns a no-op client so the service runs without a metrics sink
// configured.
func New(cfg config.Statsd) (Client, error) {
	if cfg.Host == "" {
		return statsd.NewNoopClient()
	}
	addr := cfg.Host
	if cfg.Port != 0 {
		addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	return statsd.NewClientWithConfig(&statsd.ClientConfig{
		Address: addr,
		Prefix:  "wayback.discover-diff",
	})
}

// Incr increments a counter by one, swallowing transport errors: a
// metrics-sink outage must never fail the request it is measuring.
func Incr(c Client, stat string) {
	_ = c.Inc(stat, 1, 1.0)
}

// Timing records a duration metric.
func Timing(c Client, stat string, d time.Duration) {
	_ = c.TimingDuration(stat, d, 1.0)
}
