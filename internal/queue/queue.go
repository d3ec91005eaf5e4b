// Package queue adapts the job runner to an asynq-backed task queue,
// replacing the distributed broker role the original Python system
// gave to Celery. Status is read back from asynq's own task registry
// via Inspector rather than a side table, so job state stays correct
// across a worker-fleet restart the way the teacher's in-process
// jobsMap never could.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/sk-pathak/wayback-discover-diff-go/internal/job"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/urlkey"
)

// TypeCalculateSimhash is the asynq task type name for a year-level
// SimHash computation.
const TypeCalculateSimhash = "simhash:calculate"

// ErrNotFound is returned by Status when no job is known under the
// given ID.
var ErrNotFound = errors.New("queue: job not found")

// Payload is the JSON body of a calculate-simhash task.
type Payload struct {
	URL         string    `json:"url"`
	Year        string    `json:"year"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Queue submits jobs to asynq and inspects their status. ID is the
// canonical (urlkey, year) pair, so resubmitting the same URL/year
// while a job is already queued or running is detected as a conflict
// rather than double-enqueued — the same dedup the teacher's
// getActiveTask linear scan performed, now enforced by the broker
// itself.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queueName string
}

// New builds a Queue backed by redisOpt. queueName is passed to every
// enqueue and must match the name the Server is configured to drain.
func New(redisOpt asynq.RedisConnOpt, queueName string) *Queue {
	if queueName == "" {
		queueName = "default"
	}
	return &Queue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queueName: queueName,
	}
}

// Close releases the underlying asynq client and inspector.
func (q *Queue) Close() error {
	cErr := q.client.Close()
	iErr := q.inspector.Close()
	if cErr != nil {
		return cErr
	}
	return iErr
}

// ID computes the stable task ID for a (url, year) pair.
func ID(url, year string) string {
	return fmt.Sprintf("%s:%s", urlkey.Canonicalize(url), year)
}

// Submit enqueues a calculate-simhash task. alreadyActive is true
// when a task with the same ID already exists in the broker; in that
// case err is nil and id names the existing task.
func (q *Queue) Submit(ctx context.Context, url, year string) (id string, alreadyActive bool, err error) {
	id = ID(url, year)

	payload, err := json.Marshal(Payload{URL: url, Year: year, SubmittedAt: time.Now()})
	if err != nil {
		return "", false, fmt.Errorf("queue: marshal payload: %w", err)
	}
	task := asynq.NewTask(TypeCalculateSimhash, payload)

	_, err = q.client.EnqueueContext(ctx, task,
		asynq.TaskID(id),
		asynq.Queue(q.queueName),
		asynq.MaxRetry(0),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return id, true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, false, nil
}

// Status returns the last known state of a submitted job, read from
// the broker's own task record. A PENDING job's Info field holds the
// most recent progress string the handler wrote; a terminal job's
// Result field holds the runner's final Result.
func (q *Queue) Status(id string) (job.Result, error) {
	info, err := q.inspector.GetTaskInfo(q.queueName, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return job.Result{}, ErrNotFound
	}
	if err != nil {
		return job.Result{}, fmt.Errorf("queue: get task info: %w", err)
	}

	if len(info.Result) > 0 {
		var res job.Result
		if err := json.Unmarshal(info.Result, &res); err == nil {
			return res, nil
		}
	}

	switch info.State {
	case asynq.TaskStateArchived:
		return job.Result{State: job.Error, Info: info.LastErr}, nil
	default:
		return job.Result{State: job.Pending}, nil
	}
}

// Active lists the IDs of every task currently pending or running in
// the broker for this queue.
func (q *Queue) Active() ([]string, error) {
	var ids []string

	active, err := q.inspector.ListActiveTasks(q.queueName)
	if err != nil {
		return nil, fmt.Errorf("queue: list active tasks: %w", err)
	}
	for _, t := range active {
		ids = append(ids, t.ID)
	}

	pending, err := q.inspector.ListPendingTasks(q.queueName)
	if err != nil {
		return nil, fmt.Errorf("queue: list pending tasks: %w", err)
	}
	for _, t := range pending {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// Handler drives the job runner from asynq-delivered tasks.
type Handler struct {
	Runner *job.Runner
	Logger zerolog.Logger
}

// ProcessTask implements asynq.Handler. Progress updates and the
// final result are both written through the task's ResultWriter, so
// Status can read either a mid-run progress snapshot or the terminal
// Result with the same decode path.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("queue: unmarshal payload: %w", err)
	}

	rw := t.ResultWriter()
	h.Logger.Info().Str("id", rw.TaskID()).Str("url", p.URL).Str("year", p.Year).Msg("starting simhash calculation")

	result := h.Runner.Run(ctx, p.URL, p.Year, p.SubmittedAt, func(info string) {
		data, err := json.Marshal(job.Result{State: job.Pending, Info: info})
		if err != nil {
			return
		}
		if _, err := rw.Write(data); err != nil {
			h.Logger.Debug().Err(err).Msg("failed to write progress")
		}
	})

	data, err := json.Marshal(result)
	if err == nil {
		if _, err := rw.Write(data); err != nil {
			h.Logger.Error().Err(err).Msg("failed to write final task result")
		}
	}

	if result.State == job.Error {
		h.Logger.Warn().Str("id", rw.TaskID()).Str("info", result.Info).Msg("simhash calculation failed")
		// SkipRetry: a year with no captures or a bad URL will not
		// succeed on retry, and the soft circuit breaker inside Run
		// already bounds per-attempt cost.
		return fmt.Errorf("%s: %w", result.Info, asynq.SkipRetry)
	}

	h.Logger.Info().Str("id", rw.TaskID()).Dur("duration", result.Duration).Msg("simhash calculation finished")
	return nil
}

// NewServer builds the asynq server that drains queueName with the
// given concurrency.
func NewServer(redisOpt asynq.RedisConnOpt, queueName string, concurrency int) *asynq.Server {
	if queueName == "" {
		queueName = "default"
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
	})
}

// Mux wires TypeCalculateSimhash to h.
func Mux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeCalculateSimhash, h)
	return mux
}
