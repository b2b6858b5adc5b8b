// Package queue serializes the remote requests of one account.
//
// Requests run one at a time in FIFO order, spaced by a rate limiter. Transient
// failures are retried with exponential backoff; authentication and policy
// failures abort the remaining requests.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/logging"
)

// Operation represents a remote request type.
type Operation string

const (
	OperationFetch       Operation = "fetch"
	OperationCreate      Operation = "create"
	OperationUpdate      Operation = "update"
	OperationDelete      Operation = "delete"
	OperationMembership  Operation = "membership"
	OperationPhotoUpload Operation = "photo_upload"
	OperationPhotoFetch  Operation = "photo_fetch"
	OperationGroup       Operation = "group"
)

// QueueStatus represents the status of a queued request.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusInProgress QueueStatus = "in_progress"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCompleted  QueueStatus = "completed"
)

// Func performs one remote request.
type Func func(ctx context.Context) error

// QueueItem represents a remote request in the queue.
type QueueItem struct {
	ID        string
	Operation Operation
	// Label identifies the affected record in logs.
	Label      string
	RetryCount int
	Status     QueueStatus
	LastError  error
	run        Func
}

// Config tunes pacing and retries.
type Config struct {
	// Delay is the minimum spacing between the starts of two requests.
	Delay time.Duration
	// Timeout bounds a single attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt of a
	// transient failure.
	MaxRetries int
	// BaseBackoff is the wait before the first retry; it doubles per retry.
	BaseBackoff time.Duration
	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration
	// MaxSize caps pending items. Zero means unbounded.
	MaxSize int
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Delay:       200 * time.Millisecond,
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	}
}

// ItemError is the final failure of one request.
type ItemError struct {
	Operation Operation
	Label     string
	Err       error
}

// Report is the outcome of a Drain.
type Report struct {
	Completed int
	Failed    int
	Retries   int
	// Skipped counts requests not attempted after an abort or cancellation.
	Skipped int
	Errors  []ItemError
}

// SyncQueue runs remote requests one at a time.
type SyncQueue struct {
	items   []*QueueItem
	mu      sync.Mutex
	drainMu sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewSyncQueue creates a new SyncQueue.
func NewSyncQueue(cfg Config) *SyncQueue {
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	return &SyncQueue{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepContext,
	}
}

// Enqueue appends a request to the queue.
func (q *SyncQueue) Enqueue(op Operation, label string, fn Func) (*QueueItem, error) {
	if fn == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "queue: nil request")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.MaxSize > 0 && len(q.items) >= q.cfg.MaxSize {
		return nil, apperrors.Newf(apperrors.ErrInternal, "queue is full (max size: %d)", q.cfg.MaxSize)
	}

	item := &QueueItem{
		ID:        uuid.New().String(),
		Operation: op,
		Label:     label,
		Status:    QueueStatusPending,
		run:       fn,
	}
	q.items = append(q.items, item)

	logging.Debug("Enqueued remote request", map[string]interface{}{
		"operation": string(op),
		"label":     label,
		"id":        item.ID,
	})

	return item, nil
}

// Do runs one request immediately, with the same pacing and retry rules as
// queued requests. It is used for reads whose result the caller needs.
func (q *SyncQueue) Do(ctx context.Context, op Operation, label string, fn Func) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	item := &QueueItem{ID: uuid.New().String(), Operation: op, Label: label, run: fn}
	_, err := q.execute(ctx, item)
	return err
}

// Drain runs every pending request in FIFO order.
//
// Per-record failures are collected in the Report and do not stop the drain.
// An authentication or policy failure, or cancellation of ctx, stops it: the
// remaining requests are skipped and the error is returned with the Report.
func (q *SyncQueue) Drain(ctx context.Context) (*Report, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	report := &Report{}
	for {
		item := q.dequeue()
		if item == nil {
			return report, nil
		}

		retries, err := q.execute(ctx, item)
		report.Retries += retries
		if err == nil {
			q.finish(item, QueueStatusCompleted, nil)
			report.Completed++
			continue
		}

		q.finish(item, QueueStatusFailed, err)
		report.Failed++
		report.Errors = append(report.Errors, ItemError{Operation: item.Operation, Label: item.Label, Err: err})

		if apperrors.Aborts(err) || ctx.Err() != nil {
			report.Skipped += q.Clear()
			return report, err
		}
	}
}

// execute runs one item until it succeeds, fails permanently, or exhausts
// its retries. It returns the number of retries used.
func (q *SyncQueue) execute(ctx context.Context, item *QueueItem) (int, error) {
	retries := 0
	for {
		if err := q.limiter.Wait(ctx); err != nil {
			return retries, apperrors.Wrap(apperrors.ErrTransient, "request canceled", err)
		}

		err := q.attempt(ctx, item.run)
		if err == nil {
			return retries, nil
		}
		item.LastError = err

		if !apperrors.IsTransient(err) || retries >= q.cfg.MaxRetries || ctx.Err() != nil {
			logging.Warn("Remote request failed", map[string]interface{}{
				"operation": string(item.Operation),
				"label":     item.Label,
				"retries":   retries,
				"error":     err.Error(),
			})
			return retries, err
		}

		retries++
		item.RetryCount = retries
		backoff := calculateBackoff(retries, q.cfg.BaseBackoff, q.cfg.MaxBackoff)

		logging.Info("Remote request failed, retrying", map[string]interface{}{
			"operation":  string(item.Operation),
			"label":      item.Label,
			"retry":      retries,
			"max":        q.cfg.MaxRetries,
			"backoff_ms": backoff.Milliseconds(),
			"error":      err.Error(),
		})

		if err := q.sleep(ctx, backoff); err != nil {
			return retries, apperrors.Wrap(apperrors.ErrTransient, "request canceled", err)
		}
	}
}

func (q *SyncQueue) attempt(ctx context.Context, fn Func) (err error) {
	if q.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Newf(apperrors.ErrInternal, "request panicked: %v", r)
		}
	}()

	err = fn(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded && apperrors.CodeOf(err) == "" {
		err = apperrors.Wrap(apperrors.ErrTransient, "request timed out", err)
	}
	return err
}

// calculateBackoff returns base*2^(retry-1), capped at max.
func calculateBackoff(retry int, base, max time.Duration) time.Duration {
	if retry < 1 {
		retry = 1
	}
	backoff := base
	for i := 1; i < retry; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		backoff = max
	}
	return backoff
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (q *SyncQueue) dequeue() *QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.Status == QueueStatusPending {
			item.Status = QueueStatusInProgress
			return item
		}
	}
	return nil
}

func (q *SyncQueue) finish(item *QueueItem, status QueueStatus, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item.Status = status
	item.LastError = err
	q.compact()
}

// compact drops finished items. Caller holds q.mu.
func (q *SyncQueue) compact() {
	kept := q.items[:0]
	for _, item := range q.items {
		if item.Status == QueueStatusPending || item.Status == QueueStatusInProgress {
			kept = append(kept, item)
		}
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
}

// Size returns the number of unfinished items in the queue.
func (q *SyncQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes every item from the queue and returns how many pending
// requests were dropped.
func (q *SyncQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, item := range q.items {
		if item.Status == QueueStatusPending {
			n++
		}
	}
	q.items = nil
	if n > 0 {
		logging.Warn("Skipped remaining remote requests", map[string]interface{}{"count": n})
	}
	return n
}

// GetStats returns queue statistics.
func (q *SyncQueue) GetStats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]int{
		"total":       0,
		"pending":     0,
		"in_progress": 0,
	}
	for _, item := range q.items {
		stats["total"]++
		switch item.Status {
		case QueueStatusPending:
			stats["pending"]++
		case QueueStatusInProgress:
			stats["in_progress"]++
		}
	}
	return stats
}
