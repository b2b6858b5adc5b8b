// Package scheduler runs background sync cycles on an interval.
//
// At most one run is active at a time. Requests arriving while a run is active
// are coalesced into a single pending run that starts after the current one
// finishes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/logging"
	syncpkg "github.com/kimhsiao/contactsync/internal/sync"
)

// Scheduler manages background sync runs.
type Scheduler struct {
	engine       syncpkg.SyncEngineInterface
	syncInterval time.Duration
	runTimeout   time.Duration
	triggerCh    chan struct{}
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.RWMutex
	isRunning    bool
	lastSyncTime time.Time
	lastErrors   int
	runs         int
	coalesced    int
	inProgress   bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to run (default: 30 minutes)
	RunTimeout   time.Duration // Upper bound of one run; zero means none
	// RunOnStart requests a run as soon as the scheduler starts.
	RunOnStart bool
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 30 * time.Minute,
		RunTimeout:   time.Hour,
		RunOnStart:   true,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngineInterface, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	s := &Scheduler{
		engine:       engine,
		syncInterval: config.SyncInterval,
		runTimeout:   config.RunTimeout,
		triggerCh:    make(chan struct{}, 1),
	}
	if config.RunOnStart {
		s.triggerCh <- struct{}{}
	}
	return s
}

// Start starts the background scheduler. A stopped scheduler may be
// started again.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	stop := make(chan struct{})
	s.stopCh = stop
	s.mu.Unlock()

	s.wg.Add(2)
	go s.tickLoop(ctx, stop)
	go s.runLoop(ctx, stop)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"interval": s.syncInterval.String(),
	})
}

// Stop stops the scheduler and waits for an active run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stop := s.stopCh
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// Request asks for a run. It returns false when a run was already pending,
// in which case the request is coalesced into it.
func (s *Scheduler) Request() bool {
	select {
	case s.triggerCh <- struct{}{}:
		return true
	default:
		s.mu.Lock()
		s.coalesced++
		s.mu.Unlock()
		logging.Debug("Sync already pending, request coalesced", nil)
		return false
	}
}

// tickLoop requests a run every interval.
func (s *Scheduler) tickLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.Request()
		}
	}
}

// runLoop executes requested runs one after another.
func (s *Scheduler) runLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-s.triggerCh:
			s.runSync(ctx, stop)
		}
	}
}

// runSync executes one scheduled run.
func (s *Scheduler) runSync(ctx context.Context, stop <-chan struct{}) {
	s.mu.Lock()
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	// Stop cancels the run between accounts.
	go func() {
		select {
		case <-stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	logging.Info("Starting scheduled sync", nil)

	result, err := s.engine.RunAll(runCtx, syncpkg.RunOptions{})
	if err != nil {
		if errors.Is(err, errors.ErrSyncInProgress) {
			logging.Debug("Sync already in progress, skipping", nil)
			return
		}
		logging.ErrorWithCode("Scheduled sync failed", string(errors.CodeOf(err)), err,
			map[string]interface{}{"interval_minutes": s.syncInterval.Minutes()})
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.lastErrors = result.Errors
	s.runs++
	s.mu.Unlock()

	logging.Info("Scheduled sync completed", map[string]interface{}{
		"accounts": len(result.Accounts),
		"errors":   result.Errors,
	})
}

func (s *Scheduler) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.runTimeout > 0 {
		return context.WithTimeout(ctx, s.runTimeout)
	}
	return context.WithCancel(ctx)
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning      bool
	SyncInProgress bool
	Pending        bool
	LastSyncTime   *time.Time
	LastErrors     int
	Runs           int
	Coalesced      int
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		SyncInProgress: s.inProgress,
		Pending:        len(s.triggerCh) > 0,
		LastErrors:     s.lastErrors,
		Runs:           s.runs,
		Coalesced:      s.coalesced,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
