package sync

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/logging"
	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/sync/queue"
	"github.com/kimhsiao/contactsync/internal/sync/reconcile"
)

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// Sync log outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
	OutcomeDeclined = "declined"
	OutcomeSkipped  = "skipped"
)

// Config tunes the orchestrator.
type Config struct {
	// DeleteThreshold is the delete count requiring confirmation; zero
	// disables the gate.
	DeleteThreshold int
	// AccountDelay is the pause between two accounts of one run.
	AccountDelay time.Duration
	// Queue configures pacing and retries of remote requests.
	Queue queue.Config
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		DeleteThreshold: 5,
		AccountDelay:    2 * time.Second,
		Queue:           queue.DefaultConfig(),
	}
}

// RunOptions selects the accounts of a run.
type RunOptions struct {
	// Manual marks a user-triggered run: disabled accounts named in
	// AccountIDs are reported and the end-of-run alert is shown.
	Manual bool
	// AccountIDs restricts the run; empty means every account.
	AccountIDs []models.UUID
}

// AccountResult is the outcome of one account's cycle.
type AccountResult struct {
	AccountID models.UUID       `json:"account_id"`
	Name      string            `json:"name"`
	Outcome   string            `json:"outcome"`
	Step      Step              `json:"step"`
	Summary   reconcile.Summary `json:"summary"`
	Groups    GroupCounts       `json:"groups"`
	Errors    int               `json:"errors"`
	// Err is the error that ended the cycle early, if any.
	Err       error  `json:"-"`
	Message   string `json:"message,omitempty"`
	BackupKey string `json:"backup_key,omitempty"`
	// Disabled is set when the cycle disabled the account, or when a
	// manual run named an already disabled account.
	Disabled       bool      `json:"disabled,omitempty"`
	DisabledReason string    `json:"disabled_reason,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// GroupCounts tallies applied group actions.
type GroupCounts struct {
	Created int `json:"created"`
	Renamed int `json:"renamed"`
	Deleted int `json:"deleted"`
}

// RunResult is the outcome of one run over all accounts.
type RunResult struct {
	Manual     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Accounts   []AccountResult
	// Errors is the total error tally of the run.
	Errors   int
	Canceled bool
}

// Orchestrator runs sync cycles for every account, one account at a time.
type Orchestrator struct {
	store    Store
	sources  SourceFactory
	gate     Gate
	backup   Backuper
	photos   PhotoStore
	notifier Notifier
	cfg      Config
	clock    func() models.Timestamp
	sleep    func(ctx context.Context, d time.Duration) error

	synchronizing atomic.Bool

	mu      sync.RWMutex
	status  SyncStatus
	lastRun *RunResult
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithGate sets the bulk-delete confirmation gate. Without a gate every
// confirmation is declined.
func WithGate(g Gate) Option { return func(o *Orchestrator) { o.gate = g } }

// WithBackup enables pre-delete backups.
func WithBackup(b Backuper) Option { return func(o *Orchestrator) { o.backup = b } }

// WithPhotos enables photo transfer through the given cache.
func WithPhotos(p PhotoStore) Option { return func(o *Orchestrator) { o.photos = p } }

// WithNotifier sets the end-of-run alert of manual runs.
func WithNotifier(n Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

// WithClock replaces the wall clock used to stamp lastSyncTime.
func WithClock(clock func() models.Timestamp) Option { return func(o *Orchestrator) { o.clock = clock } }

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store Store, sources SourceFactory, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		sources: sources,
		cfg:     cfg,
		clock:   models.Now,
		sleep:   sleepContext,
		status:  SyncStatusIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Status returns the current sync status.
func (o *Orchestrator) Status() SyncStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// LastRun returns the result of the last completed run.
func (o *Orchestrator) LastRun() *RunResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastRun
}

// IsSynchronizing reports whether a run is active.
func (o *Orchestrator) IsSynchronizing() bool {
	return o.synchronizing.Load()
}

// RunAll synchronizes the selected accounts sequentially. A failing account
// never stops the run; cancellation of ctx is honored between accounts.
func (o *Orchestrator) RunAll(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if !o.synchronizing.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "a sync run is already active")
	}
	defer o.synchronizing.Store(false)

	o.setStatus(SyncStatusSyncing)

	result := &RunResult{Manual: opts.Manual, StartedAt: time.Now()}
	defer func() {
		result.FinishedAt = time.Now()
		o.mu.Lock()
		o.lastRun = result
		if result.Errors > 0 {
			o.status = SyncStatusFailed
		} else {
			o.status = SyncStatusIdle
		}
		o.mu.Unlock()
	}()

	accounts, err := o.store.ListAccounts(ctx)
	if err != nil {
		result.Errors++
		return result, apperrors.Wrap(apperrors.ErrDatabase, "failed to list accounts", err)
	}
	accounts = selectAccounts(accounts, opts.AccountIDs)

	logging.Info("Sync run started", map[string]interface{}{
		"accounts": len(accounts),
		"manual":   opts.Manual,
	})

	ran := 0
	for _, account := range accounts {
		if account.Disabled {
			if opts.Manual && len(opts.AccountIDs) > 0 {
				result.Accounts = append(result.Accounts, AccountResult{
					AccountID:      account.ID,
					Name:           account.Name,
					Outcome:        OutcomeSkipped,
					Disabled:       true,
					DisabledReason: account.DisabledReason,
					Message:        "account is disabled",
				})
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			result.Canceled = true
			break
		}
		if ran > 0 && o.cfg.AccountDelay > 0 {
			if err := o.sleep(ctx, o.cfg.AccountDelay); err != nil {
				result.Canceled = true
				break
			}
		}
		ran++

		sc := newSyncContext(account, o, opts.Manual, result.Errors)
		ar := o.runAccount(ctx, sc)
		result.Errors += ar.Errors
		result.Accounts = append(result.Accounts, ar)
	}

	logging.Info("Sync run finished", map[string]interface{}{
		"accounts": len(result.Accounts),
		"errors":   result.Errors,
		"canceled": result.Canceled,
	})

	if opts.Manual && o.notifier != nil {
		o.notifier.Alert(result)
	}
	return result, nil
}

func (o *Orchestrator) setStatus(s SyncStatus) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

func selectAccounts(all []models.SyncAccount, ids []models.UUID) []models.SyncAccount {
	if len(ids) == 0 {
		return all
	}
	want := make(map[models.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.SyncAccount
	for _, a := range all {
		if want[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

// runAccount runs the cycle of one account and routes its failure.
func (o *Orchestrator) runAccount(ctx context.Context, sc *SyncContext) AccountResult {
	account := sc.Account
	ar := AccountResult{AccountID: account.ID, Name: account.Name, StartedAt: time.Now()}

	fields := map[string]interface{}{"account": account.ID.String(), "name": account.Name}
	logging.Info("Account sync started", fields)

	err := o.cycle(ctx, sc)

	ar.Step = sc.Step
	ar.Groups = sc.groupCounts
	ar.BackupKey = sc.backupKey
	if sc.plan != nil {
		ar.Summary = sc.plan.Summary
	}

	switch {
	case err == nil:
		ar.Outcome = OutcomeSuccess
		if sc.errors > 0 {
			ar.Outcome = OutcomePartial
		}
	case apperrors.Is(err, apperrors.ErrDeclined):
		ar.Outcome = OutcomeDeclined
		ar.Disabled, ar.DisabledReason = true, models.DisabledBulkDeleteDeclined
		o.disable(ctx, account, models.DisabledBulkDeleteDeclined)
	case apperrors.IsAuth(err):
		sc.errors++
		ar.Outcome = OutcomeFailed
		if e := o.store.SetNeedsReauth(ctx, account.ID, true); e != nil {
			logging.Error("Failed to flag account for re-authentication", e, fields)
		}
	case apperrors.IsPolicy(err):
		sc.errors++
		ar.Outcome = OutcomeFailed
		ar.Disabled, ar.DisabledReason = true, models.DisabledPolicyViolation
		o.disable(ctx, account, models.DisabledPolicyViolation)
	default:
		sc.errors++
		ar.Outcome = OutcomeFailed
	}
	if err != nil {
		ar.Err = err
		ar.Message = err.Error()
	}
	ar.Errors = sc.errors

	if err == nil && sc.errors == 0 {
		stamp := o.clock()
		if e := o.store.SetLastSyncTime(ctx, account.ID, stamp); e != nil {
			ar.Errors++
			ar.Outcome = OutcomePartial
			logging.Error("Failed to record last sync time", e, fields)
		}
		if account.NeedsReauth {
			if e := o.store.SetNeedsReauth(ctx, account.ID, false); e != nil {
				logging.Error("Failed to clear re-authentication flag", e, fields)
			}
		}
	}
	ar.FinishedAt = time.Now()

	logFields := ar.Summary.Fields()
	for k, v := range fields {
		logFields[k] = v
	}
	logFields["outcome"] = ar.Outcome
	logFields["errors"] = ar.Errors
	logFields["step"] = string(ar.Step)
	if err != nil {
		logging.ErrorWithCode("Account sync ended early", string(apperrors.CodeOf(err)), err, logFields)
	} else {
		logging.Info("Account sync finished", logFields)
	}

	o.writeSyncLog(ctx, &ar)
	return ar
}

func (o *Orchestrator) disable(ctx context.Context, account models.SyncAccount, reason string) {
	if err := o.store.SetAccountDisabled(ctx, account.ID, true, reason); err != nil {
		logging.Error("Failed to disable account", err, map[string]interface{}{
			"account": account.ID.String(),
			"reason":  reason,
		})
		return
	}
	logging.Warn("Account disabled", map[string]interface{}{
		"account": account.ID.String(),
		"reason":  reason,
	})
}

func (o *Orchestrator) writeSyncLog(ctx context.Context, ar *AccountResult) {
	summary, err := json.Marshal(ar.Summary)
	if err != nil {
		summary = []byte("{}")
	}
	entry := &models.SyncLog{
		ID:         models.UUID(ident.NewLocalID()),
		AccountID:  ar.AccountID,
		StartedAt:  ar.StartedAt.Unix(),
		FinishedAt: ar.FinishedAt.Unix(),
		Outcome:    ar.Outcome,
		Errors:     ar.Errors,
		Summary:    string(summary),
		Message:    ar.Message,
	}
	if err := o.store.LogSync(ctx, entry); err != nil {
		logging.Error("Failed to write sync log", err, map[string]interface{}{"account": ar.AccountID.String()})
	}
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
