package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/contactsync/internal/convert"
	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/logging"
	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/remote"
	"github.com/kimhsiao/contactsync/internal/sync/queue"
	"github.com/kimhsiao/contactsync/internal/sync/reconcile"
)

// Step names a state of the per-account cycle.
type Step string

const (
	StepIdle            Step = "idle"
	StepConnect         Step = "connect"
	StepFetchGroups     Step = "fetch_groups"
	StepReconcileGroups Step = "reconcile_groups"
	StepFetchContacts   Step = "fetch_contacts"
	StepReconcile       Step = "reconcile"
	StepConfirm         Step = "confirm"
	StepBackup          Step = "backup"
	StepApplyDeletes    Step = "apply_deletes"
	StepApplyAdds       Step = "apply_adds"
	StepApplyUpdates    Step = "apply_updates"
	StepPhotoUploads    Step = "photo_uploads"
	StepPhotoDownloads  Step = "photo_downloads"
	StepDone            Step = "done"
)

// SyncContext carries the state of one account's cycle through its steps.
type SyncContext struct {
	Account models.SyncAccount
	Config  Config
	Local   LocalStore
	Remote  remote.Source
	Gate    Gate
	// Manual is set for user-triggered runs.
	Manual    bool
	StartedAt time.Time
	// ErrorsAtStart is the run's error tally when this account started.
	ErrorsAtStart int
	Step          Step

	queue     *queue.SyncQueue
	converter *convert.Converter
	lastSync  models.Timestamp

	localGroups  []models.Group
	remoteGroups []models.RemoteGroup
	groupCounts  GroupCounts

	local  []models.LocalRecord
	remote map[string]models.RemoteRecord
	plan   *reconcile.ActionPlan

	// pushed and pulled feed the photo steps.
	pushed   []recordPair
	pulled   []recordPair
	uploaded map[string]bool

	backupKey string
	// errors counts the failures of this cycle.
	errors int
}

type recordPair struct {
	local  models.LocalRecord
	remote models.RemoteRecord
}

func newSyncContext(account models.SyncAccount, o *Orchestrator, manual bool, errorsAtStart int) *SyncContext {
	return &SyncContext{
		Account:       account,
		Config:        o.cfg,
		Local:         o.store,
		Gate:          o.gate,
		Manual:        manual,
		StartedAt:     time.Now(),
		ErrorsAtStart: errorsAtStart,
		Step:          StepIdle,
		queue:         queue.NewSyncQueue(o.cfg.Queue),
		uploaded:      make(map[string]bool),
	}
}

func (sc *SyncContext) fields(extra map[string]interface{}) map[string]interface{} {
	f := map[string]interface{}{
		"account": sc.Account.ID.String(),
		"step":    string(sc.Step),
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

// recordError logs a failure that skips one record and lets the cycle go on.
func (sc *SyncContext) recordError(message string, err error, extra map[string]interface{}) {
	sc.errors++
	logging.ErrorWithCode(message, string(apperrors.CodeOf(err)), err, sc.fields(extra))
}

// enqueue queues a remote request. A request the queue refuses is counted
// as an error of the cycle.
func (sc *SyncContext) enqueue(op queue.Operation, label string, fn queue.Func) {
	if _, err := sc.queue.Enqueue(op, label, fn); err != nil {
		sc.recordError("Remote request dropped", err, map[string]interface{}{
			"operation": string(op),
			"label":     label,
		})
	}
}

// drain applies the queued remote requests. Failed requests count as
// errors; an aborting failure is returned and counted by the caller.
func (sc *SyncContext) drain(ctx context.Context) error {
	if sc.queue.Size() == 0 {
		return nil
	}
	stats := sc.queue.GetStats()
	logging.Debug("Applying remote requests", sc.fields(map[string]interface{}{
		"pending": stats["pending"],
	}))

	report, err := sc.queue.Drain(ctx)
	failed := report.Failed
	if err != nil && failed > 0 {
		failed--
	}
	sc.errors += failed
	if report.Retries > 0 || report.Failed > 0 {
		logging.Info("Remote requests applied", sc.fields(map[string]interface{}{
			"completed": report.Completed,
			"failed":    report.Failed,
			"retries":   report.Retries,
			"skipped":   report.Skipped,
		}))
	}
	return err
}
