package reconcile

import (
	"context"
	"fmt"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/models"
)

// Result is delivered by Run once the plan is computed.
type Result struct {
	Plan *ActionPlan
	Err  error
}

// Snapshot returns a deep copy of in that shares no memory with it.
func (in Input) Snapshot() Input {
	out := in
	out.Local = make([]models.LocalRecord, len(in.Local))
	for i := range in.Local {
		out.Local[i] = in.Local[i].Clone()
	}
	out.Remote = make(map[string]models.RemoteRecord, len(in.Remote))
	for k, r := range in.Remote {
		out.Remote[k] = r.Clone()
	}
	return out
}

// Run reconciles a snapshot of in on a new goroutine. The returned channel
// yields exactly one Result and is then closed.
func Run(ctx context.Context, in Input) <-chan Result {
	ch := make(chan Result, 1)
	snapshot := in.Snapshot()

	go func() {
		defer close(ch)
		if err := ctx.Err(); err != nil {
			ch <- Result{Err: err}
			return
		}
		defer func() {
			if r := recover(); r != nil {
				ch <- Result{Err: apperrors.New(apperrors.ErrInternal, fmt.Sprintf("reconcile panicked: %v", r))}
			}
		}()
		plan, err := Reconcile(snapshot)
		ch <- Result{Plan: plan, Err: err}
	}()

	return ch
}

// Await waits for the result of Run or for ctx to end. The computation is
// not interrupted by ctx; its result is dropped.
func Await(ctx context.Context, ch <-chan Result) (*ActionPlan, error) {
	select {
	case res := <-ch:
		return res.Plan, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
