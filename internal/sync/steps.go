package sync

import (
	"context"

	"github.com/kimhsiao/contactsync/internal/convert"
	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/logging"
	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/sync/groups"
	"github.com/kimhsiao/contactsync/internal/sync/queue"
	"github.com/kimhsiao/contactsync/internal/sync/reconcile"
)

type step struct {
	name Step
	run  func(ctx context.Context, sc *SyncContext) error
}

func (o *Orchestrator) steps() []step {
	return []step{
		{StepConnect, o.connect},
		{StepFetchGroups, o.fetchGroups},
		{StepReconcileGroups, o.reconcileGroups},
		{StepFetchContacts, o.fetchContacts},
		{StepReconcile, o.reconcileContacts},
		{StepConfirm, o.confirmDeletes},
		{StepBackup, o.backupLocal},
		{StepApplyDeletes, o.applyDeletes},
		{StepApplyAdds, o.applyAdds},
		{StepApplyUpdates, o.applyUpdates},
		{StepPhotoUploads, o.uploadPhotos},
		{StepPhotoDownloads, o.downloadPhotos},
	}
}

// cycle runs the steps of one account in order. It stops at the first
// failing step; cancellation is checked between steps.
func (o *Orchestrator) cycle(ctx context.Context, sc *SyncContext) error {
	for _, st := range o.steps() {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.ErrTransient, "sync canceled", err)
		}
		sc.Step = st.name
		if err := st.run(ctx, sc); err != nil {
			return err
		}
	}
	sc.Step = StepDone
	return nil
}

func (o *Orchestrator) connect(ctx context.Context, sc *SyncContext) error {
	if err := sc.Account.Mode.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "invalid account mode", err)
	}

	src, err := o.sources(ctx, sc.Account)
	if err != nil {
		return err
	}
	sc.Remote = src

	sc.lastSync, err = sc.Local.LastSyncTime(ctx, sc.Account.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read last sync time", err)
	}
	return nil
}

func (o *Orchestrator) fetchGroups(ctx context.Context, sc *SyncContext) error {
	err := sc.queue.Do(ctx, queue.OperationGroup, "groups", func(ctx context.Context) error {
		gs, err := sc.Remote.FetchGroups(ctx)
		sc.remoteGroups = gs
		return err
	})
	if err != nil {
		return err
	}

	if sc.Account.GroupMode != models.GroupModeMirror {
		return nil
	}
	sc.localGroups, err = sc.Local.ListGroups(ctx, sc.Account.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to list local groups", err)
	}
	return nil
}

func (o *Orchestrator) reconcileGroups(ctx context.Context, sc *SyncContext) error {
	if sc.Account.GroupMode != models.GroupModeMirror {
		target, err := o.resolveTarget(ctx, sc)
		if err != nil {
			return err
		}
		sc.converter = convert.NewConverter(models.GroupModeSingle, target, nil)
		return nil
	}

	plan, err := groups.Reconcile(groups.Input{
		Local:     sc.localGroups,
		Remote:    sc.remoteGroups,
		FirstSync: sc.lastSync.IsZero(),
		Mode:      sc.Account.Mode,
	})
	if err != nil {
		return err
	}

	idx := plan.Index()
	sc.converter = convert.NewConverter(models.GroupModeMirror, "", idx)
	account := sc.Account.ID

	upsert := func(g models.Group) (models.Group, error) {
		saved, err := sc.Local.UpsertGroup(ctx, account, g)
		if err != nil {
			return saved, apperrors.Wrap(apperrors.ErrDatabase, "failed to save group "+g.Name, err)
		}
		return saved, nil
	}
	purge := func(localID string) error {
		if err := sc.Local.PurgeGroup(ctx, account, localID); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to purge group", err)
		}
		return nil
	}

	for _, l := range plan.NewLinks {
		g := l.Local
		g.ExternalID = l.Remote.RemoteID
		if _, err := upsert(g); err != nil {
			return err
		}
	}
	for _, l := range plan.RenameLocal {
		g := l.Local
		g.Name = l.Remote.Name
		if _, err := upsert(g); err != nil {
			return err
		}
		sc.groupCounts.Renamed++
	}
	for _, l := range plan.Restore {
		g := l.Local
		g.Deleted = false
		if _, err := upsert(g); err != nil {
			return err
		}
	}
	for _, rg := range plan.LocalCreates {
		saved, err := upsert(models.Group{Name: rg.Name, ExternalID: rg.RemoteID})
		if err != nil {
			return err
		}
		idx.Link(saved.LocalID, rg.RemoteID)
		sc.groupCounts.Created++
	}
	for _, g := range plan.LocalDeletes {
		if err := purge(g.LocalID); err != nil {
			return err
		}
		sc.groupCounts.Deleted++
	}
	for _, g := range plan.Purge {
		if err := purge(g.LocalID); err != nil {
			return err
		}
	}

	for _, g := range plan.RemoteCreates {
		g := g
		sc.enqueue(queue.OperationGroup, g.Name, func(ctx context.Context) error {
			rg, err := sc.Remote.CreateGroup(ctx, g.Name)
			if err != nil {
				return err
			}
			g.ExternalID = rg.RemoteID
			saved, err := upsert(g)
			if err != nil {
				return err
			}
			idx.Link(saved.LocalID, rg.RemoteID)
			sc.groupCounts.Created++
			return nil
		})
	}
	for _, l := range plan.RenameRemote {
		l := l
		sc.enqueue(queue.OperationGroup, l.Local.Name, func(ctx context.Context) error {
			if _, err := sc.Remote.RenameGroup(ctx, l.Remote, l.Local.Name); err != nil {
				return err
			}
			sc.groupCounts.Renamed++
			return nil
		})
	}
	for _, l := range plan.RemoteDeletes {
		l := l
		sc.enqueue(queue.OperationGroup, l.Remote.Name, func(ctx context.Context) error {
			if err := sc.Remote.DeleteGroup(ctx, l.Remote); err != nil {
				return err
			}
			sc.groupCounts.Deleted++
			if l.Local.LocalID != "" {
				return purge(l.Local.LocalID)
			}
			return nil
		})
	}

	logging.Debug("Group plan", sc.fields(map[string]interface{}{
		"linked":         len(plan.Linked),
		"new_links":      len(plan.NewLinks),
		"remote_creates": len(plan.RemoteCreates),
		"local_creates":  len(plan.LocalCreates),
		"remote_deletes": len(plan.RemoteDeletes),
		"local_deletes":  len(plan.LocalDeletes),
		"system":         len(plan.System),
		"ignored":        plan.Ignored,
	}))

	return sc.drain(ctx)
}

// resolveTarget finds the group new contacts join in single-group mode,
// creating it when missing and the account may write remotely.
func (o *Orchestrator) resolveTarget(ctx context.Context, sc *SyncContext) (string, error) {
	name := sc.Account.TargetGroup
	if name == "" {
		return "", nil
	}
	if id, ok := groups.ResolveTarget(name, sc.remoteGroups); ok {
		return id, nil
	}
	if sc.Account.Mode.ReadOnly {
		logging.Warn("Target group not found", sc.fields(map[string]interface{}{"group": name}))
		return "", nil
	}

	var id string
	err := sc.queue.Do(ctx, queue.OperationGroup, name, func(ctx context.Context) error {
		rg, err := sc.Remote.CreateGroup(ctx, name)
		id = rg.RemoteID
		return err
	})
	if err != nil {
		return "", err
	}
	sc.groupCounts.Created++
	return id, nil
}

func (o *Orchestrator) fetchContacts(ctx context.Context, sc *SyncContext) error {
	var fetched []models.RemoteRecord
	err := sc.queue.Do(ctx, queue.OperationFetch, "contacts", func(ctx context.Context) error {
		rs, err := sc.Remote.FetchAll(ctx)
		fetched = rs
		return err
	})
	if err != nil {
		return err
	}

	// Records that cannot be classified are left out together with their
	// local counterparts, which would otherwise look deleted remotely.
	skipped := make(map[string]bool)
	sc.remote = make(map[string]models.RemoteRecord, len(fetched))
	for _, r := range fetched {
		key := ident.NormalizeRemoteID(r.RemoteID)
		if err := r.Validate(); err != nil {
			if key != "" {
				skipped[key] = true
			}
			sc.recordError("Skipping malformed remote contact", apperrors.Wrap(apperrors.ErrData, "malformed remote contact", err), nil)
			continue
		}
		if _, dup := sc.remote[key]; dup {
			skipped[key] = true
			sc.recordError("Skipping duplicate remote contact", apperrors.Newf(apperrors.ErrData, "duplicate remote ID %s", r.RemoteID), nil)
			continue
		}
		sc.remote[key] = r
	}
	for key := range skipped {
		delete(sc.remote, key)
	}

	all, err := sc.Local.ListAll(ctx, sc.Account.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to list local contacts", err)
	}
	sc.local = all[:0:0]
	for _, rec := range all {
		if rec.Synced() && skipped[ident.NormalizeRemoteID(rec.ExternalID)] {
			continue
		}
		sc.local = append(sc.local, rec)
	}
	return nil
}

func (o *Orchestrator) reconcileContacts(ctx context.Context, sc *SyncContext) error {
	in := reconcile.Input{
		Account:  sc.Account.ID,
		Local:    sc.local,
		Remote:   sc.remote,
		LastSync: sc.lastSync,
		Mode:     sc.Account.Mode,
	}
	plan, err := reconcile.Await(ctx, reconcile.Run(ctx, in))
	if err != nil {
		return err
	}
	sc.plan = plan

	logging.Info("Reconciliation complete", sc.fields(plan.Summary.Fields()))
	return nil
}

func (o *Orchestrator) backupLocal(ctx context.Context, sc *SyncContext) error {
	if o.backup == nil {
		return nil
	}
	local, remote := sc.plan.DeleteCounts()
	if local+remote == 0 {
		return nil
	}

	key, err := o.backup.Backup(ctx, sc.Account, sc.local)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrBackupFailed, "pre-delete backup failed", err)
	}
	sc.backupKey = key
	logging.Info("Local contacts backed up", sc.fields(map[string]interface{}{
		"key":     key,
		"records": len(sc.local),
	}))
	return nil
}

func (o *Orchestrator) confirmDeletes(ctx context.Context, sc *SyncContext) error {
	plan := sc.plan
	if !plan.NeedsConfirmation(sc.Config.DeleteThreshold) {
		return nil
	}
	local, remote := plan.DeleteCounts()

	confirmed := false
	if sc.Gate != nil {
		ok, err := sc.Gate.ConfirmBulkDelete(ctx, sc.Account, local, remote)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "confirmation failed", err)
		}
		confirmed = ok
	}
	if confirmed {
		return nil
	}

	plan.Discard()
	logging.Warn("Bulk delete declined", sc.fields(map[string]interface{}{
		"local_deletes":  local,
		"remote_deletes": remote,
		"threshold":      sc.Config.DeleteThreshold,
	}))
	return apperrors.Newf(apperrors.ErrDeclined, "bulk delete of %d local and %d remote contacts declined", local, remote)
}

func (o *Orchestrator) applyDeletes(ctx context.Context, sc *SyncContext) error {
	plan := sc.plan
	if len(plan.LocalDeletes) > 0 {
		if err := sc.Local.Delete(ctx, sc.Account.ID, plan.LocalDeletes); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete local contacts", err)
		}
	}

	for _, r := range plan.RemoteDeletes {
		r := r
		sc.enqueue(queue.OperationDelete, r.DisplayName, func(ctx context.Context) error {
			return sc.Remote.Delete(ctx, r)
		})
	}
	return sc.drain(ctx)
}

func (o *Orchestrator) applyAdds(ctx context.Context, sc *SyncContext) error {
	plan := sc.plan
	cv := sc.converter
	account := sc.Account.ID

	for _, local := range plan.RemoteAdds {
		local := local
		sc.enqueue(queue.OperationCreate, local.DisplayName, func(ctx context.Context) error {
			created, err := sc.Remote.Create(ctx, cv.ToRemote(&local, nil))
			if err != nil {
				return err
			}
			local.ExternalID = created.RemoteID
			saved, err := sc.Local.Upsert(ctx, account, local)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to link local contact", err)
			}
			sc.pushed = append(sc.pushed, recordPair{local: saved, remote: created})
			return nil
		})
	}

	for _, r := range plan.LocalAdds {
		draft, err := cv.ToLocal(&r, nil)
		if err != nil {
			sc.recordError("Skipping remote contact", err, map[string]interface{}{"remote_id": r.RemoteID})
			continue
		}
		saved, err := sc.Local.Upsert(ctx, account, models.LocalRecord{
			ExternalID:  r.RemoteID,
			DisplayName: draft.DisplayName,
			Contact:     draft.Contact,
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to add local contact", err)
		}
		sc.pulled = append(sc.pulled, recordPair{local: saved, remote: r})
	}

	for _, m := range plan.Merged {
		m := m
		if len(m.Skipped) > 0 {
			sc.recordError("Merged contact has undecodable fields",
				apperrors.Newf(apperrors.ErrData, "remote contact %s has undecodable fields", m.Remote.RemoteID),
				map[string]interface{}{"remote_id": m.Remote.RemoteID, "fields": len(m.Skipped)})
		}
		saved, err := sc.Local.Upsert(ctx, account, m.Local)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to link merged contact", err)
		}
		if !sc.Account.Mode.WriteOnly {
			sc.pulled = append(sc.pulled, recordPair{local: saved, remote: m.Remote})
		}
		if !m.PushRemote {
			continue
		}
		sc.enqueue(queue.OperationUpdate, saved.DisplayName, func(ctx context.Context) error {
			updated, err := sc.Remote.Update(ctx, m.Remote, cv.MergedDraft(&saved, &m.Remote))
			if err != nil {
				return err
			}
			sc.pushed = append(sc.pushed, recordPair{local: saved, remote: updated})
			return nil
		})
	}

	return sc.drain(ctx)
}

func (o *Orchestrator) applyUpdates(ctx context.Context, sc *SyncContext) error {
	plan := sc.plan
	cv := sc.converter
	account := sc.Account.ID

	for _, p := range plan.RemoteUpdates {
		p := p
		sc.enqueue(queue.OperationUpdate, p.Local.DisplayName, func(ctx context.Context) error {
			updated, err := sc.Remote.Update(ctx, p.Remote, cv.ToRemote(&p.Local, &p.Remote))
			if err != nil {
				return err
			}
			sc.pushed = append(sc.pushed, recordPair{local: p.Local, remote: updated})
			return nil
		})
	}

	for _, p := range plan.LocalUpdates {
		draft, err := cv.ToLocal(&p.Remote, &p.Local)
		if err != nil {
			sc.recordError("Skipping remote contact", err, map[string]interface{}{"remote_id": p.Remote.RemoteID})
			continue
		}
		rec := p.Local
		rec.DisplayName = draft.DisplayName
		rec.Contact = draft.Contact
		saved, err := sc.Local.Upsert(ctx, account, rec)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to update local contact", err)
		}
		sc.pulled = append(sc.pulled, recordPair{local: saved, remote: p.Remote})
	}

	if len(plan.Conflicts) > 0 {
		if err := o.store.LogConflicts(ctx, plan.Conflicts); err != nil {
			logging.Warn("Failed to record conflicts", sc.fields(map[string]interface{}{"error": err.Error()}))
		}
	}

	return sc.drain(ctx)
}

func (o *Orchestrator) uploadPhotos(ctx context.Context, sc *SyncContext) error {
	if o.photos == nil {
		return nil
	}
	account := sc.Account.ID

	for _, p := range sc.pushed {
		p := p
		hash := p.local.Contact.PhotoHash
		if hash == "" || hash == p.local.SyncedPhotoHash {
			continue
		}
		data, err := o.photos.Get(ctx, hash)
		if err != nil {
			sc.recordError("Local photo unreadable", apperrors.Wrap(apperrors.ErrData, "local photo unreadable", err),
				map[string]interface{}{"local_id": p.local.LocalID})
			continue
		}
		sc.uploaded[p.local.LocalID] = true
		sc.enqueue(queue.OperationPhotoUpload, p.local.DisplayName, func(ctx context.Context) error {
			ref, err := sc.Remote.UploadPhoto(ctx, p.remote, data)
			if err != nil {
				return err
			}
			rec := p.local
			rec.SyncedPhotoHash = hash
			rec.RemotePhotoETag = ref.ETag
			if _, err := sc.Local.Upsert(ctx, account, rec); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to record uploaded photo", err)
			}
			return nil
		})
	}
	return sc.drain(ctx)
}

func (o *Orchestrator) downloadPhotos(ctx context.Context, sc *SyncContext) error {
	if o.photos == nil {
		return nil
	}
	account := sc.Account.ID

	for _, p := range sc.pulled {
		p := p
		ref := p.remote.Photo
		if ref.URL == "" || ref.ETag == p.local.RemotePhotoETag || sc.uploaded[p.local.LocalID] {
			continue
		}
		sc.enqueue(queue.OperationPhotoFetch, p.local.DisplayName, func(ctx context.Context) error {
			data, err := sc.Remote.FetchPhoto(ctx, ref)
			if err != nil {
				return err
			}
			hash, err := o.photos.Put(ctx, data)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrData, "failed to cache photo", err)
			}
			rec := p.local
			rec.Contact.PhotoHash = hash
			rec.SyncedPhotoHash = hash
			rec.RemotePhotoETag = ref.ETag
			if _, err := sc.Local.Upsert(ctx, account, rec); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to record downloaded photo", err)
			}
			return nil
		})
	}
	return sc.drain(ctx)
}
