package backup

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"gopkg.in/yaml.v3"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/logging"
	"github.com/kimhsiao/contactsync/internal/models"
)

// SnapshotVersion is the current snapshot format.
const SnapshotVersion = 1

// keySuffix marks a snappy-compressed YAML snapshot.
const keySuffix = ".yaml.sz"

// Snapshot is the decoded content of a backup.
type Snapshot struct {
	Version     int                  `yaml:"version"`
	AccountID   models.UUID          `yaml:"account_id"`
	AccountName string               `yaml:"account_name"`
	CreatedAtMs int64                `yaml:"created_at_ms"`
	Records     []models.LocalRecord `yaml:"records"`
}

// Info describes one stored backup.
type Info struct {
	Key       string
	AccountID models.UUID
	CreatedAt time.Time
}

// Key returns the object key of a backup: <account>/<unix-ms>.yaml.sz.
func Key(account models.UUID, at time.Time) string {
	return fmt.Sprintf("%s/%d%s", account, at.UnixMilli(), keySuffix)
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (Info, error) {
	account, file, ok := strings.Cut(key, "/")
	if !ok || account == "" || !strings.HasSuffix(file, keySuffix) {
		return Info{}, apperrors.Newf(apperrors.ErrInvalid, "not a backup key: %q", key)
	}
	ms, err := strconv.ParseInt(strings.TrimSuffix(file, keySuffix), 10, 64)
	if err != nil {
		return Info{}, apperrors.Wrap(apperrors.ErrInvalid, fmt.Sprintf("not a backup key: %q", key), err)
	}
	return Info{Key: key, AccountID: models.UUID(account), CreatedAt: time.UnixMilli(ms)}, nil
}

// Encode serializes a snapshot: YAML, then snappy.
func Encode(s *Snapshot) ([]byte, error) {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*Snapshot, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrData, "backup is not snappy-compressed", err)
	}
	var s Snapshot
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrData, "backup is not a valid snapshot", err)
	}
	if s.Version > SnapshotVersion {
		return nil, apperrors.Newf(apperrors.ErrData, "unsupported snapshot version %d", s.Version)
	}
	return &s, nil
}

// Manager writes, lists and restores backups in an ObjectStore.
type Manager struct {
	store     ObjectStore
	retention int
	now       func() time.Time
}

// NewManager returns a manager keeping the newest retention backups per
// account. Zero retention keeps everything.
func NewManager(store ObjectStore, retention int) *Manager {
	return &Manager{store: store, retention: retention, now: time.Now}
}

// Backup writes a snapshot of records and returns its key.
func (m *Manager) Backup(ctx context.Context, account models.SyncAccount, records []models.LocalRecord) (string, error) {
	at := m.now()
	data, err := Encode(&Snapshot{
		Version:     SnapshotVersion,
		AccountID:   account.ID,
		AccountName: account.Name,
		CreatedAtMs: at.UnixMilli(),
		Records:     records,
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrBackupFailed, "failed to encode backup", err)
	}

	key := Key(account.ID, at)
	if err := m.store.Upload(ctx, key, data); err != nil {
		return "", apperrors.Wrap(apperrors.ErrBackupFailed, "failed to store backup", err)
	}
	logging.Info("Backup written", map[string]interface{}{
		"account": account.ID,
		"key":     key,
		"records": len(records),
		"bytes":   len(data),
	})

	if err := m.prune(ctx, account.ID); err != nil {
		logging.Warn("Backup retention failed", map[string]interface{}{
			"account": account.ID,
			"error":   err.Error(),
		})
	}
	return key, nil
}

// List returns the backups of account, newest first. An empty account
// lists every backup.
func (m *Manager) List(ctx context.Context, account models.UUID) ([]Info, error) {
	prefix := ""
	if account != "" {
		prefix = string(account) + "/"
	}
	keys, err := m.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(keys))
	for _, k := range keys {
		info, err := ParseKey(k)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].Key < infos[j].Key
	})
	return infos, nil
}

// Restore downloads and decodes the backup at key.
func (m *Manager) Restore(ctx context.Context, key string) (*Snapshot, error) {
	if _, err := ParseKey(key); err != nil {
		return nil, err
	}
	data, err := m.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// prune deletes the oldest backups of account beyond the retention count.
func (m *Manager) prune(ctx context.Context, account models.UUID) error {
	if m.retention <= 0 {
		return nil
	}
	infos, err := m.List(ctx, account)
	if err != nil {
		return err
	}
	for i := m.retention; i < len(infos); i++ {
		if err := m.store.Delete(ctx, infos[i].Key); err != nil {
			return err
		}
	}
	return nil
}
