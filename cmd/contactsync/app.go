package main

import (
	"context"
	"sync"

	"github.com/kimhsiao/contactsync/internal/backup"
	"github.com/kimhsiao/contactsync/internal/config"
	"github.com/kimhsiao/contactsync/internal/crypto"
	"github.com/kimhsiao/contactsync/internal/db"
	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/photos"
	"github.com/kimhsiao/contactsync/internal/remote"
	"github.com/kimhsiao/contactsync/internal/remote/people"
	syncpkg "github.com/kimhsiao/contactsync/internal/sync"
	"github.com/kimhsiao/contactsync/internal/sync/queue"
)

// Source kinds an account can use.
const (
	sourcePeople = "people"
	sourceMemory = "memory"
)

var _ syncpkg.Store = (*db.Repository)(nil)

// app bundles the opened stores of one command invocation.
type app struct {
	cfg    *config.Config
	db     *db.DB
	repo   *db.Repository
	vault  *crypto.TokenVault
	photos *photos.Store
	backup *backup.Manager

	mu     sync.Mutex
	memory map[models.UUID]*remote.MemorySource
}

// openApp opens the database and the stores around it.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to open database", err)
	}
	if err := database.Migrate(); err != nil {
		_ = database.Close()
		return nil, err
	}
	repo := db.NewRepository(database.DB)

	vault, err := crypto.OpenTokenVault(cfg.DataDir, cfg.Security.Passphrase, repo, crypto.DefaultKDFParams())
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		db:     database,
		repo:   repo,
		vault:  vault,
		photos: photos.NewStore(cfg.PhotoDir()),
		memory: make(map[models.UUID]*remote.MemorySource),
	}
	if cfg.Backup.Enabled {
		store, err := openBackupStore(ctx, cfg)
		if err != nil {
			_ = database.Close()
			return nil, err
		}
		a.backup = backup.NewManager(store, cfg.Backup.Retention)
	}
	return a, nil
}

func openBackupStore(ctx context.Context, cfg *config.Config) (backup.ObjectStore, error) {
	if !cfg.S3Enabled() {
		return backup.NewFileStore(cfg.Backup.Dir), nil
	}
	s3cfg := cfg.Backup.S3
	store, err := backup.NewS3Store(ctx, backup.S3Config{
		Provider:  s3cfg.Provider,
		Endpoint:  s3cfg.Endpoint,
		AccountID: s3cfg.AccountID,
		Bucket:    s3cfg.Bucket,
		Region:    s3cfg.Region,
		AccessKey: s3cfg.AccessKey,
		SecretKey: s3cfg.SecretKey,
		PathStyle: s3cfg.PathStyle,
		Prefix:    s3cfg.Prefix,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) Close() error {
	_ = a.repo.Close()
	return a.db.Close()
}

// openSource implements sync.SourceFactory.
func (a *app) openSource(ctx context.Context, account models.SyncAccount) (remote.Source, error) {
	switch account.Source {
	case sourcePeople, "":
		token, err := a.vault.RefreshToken(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		if a.cfg.Google.ClientID == "" {
			return nil, apperrors.New(apperrors.ErrConfig, "google.client_id is not configured")
		}
		oauthCfg := people.OAuthConfig(a.cfg.Google.ClientID, a.cfg.Google.ClientSecret, "")
		src, err := people.New(ctx, people.TokenSource(ctx, oauthCfg, token))
		if err != nil {
			return nil, err
		}
		return src, nil
	case sourceMemory:
		a.mu.Lock()
		defer a.mu.Unlock()
		src, ok := a.memory[account.ID]
		if !ok {
			src = remote.NewMemorySource(models.Now)
			a.memory[account.ID] = src
		}
		return src, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrConfig, "unknown source %q", account.Source)
	}
}

// orchestratorConfig maps the configuration onto the orchestrator.
func orchestratorConfig(cfg *config.Config) syncpkg.Config {
	q := queue.DefaultConfig()
	q.Delay = cfg.Sync.RequestDelay
	q.Timeout = cfg.Sync.RequestTimeout
	q.MaxRetries = cfg.Sync.MaxRetries
	return syncpkg.Config{
		DeleteThreshold: cfg.Sync.DeleteThreshold,
		AccountDelay:    cfg.Sync.AccountDelay,
		Queue:           q,
	}
}

// orchestrator builds the orchestrator over the app's stores.
func (a *app) orchestrator(opts ...syncpkg.Option) *syncpkg.Orchestrator {
	all := []syncpkg.Option{syncpkg.WithPhotos(a.photos)}
	if a.backup != nil {
		all = append(all, syncpkg.WithBackup(a.backup))
	}
	all = append(all, opts...)
	return syncpkg.NewOrchestrator(a.repo, a.openSource, orchestratorConfig(a.cfg), all...)
}
