package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/kinber/kinber/internal/agents"
	"github.com/kinber/kinber/internal/attachment"
	"github.com/kinber/kinber/internal/backend"
	"github.com/kinber/kinber/internal/cache"
	"github.com/kinber/kinber/internal/chat"
	"github.com/kinber/kinber/internal/config"
	"github.com/kinber/kinber/internal/db"
	"github.com/kinber/kinber/internal/identity"
	"github.com/kinber/kinber/internal/logging"
	"github.com/kinber/kinber/internal/notify"
	"github.com/kinber/kinber/internal/profile"
	"github.com/kinber/kinber/internal/realtime"
	"github.com/kinber/kinber/internal/storage"
	"github.com/kinber/kinber/internal/thread"
	"gorm.io/gorm"
)

var errNotSignedIn = errors.New("not signed in; run `kinber login`")

// app is the wired set of components a command works with.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	identity *identity.Adapter
	backend  *backend.Client
	store    *thread.GormStore
	threads  *thread.Manager
	cache    cache.Cache
	notifier notify.Notifier
	bus      *notify.Bus
	bucket   *storage.Bucket
	agents   *agents.Registry
	profiles *profile.Store
}

// loadApp reads the config and connects everything. Notices go to out.
func loadApp(ctx context.Context, configPath string, out io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return nil, err
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		closeDB(gormDB)
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Backend.Timeout}
	adapter, err := identity.New(cfg.Identity, &identity.GormStore{DB: gormDB}, identity.WithHTTPClient(httpClient))
	if err != nil {
		closeDB(gormDB)
		return nil, err
	}

	c, err := cache.New(ctx, cfg.Cache.RedisURL)
	if err != nil {
		closeDB(gormDB)
		return nil, err
	}

	var notifier notify.Notifier = notify.NewWriter(out)
	if cfg.Notify.Command != "" {
		notifier = notify.Multi{notifier, notify.NewCommand(cfg.Notify.Command)}
	}

	bus := &notify.Bus{}
	client := backend.New(cfg.Backend, httpClient)
	store := &thread.GormStore{DB: gormDB}
	return &app{
		cfg:      cfg,
		db:       gormDB,
		identity: adapter,
		backend:  client,
		store:    store,
		threads:  thread.NewManager(client, store, bus),
		cache:    c,
		notifier: notifier,
		bus:      bus,
		bucket:   storage.New(cfg.Identity.URL, cfg.Identity.AnonKey, cfg.Storage.Bucket),
		agents:   &agents.Registry{DB: gormDB},
		profiles: &profile.Store{DB: gormDB},
	}, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		log := logging.For("kinber")
		log.Warn().Err(err).Msg("cache close failed")
	}
	closeDB(a.db)
}

func closeDB(gormDB *gorm.DB) {
	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}
}

// pipeline returns an attachment pipeline reporting to notifier, or to the
// app's notifier when it is nil.
func (a *app) pipeline(notifier notify.Notifier) *attachment.Pipeline {
	if notifier == nil {
		notifier = a.notifier
	}
	return attachment.NewPipeline(attachment.Config{
		Uploader: a.bucket,
		Sessions: a.identity,
		Cache:    a.cache,
		Notifier: notifier,
		Bus:      a.bus,
	})
}

// composer returns a composer with its own thread lifecycle. Dropped
// attachments are reported to notifier, or to the app's notifier when it is
// nil.
func (a *app) composer(ctx context.Context, agentName string, staged chat.AttachmentSource, notifier notify.Notifier) *chat.Composer {
	if notifier == nil {
		notifier = a.notifier
	}
	if agentName == "" {
		agentName = a.cfg.Backend.Agent
	}
	return chat.NewComposer(chat.Config{
		Sessions:    a.identity,
		Threads:     thread.NewManager(a.backend, a.store, a.bus),
		Agent:       a.backend,
		Attachments: staged,
		Notifier:    notifier,
		ModelName:   a.cfg.Backend.ModelName,
		AgentName:   a.agents.Resolve(ctx, agentName),
	})
}

// feed returns the change feed for the configured database. Postgres gets
// LISTEN/NOTIFY; everything else is polled.
func (a *app) feed(ctx context.Context) (realtime.Feed, func(), error) {
	if a.cfg.Database.Driver == "postgres" {
		if err := db.InstallNotifyTriggers(a.db); err != nil {
			return nil, nil, err
		}
		f, err := realtime.NewPGFeed(ctx, db.PostgresDSN(a.cfg.Database.DSN), db.NotifyChannel)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
	return realtime.NewPollFeed(a.db, a.cfg.Realtime.PollInterval), func() {}, nil
}

// uploadDestination is where uploads of the signed-in user go.
func (a *app) uploadDestination(ctx context.Context) (string, error) {
	s, err := a.identity.CurrentSession(ctx)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", chat.ErrUnauthenticated
	}
	return s.User.ID, nil
}

func (a *app) auth(ctx context.Context) (backend.Auth, error) {
	s, err := a.identity.CurrentSession(ctx)
	if err != nil {
		return backend.Auth{}, err
	}
	if s == nil {
		return backend.Auth{}, errNotSignedIn
	}
	return backend.Auth{Token: s.AccessToken, UserID: s.User.ID}, nil
}
