// Package app wires the stratum server together and manages its lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	httpapi "github.com/stratumdb/stratum/internal/api/http"
	"github.com/stratumdb/stratum/internal/backup"
	"github.com/stratumdb/stratum/internal/config"
	"github.com/stratumdb/stratum/internal/gateway"
	"github.com/stratumdb/stratum/internal/migrate"
	"github.com/stratumdb/stratum/internal/registry"
	"github.com/stratumdb/stratum/internal/rows"
	"github.com/stratumdb/stratum/internal/server"
	"github.com/stratumdb/stratum/internal/storage"
)

// App manages the stratum server lifecycle.
type App struct {
	cfg *config.Config

	store    *registry.Store
	registry *registry.Registry
	executor *rows.Executor
	migrator *migrate.Engine
	backup   *backup.Backup
	gateway  *gateway.Gateway

	httpServer *server.GracefulHTTPServer
	shutdown   *server.ShutdownManager

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{cfg: cfg}, nil
}

// Gateway exposes the request gateway; useful for embedding the engine
// without the HTTP server.
func (a *App) Gateway() *gateway.Gateway {
	return a.gateway
}

// Start initializes the engine and starts the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initEngine(ctx); err != nil {
		if a.shutdown != nil {
			_ = a.shutdown.Shutdown(ctx)
		}
		a.cleanup()
		return err
	}
	if err := a.startHTTP(); err != nil {
		_ = a.shutdown.Shutdown(ctx)
		a.cleanup()
		return err
	}

	log.Printf("stratum started: http=%s data_dir=%s migrations=%s",
		a.cfg.HTTP.Addr, a.cfg.DataDir, a.cfg.Migrations.Source)
	return nil
}

func (a *App) initEngine(ctx context.Context) error {
	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{})

	store, err := registry.Open(a.cfg.CatalogPath(), a.cfg.Engine.BusyTimeoutMS)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	a.store = store
	a.shutdown.RegisterCloser(store)

	reg, err := registry.New(store, a.cfg.Engine.SchemaCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create schema registry: %w", err)
	}
	a.registry = reg

	a.executor = rows.New(reg, a.cfg.Engine.DefaultSearchLimit, a.cfg.Engine.MaxSearchLimit)

	source, err := a.migrationSource(ctx)
	if err != nil {
		return err
	}
	a.migrator = migrate.New(reg, source, a.cfg.Migrations.LockWait)

	if a.cfg.Backup.Enabled {
		sink, err := a.backupSink(ctx)
		if err != nil {
			return err
		}
		a.backup = backup.New(reg, a.executor, sink, a.cfg.Backup.Concurrency)
	}

	a.gateway = gateway.New(reg, a.executor, a.migrator, a.backup, a.cfg.Engine.RequestTimeout)
	return nil
}

func (a *App) migrationSource(ctx context.Context) (storage.MigrationSource, error) {
	switch a.cfg.Migrations.Source {
	case "local":
		return storage.NewLocalSource(a.cfg.Migrations.Dir), nil
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Migrations.S3.Region != "" {
			s3Cfg.Region = a.cfg.Migrations.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Migrations.S3.Endpoint
		if a.cfg.Migrations.S3.Prefix != "" {
			s3Cfg.MigrationPrefix = a.cfg.Migrations.S3.Prefix
		}
		src, err := storage.NewS3Storage(ctx, a.cfg.Migrations.S3.Bucket, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 migration source: %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported migration source: %s", a.cfg.Migrations.Source)
	}
}

func (a *App) backupSink(ctx context.Context) (storage.BackupSink, error) {
	switch a.cfg.Backup.Sink {
	case "local":
		sink, err := storage.NewLocalSink(a.cfg.Backup.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize backup directory: %w", err)
		}
		return sink, nil
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Backup.S3.Region != "" {
			s3Cfg.Region = a.cfg.Backup.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Backup.S3.Endpoint
		sink, err := storage.NewS3Storage(ctx, a.cfg.Backup.S3.Bucket, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 backup sink: %w", err)
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported backup sink: %s", a.cfg.Backup.Sink)
	}
}

func (a *App) startHTTP() error {
	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.RecoveryMiddleware,
		httpapi.RequestIDMiddleware,
		httpapi.ContentTypeMiddleware,
	)
	mux := httpapi.NewMux(a.gateway, middleware)

	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.httpServer = server.NewGracefulHTTPServer(srv, a.shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil {
			log.Printf("http: server error: %v", err)
		}
	}()
	return nil
}

// Wait blocks until a shutdown signal arrives and shutdown completes.
func (a *App) Wait(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.wg.Wait()
	return err
}

// Stop shuts the app down gracefully.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx)
	a.wg.Wait()
	a.cleanup()
	return err
}

func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
	}
}
