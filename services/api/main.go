package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/internal/blob"
	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/handler"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/moderation"
	"github.com/chatcore/internal/push"
	"github.com/chatcore/internal/repository"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/startup"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/storage/memory"
	"github.com/chatcore/internal/ws"
	"github.com/chatcore/migrations"
)

func main() {
	logger.SetPrefix("chatcore")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, *dev, *migrate)
	stop()
	if err != nil {
		logger.Errorf("%v", err)
	}
	logger.Flush(2 * time.Second)
	if err != nil {
		os.Exit(1)
	}
}

// run возвращает ошибку вместо os.Exit, чтобы отработали все defer (пул, embedded postgres).
func run(ctx context.Context, dev, migrateOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.Infof("starting chatcore (store=%s typing=%s)", cfg.Store, cfg.TypingBackend)

	proxies, err := middleware.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
	}

	var store storage.Store
	switch cfg.Store {
	case "memory":
		store = memory.New()
		logger.Info("in-memory store: data is lost on restart")
	default:
		if dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				return fmt.Errorf("embedded postgres: %w", err)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 2
		pool, err := startup.ConnectDB(ctx, poolCfg, 60*time.Second)
		if err != nil {
			return err
		}
		defer pool.Close()

		migCtx, migCancel := context.WithTimeout(ctx, 30*time.Second)
		applied, err := migrations.Apply(migCtx, pool)
		migCancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		logger.Infof("database connected, migrations applied: %v", applied)
		if migrateOnly {
			return nil
		}
		lock, err := repository.AcquireInstanceLock(ctx, pool)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				logger.Errorf("instance lock release: %v", err)
			}
		}()
		store = repository.NewStore(pool)
	}
	defer store.Close()

	var typing storage.TypingStore
	if cfg.TypingBackend == "redis" {
		client, err := startup.ConnectRedis(ctx, cfg.Redis.URL, 30*time.Second)
		if err != nil {
			return err
		}
		typing = client
		logger.Info("typing indicators in redis")
	} else {
		typing = memory.NewTyping()
	}
	defer typing.Close()

	var policy moderation.Policy = moderation.Nop{}
	if len(cfg.BlockedWords) > 0 {
		f, err := moderation.NewFilter(cfg.BlockedWords, '*')
		if err != nil {
			return fmt.Errorf("moderation filter: %w", err)
		}
		policy = f
	}

	blobs := blob.NewDisk(cfg.UploadDir, "/api/blobs/")
	pushClient := push.NewClient(cfg.PushServiceURL, 0)
	dispatcher := dispatch.New(cfg.SessionQueueSize, cfg.MaxSessions)

	svc := service.New(service.Deps{
		Store:    store,
		Typing:   typing,
		Dispatch: dispatcher,
		Policy:   policy,
		Notifier: pushClient,
		Blobs:    blobs,
	}, service.Options{
		TypingTTL:       cfg.TypingTTL,
		TypingSweep:     cfg.TypingSweep,
		SchedulerTick:   cfg.SchedulerTick,
		SchedulerBatch:  cfg.SchedulerBatch,
		PollCloserCron:  cfg.PollCloserCron,
		MaxUploadSize:   cfg.MaxUploadSize,
		AllowedMimeType: cfg.AllowedMimeTypes,
		BlobDisk:        blobs.Name(),
	})

	checkOrigin := handler.OriginChecker(cfg.CORSOrigins())
	hub := ws.NewHub(svc, ws.Options{
		WriteWait:      cfg.WSWriteTimeout,
		PongWait:       cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
		CheckOrigin:    checkOrigin,
	})

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bgWg sync.WaitGroup
	for name, job := range map[string]func(context.Context){
		"scheduler":      svc.RunScheduler,
		"typing sweeper": svc.RunTypingSweeper,
		"poll closer":    svc.RunPollCloser,
		"push":           func(ctx context.Context) { pushClient.Run(ctx, cfg.PushWorkers) },
	} {
		name, job := name, job
		bgWg.Add(1)
		go func() {
			defer bgWg.Done()
			job(bgCtx)
			logger.Infof("%s stopped", name)
		}()
	}
	defer func() {
		bgCancel()
		bgWg.Wait()
	}()

	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: handler.NewRouter(handler.RouterDeps{
			Config:  cfg,
			Service: svc,
			WS:      handler.NewWSHandler(hub, checkOrigin),
			Blobs:   blobs,
			Proxies: proxies,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	// Hijacked-соединения srv.Shutdown не закрывает.
	hub.Shutdown(shutdownCtx)
	logger.Info("websocket connections closed")
	return serveErr
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatcore"
		password = "chatcore"
		database = "chatcore"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
