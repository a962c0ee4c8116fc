// Package server wires the keepsake engine together: storage, queue, event
// bus, notification worker, date scheduler, the HTTP API and the gRPC health
// endpoint. Everything stops when the run context is cancelled.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/config"
	"github.com/dmitrijs2005/keepsake/internal/server/events"
	"github.com/dmitrijs2005/keepsake/internal/server/httpapi"
	"github.com/dmitrijs2005/keepsake/internal/server/metrics"
	"github.com/dmitrijs2005/keepsake/internal/server/notify"
	"github.com/dmitrijs2005/keepsake/internal/server/queue"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/keepsake/internal/server/services"
	"github.com/dmitrijs2005/keepsake/internal/server/storage"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/keepsake/internal/server/grpc"
)

const eventBuffer = 256

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	queue  queue.Queue
	bus    *events.Bus

	delivery     *services.DeliveryService
	orchestrator *services.Orchestrator
	worker       *queue.Worker
	scheduler    *services.Scheduler
	router       http.Handler
	health       *gs.HealthServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	blobs, err := newBlobStore(ctx, c)
	if err != nil {
		db.Close()
		return nil, err
	}

	q, err := newQueue(c)
	if err != nil {
		db.Close()
		return nil, err
	}

	mx := metrics.New()
	bus := events.NewBus(eventBuffer, logger)
	sender := notify.NewLogSender(logger)

	delivery := services.NewDeliveryService(db, rm, bus, mx, logger)
	orchestrator := services.NewOrchestrator(db, rm, q, mx, c, logger)
	dispatcher := services.NewNotificationDispatcher(db, rm, sender, mx, c, logger)

	worker := queue.NewWorker(q, logger, queue.WorkerOptions{
		PollInterval: c.WorkerPollInterval,
		BackoffBase:  c.RetryBackoffBase,
	})
	worker.Register(services.JobTypeNotification, dispatcher.Handle)

	router := httpapi.NewRouter(httpapi.Services{
		Keepsakes:   services.NewKeepsakeService(db, rm, blobs, c, logger),
		Delivery:    delivery,
		Vaults:      services.NewVaultService(db, rm, c, logger),
		Death:       services.NewDeathService(db, rm, bus, logger),
		Invitations: services.NewInvitationService(db, rm, sender, orchestrator, c, logger),
		Portal:      services.NewPortalService(db, rm, blobs, c, logger),
	}, httpapi.RouterOptions{
		JWTSecret:          []byte(c.SecretKey),
		RateLimitPerSecond: c.RateLimitPerSecond,
		RateLimitBurst:     c.RateLimitBurst,
		Metrics:            mx,
		Logger:             logger,
	})

	health := gs.NewHealthServer(c.GRPCHealthAddr, 10*time.Second, logger)
	health.AddProbe("database", db.PingContext)
	if rq, ok := q.(*queue.RedisQueue); ok {
		health.AddProbe("queue", rq.Ping)
	}

	return &App{
		config:       c,
		logger:       logger,
		db:           db,
		queue:        q,
		bus:          bus,
		delivery:     delivery,
		orchestrator: orchestrator,
		worker:       worker,
		scheduler:    services.NewScheduler(db, rm, delivery, orchestrator, c.DateScanInterval, c.RecoveryGrace, logger),
		router:       router,
		health:       health,
	}, nil
}

func newBlobStore(ctx context.Context, c *config.Config) (storage.BlobStore, error) {
	switch c.BlobBackend {
	case config.BlobMinio:
		s, err := storage.NewMinioStore(storage.MinioOptions{
			Endpoint:  c.S3BaseEndpoint,
			AccessKey: c.S3RootUser,
			SecretKey: c.S3RootPassword,
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("minio init error: %w", err)
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio bucket: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewS3Store(ctx, storage.S3Options{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		return s, nil
	}
}

func newQueue(c *config.Config) (queue.Queue, error) {
	if c.QueueBackend != config.QueueRedis {
		return queue.NewMemoryQueue(), nil
	}
	q, err := queue.NewRedisQueue(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}, "keepsake")
	if err != nil {
		return nil, fmt.Errorf("redis queue init error: %w", err)
	}
	return q, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// eventHandlers connects the bus to delivery and notification scheduling.
func (app *App) eventHandlers() events.Handlers {
	return events.Handlers{
		OnDeathDeclared: func(ctx context.Context, e events.DeathDeclared) error {
			_, err := app.delivery.ExecuteForDeathTrigger(ctx, e.VaultID)
			return err
		},
		OnDelivered: func(ctx context.Context, e events.KeepsakeDelivered) error {
			_, err := app.orchestrator.ScheduleNotificationsForKeepsake(ctx, e.KeepsakeID, e.VaultID)
			return err
		},
	}
}

func (app *App) runHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run blocks until ctx is cancelled, a signal arrives or a component fails.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				app.logger.Error(ctx, "component failed", "component", name, "error", err)
				cancelFunc()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.bus.Run(ctx, app.eventHandlers())
	}()

	run("worker", app.worker.Run)
	run("scheduler", app.scheduler.Run)
	run("http", app.runHTTP)
	run("grpc_health", app.health.Run)

	wg.Wait()

	if err := app.queue.Close(); err != nil {
		app.logger.Error(context.Background(), "queue close failed", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close failed", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
