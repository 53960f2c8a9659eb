package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type AppProvider interface {
	Run() error
	Serve() func() error
	Stop(context.Context, context.Context) func() error
}

type App struct {
	logger         *zap.Logger
	config         *Config
	server         *http.Server
	cleanups       []func()
	queueConsumers []func(context.Context) error
}

// storages groups the catalog and ledger backends of the selected driver.
type storages struct {
	books  BookStorage
	ledger LedgerStorage
	close  func()
}

// NewApp provides an instance of App.
func NewApp() (AppProvider, error) {
	config, err := LoadAndInitConfigs(GitCommit, GitTag, BuildTime)
	if err != nil {
		return nil, fmt.Errorf("failed to setup app configuration: %s", err)
	}

	clock := NewClock(config.IsProduction)
	logWriter := NewRSyncWriter(config, clock)
	logger, flusher := SetupLogging(config, logWriter, NewTickClock(clock))
	// cleanups run in reverse order so logs are flushed before the file is closed.
	cleanups := []func(){
		func() {
			if err := logWriter.Close(); err != nil {
				fmt.Println("error during closing of log file: ", err)
			}
		},
		func() {
			if err := flusher(); err != nil {
				fmt.Println("error during flushing of logs: ", err)
			}
		},
	}
	clean := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Redis always backs the events queues.
	redisClient, err := GetRedisClient(config)
	if err != nil {
		_ = redisClient.Close()
		clean()
		return nil, fmt.Errorf("failed to connect to redis server: %s", err)
	}
	cleanups = append(cleanups, func() { _ = redisClient.Close() })

	store, err := setupStorages(context.Background(), config, logger, redisClient)
	if err != nil {
		clean()
		return nil, err
	}
	cleanups = append(cleanups, store.close)

	boltDBClient, err := GetBoltDBClient(config)
	if err != nil {
		clean()
		return nil, fmt.Errorf("failed to open boltDB journal: %s", err)
	}
	journal := NewBoltJournalStorage(logger, &config.BoltDB, boltDBClient)
	cleanups = append(cleanups, func() {
		if err := journal.Close(); err != nil {
			logger.Error("failed to close journal", zap.Error(err))
		}
	})

	redisQueue := NewRedisQueue(redisClient)
	journalConsumer := NewJournalConsumer(logger, redisQueue, journal)
	journalConsume := func(ctx context.Context) error {
		return journalConsumer.Consume(ctx, CatalogQueue, LendingQueue)
	}

	locks := NewKeyedMutex()
	bookCache := NewBookCache(config.Cache.Size, config.Cache.TTL)
	catalogService := NewCatalogService(logger, config, clock, locks, store.books, redisQueue, bookCache)
	consumers := []func(ctx context.Context) error{journalConsume}
	if bookCache != nil {
		// instances sharing the store drop each other's changed books.
		catalogService.WithCacheNotifier(NewRedisCacheNotifier(redisClient))
		consumers = append(consumers, catalogService.SyncCache)
	}
	lendingService := NewLendingService(logger, clock, locks, store.books, store.ledger, redisQueue)

	apiService := NewAPIHandler(
		logger,
		config,
		&Statistics{
			version:   config.GitTag,
			container: IsAppRunningInDocker(),
			started:   clock.Now(),
			runtime:   runtime.Version(),
			platform:  runtime.GOOS + "/" + runtime.GOARCH,
		},
		clock,
		NewIDsHandler(),
		catalogService,
		lendingService,
		journal,
	)

	// Use git commit in case the tag is not set.
	if config.GitTag == "" {
		apiService.stats.version = config.GitCommit
	}

	// Build the map of middlewares stacks.
	middlewaresPublic, middlewaresOps := apiService.MiddlewaresStacks()

	// Configure the endpoints with their handlers and middlewares.
	router := apiService.SetupRoutes(httprouter.New(),
		&MiddlewareMap{
			public: middlewaresPublic.Chain,
			ops:    middlewaresOps.Chain,
		},
	)
	// Wrap the router with the default http timeout handler.
	routerWithTimeout := http.TimeoutHandler(
		router,
		config.Server.RequestTimeout,
		"Timeout. Processing taking too long. Please reach out to support.")

	// Build the api server definition.
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port),
		Handler:        routerWithTimeout,
		ReadTimeout:    config.Server.ReadTimeout,
		WriteTimeout:   config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // Max headers size : 1MB
		ConnContext:    SaveConnInContext,
	}

	return &App{
		logger:         logger,
		config:         config,
		server:         srv,
		cleanups:       cleanups,
		queueConsumers: consumers,
	}, nil
}

// setupStorages builds the catalog and ledger storages of the configured driver.
func setupStorages(ctx context.Context, config *Config, logger *zap.Logger, redisClient *redis.Client) (*storages, error) {
	switch config.Storage.Driver {
	case StorageDriverPostgres:
		if err := MigratePostgres(config, logger); err != nil {
			return nil, fmt.Errorf("failed to migrate postgres database: %s", err)
		}
		pool, err := GetPostgresPool(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres server: %s", err)
		}
		return postgresStorages(logger, pool), nil
	default:
		return &storages{
			books:  NewRedisBookStorage(logger, redisClient, config.Redis.TxMaxRetries),
			ledger: NewRedisLedgerStorage(logger, redisClient, config.Redis.TxMaxRetries),
			close:  func() {},
		}, nil
	}
}

func postgresStorages(logger *zap.Logger, pool *pgxpool.Pool) *storages {
	return &storages{
		books:  NewPostgresBookStorage(logger, pool),
		ledger: NewPostgresLedgerStorage(logger, pool),
		close:  pool.Close,
	}
}

// Run starts the api web server and a goroutine which is responsible to stop it.
func (app *App) Run() error {
	defer app.Clean()
	nCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(nCtx)

	g.Go(app.ConsumeQueues(gCtx, g))
	g.Go(app.Serve())
	g.Go(app.Stop(nCtx, gCtx))

	err := g.Wait()
	app.logger.Info("api server stopped",
		zap.String("app.host", app.config.Server.Host),
		zap.String("app.port", app.config.Server.Port),
		zap.Error(err),
	)
	return err
}

// Clean calls all registered cleanups functions in reverse order.
func (app *App) Clean() {
	for i := len(app.cleanups) - 1; i >= 0; i-- {
		app.cleanups[i]()
	}
}

// Serve starts the api web server. It returned error
// will be caught by the errorgroup.
func (app *App) Serve() func() error {
	return func() error {
		app.logger.Info("api server starting",
			zap.String("app.host", app.config.Server.Host),
			zap.String("app.port", app.config.Server.Port),
			zap.String("app.storage", app.config.Storage.Driver),
		)
		err := app.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return err
	}
}

// Stop listens for the group context and triggers the server graceful shutdown.
// It states the reason of its call. We proceed with a brutal shutdown if the
// the graceful did not complete successfully. We explicitly return `nil` to
// allow the errorgroup catches only the `Serve` method result.
func (app *App) Stop(nCtx, gCtx context.Context) func() error {
	return func() error {
		<-gCtx.Done()

		if nCtx.Err() != nil {
			app.logger.Info("api server stopping. reason: requested to stop")
		} else {
			app.logger.Info("api server stopping. reason: errored at running")
		}

		sCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()
		err := app.server.Shutdown(sCtx)
		switch {
		case err == nil, errors.Is(err, http.ErrServerClosed):
			app.logger.Info("api server graceful shutdown succeeded")
		case errors.Is(err, context.DeadlineExceeded):
			app.logger.Info("api server graceful shutdown timed out")
		default:
			app.logger.Info("api server graceful shutdown failed", zap.Error(err))
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Info("api server going to force shutdown", zap.Error(app.server.Close()))
		}
		return nil
	}
}

// ConsumeQueues runs all queue consumers into separate controlled goroutines.
func (app *App) ConsumeQueues(gCtx context.Context, g *errgroup.Group) func() error {
	return func() error {
		for _, consume := range app.queueConsumers {
			f := func() error {
				return consume(gCtx)
			}
			g.Go(f)
		}
		return nil
	}
}
