package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/stylize-service/internal/api/handler"
	"github.com/cuongbtq/stylize-service/internal/api/router"
	"github.com/cuongbtq/stylize-service/internal/config"
	"github.com/cuongbtq/stylize-service/internal/events"
	"github.com/cuongbtq/stylize-service/internal/inference"
	"github.com/cuongbtq/stylize-service/internal/jobs"
	"github.com/cuongbtq/stylize-service/internal/ledger"
	"github.com/cuongbtq/stylize-service/internal/manager"
	"github.com/cuongbtq/stylize-service/internal/worker"
	"github.com/cuongbtq/stylize-service/shared/logger"
	"github.com/cuongbtq/stylize-service/shared/postgresql"
	"github.com/cuongbtq/stylize-service/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("STYLIZE_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty for defaults)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	slog.SetDefault(appLogger.Logger)

	appLogger.Info("Starting stylize service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := inference.DefaultCatalog(cfg.Inference.DefaultStyle)
	if err != nil {
		return fmt.Errorf("failed to build style catalog: %w", err)
	}

	engine, err := initEngine(&cfg.Inference, catalog, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize inference engine: %w", err)
	}

	// Event sinks, each backend optional
	var (
		sinks        []events.Sink
		history      handler.HistoryReader
		dbClient     *postgresql.Client
		rabbitClient *rabbitmq.Client
	)
	defer func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}()

	if cfg.Database.Enabled {
		dbClient, err = initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		l := ledger.New(dbClient.DB(), appLogger.Logger)
		if err := l.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, l)
		history = l
		appLogger.Info("Transition ledger enabled")
	}

	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		sinks = append(sinks, events.NewRabbitSink(rabbitClient, cfg.RabbitMQ.RoutingKey))
		appLogger.Info("Event publishing enabled", slog.String("exchange", cfg.RabbitMQ.Exchange.Name))
	}

	if len(sinks) == 0 {
		sinks = append(sinks, events.NewLogSink(appLogger.Logger.Debug))
	}
	bus := events.NewBus(appLogger.Logger, cfg.Jobs.EventBuffer, sinks...)

	// Core: store, pool, manager
	store := jobs.NewStore(cfg.Jobs.Capacity)

	queueSize := cfg.Worker.QueueSize
	if queueSize == 0 {
		queueSize = cfg.Jobs.Capacity
	}
	pool := worker.NewPool(&worker.Config{
		Logger:      appLogger.Logger,
		Store:       store,
		Engine:      engine,
		Events:      bus,
		Concurrency: cfg.Worker.Concurrency,
		QueueSize:   queueSize,
		JobTimeout:  cfg.Worker.JobTimeout,
	})

	mgr := manager.New(&manager.Config{
		Logger:    appLogger.Logger,
		Store:     store,
		Scheduler: pool,
		Styles:    catalog,
		Events:    bus,
		Limits: manager.Limits{
			FastMaxSide:  cfg.Inference.FastMaxSide,
			SlowMaxSide:  cfg.Inference.SlowMaxSide,
			MaxSideLimit: cfg.Inference.MaxSideLimit,
			MaxPixels:    cfg.Inference.MaxPixels,
		},
		Retention:     cfg.Jobs.Retention,
		SweepInterval: cfg.Jobs.SweepInterval,
	})

	deps := &handler.Dependencies{
		Logger:         appLogger.Logger,
		Jobs:           mgr,
		Styles:         catalog,
		History:        history,
		Queue:          pool,
		Events:         bus,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}
	if dbClient != nil {
		deps.Database = dbClient
	}
	r := initRouter(cfg, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Workers and the bus outlive the HTTP server during shutdown
	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	busCtx, cancelBus := context.WithCancel(context.Background())
	defer cancelBus()

	busDone := make(chan error, 1)
	go func() { busDone <- bus.Run(busCtx) }()

	pool.Start(poolCtx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return mgr.RunJanitor(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()

	stopPool(pool, cancelPool, cfg.Worker.ShutdownTimeout, appLogger.Logger)

	cancelBus()
	<-busDone

	if runErr != nil {
		return runErr
	}

	appLogger.Info("Stylize service shutdown complete")
	return nil
}

// stopPool waits for in-flight jobs, then cancels their contexts once the timeout elapses
func stopPool(pool *worker.Pool, cancel context.CancelFunc, timeout time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	if timeout <= 0 {
		cancel()
		<-done
		return
	}

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("Worker shutdown timed out, interrupting in-flight jobs",
			slog.Duration("shutdown_timeout", timeout),
		)
		cancel()
		<-done
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initEngine builds the configured inference engine
func initEngine(cfg *config.InferenceConfig, catalog *inference.Catalog, logger *slog.Logger) (inference.Engine, error) {
	switch cfg.Engine {
	case config.EngineRemote:
		logger.Info("Using remote inference engine", slog.String("base_url", cfg.Remote.BaseURL))
		return inference.NewRemoteEngine(inference.RemoteOptions{
			BaseURL: cfg.Remote.BaseURL,
			Path:    cfg.Remote.Path,
			Timeout: cfg.Remote.Timeout,
			Logger:  logger,
		})
	default:
		logger.Info("Using local inference engine", slog.Any("styles", catalog.Names()))
		return inference.NewLocalEngine(catalog, logger), nil
	}
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ publisher
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
