package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"story-engine/internal/ai"
	"story-engine/internal/config"
	"story-engine/internal/consistency"
	"story-engine/internal/logger"
	"story-engine/internal/media"
	"story-engine/internal/messaging"
	"story-engine/internal/pipeline"
	"story-engine/internal/repository"
	"story-engine/internal/worker"
	"story-engine/internal/workflow"
	"story-engine/migrations"
	"story-engine/pkg/migration"
)

const (
	dbConnectAttempts  = 50
	dbRetryDelay       = 3 * time.Second
	mqConnectAttempts  = 5
	mqRetryDelay       = 5 * time.Second
	metricsPushEvery   = 15 * time.Second
	httpShutdownPeriod = 15 * time.Second
)

// stores - хранилища, выбранные по CHECKPOINT_BACKEND.
type stores struct {
	checkpoints workflow.CheckpointStore
	credits     workflow.CreditStore
	locker      workflow.Locker
	bibles      pipeline.BibleStore
	index       consistency.SimilarityIndex
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	cfg.LogSummary(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Worker stopped with error", zap.Error(err))
	}
	log.Info("Worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	metricsServer := startMetricsServer(cfg.MetricsPort, log)
	defer shutdownHTTP(metricsServer, log)

	if cfg.PushgatewayURL != "" {
		pusher, err := worker.NewMetricsPusher(cfg.PushgatewayURL, log)
		if err != nil {
			log.Warn("Pushgateway unavailable, metrics are served by /metrics only", zap.Error(err))
		} else {
			go pusher.Run(ctx, metricsPushEvery)
		}
	}

	st, cleanup, err := setupStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	generator, err := ai.NewTextGenerator(cfg, log)
	if err != nil {
		return fmt.Errorf("init text generator: %w", err)
	}
	images := media.NewImageGenerator(cfg.Media, log)
	audio := media.NewAudioGenerator(cfg.Media, log)
	video := media.NewVideoGenerator(cfg.Media, log)
	checker := consistency.NewChecker(st.index, cfg.ConsistencyResultsPerQuery, log)

	steps := workflow.NewSteps(cfg, generator, images, audio, st.credits, log)
	engine, err := workflow.NewEngine(cfg, workflow.Deps{
		Steps:       steps,
		Worlds:      workflow.NewWorldCatalog(cfg.WorldsDir, log),
		Checkpoints: st.checkpoints,
		Credits:     st.credits,
		Locker:      st.locker,
		Checker:     checker,
	}, log)
	if err != nil {
		return fmt.Errorf("init workflow engine: %w", err)
	}
	stories, err := pipeline.New(cfg, pipeline.Deps{
		Generator: generator,
		Images:    images,
		Audio:     audio,
		Video:     video,
		Bibles:    st.bibles,
		Checker:   checker,
	}, log)
	if err != nil {
		return fmt.Errorf("init story pipeline: %w", err)
	}

	conn, err := connectRabbitMQ(cfg.RabbitMQURL, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	pubCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open publisher channel: %w", err)
	}
	defer pubCh.Close()
	if err := messaging.DeclareTopology(pubCh, messaging.Topology{
		TaskQueues:         []string{cfg.TurnTaskQueue, cfg.StoryTaskQueue},
		ResultQueue:        cfg.ResultQueue,
		DeadLetterExchange: cfg.DeadLetterExchange,
		PrefetchCount:      1,
	}, log); err != nil {
		return err
	}

	publisher := messaging.NewRabbitMQPublisher(pubCh, cfg.ResultQueue, log)
	handler := worker.NewTaskHandler(engine, stories, publisher, cfg.TaskTimeout, log)

	consumers := []*messaging.Consumer{
		messaging.NewConsumer(conn, cfg.TurnTaskQueue, handler.HandleTurnTask, log),
		messaging.NewConsumer(conn, cfg.StoryTaskQueue, handler.HandleStoryTask, log),
	}
	for _, c := range consumers {
		if err := c.Start(ctx); err != nil {
			return err
		}
	}
	log.Info("Worker is waiting for tasks",
		zap.String("turn_queue", cfg.TurnTaskQueue),
		zap.String("story_queue", cfg.StoryTaskQueue))

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case amqpErr := <-connClosed:
		log.Error("RabbitMQ connection closed", zap.Any("reason", amqpErr))
	}

	for _, c := range consumers {
		if err := c.Stop(); err != nil {
			log.Warn("Consumer stop failed", zap.Error(err))
		}
	}
	return nil
}

func setupStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, func(), error) {
	if cfg.CheckpointBackend == "memory" {
		log.Warn("Using in-memory stores, state is lost on restart")
		return &stores{
			checkpoints: repository.NewMemoryCheckpointStore(),
			credits:     repository.NewMemoryCreditStore(cfg.Story.CreditsPerNewUser),
			locker:      repository.NewMemoryLocker(),
			bibles:      repository.NewMemoryBibleStore(),
			index:       repository.NewMemorySimilarityIndex(),
		}, func() {}, nil
	}

	pool, err := setupDatabase(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	migrator := migration.NewMigrator(migration.Config{MigrationsFS: migrations.FS}, pool)
	if err := migrator.Up(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
	}
	log.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	st := &stores{
		credits: repository.NewPostgresCreditStore(pool, cfg.Story.CreditsPerNewUser, log),
		locker:  repository.NewRedisLocker(rdb, log),
		bibles:  repository.NewPostgresBibleStore(pool, repository.NewTransactionHelper(pool, log), log),
		index:   repository.NewPostgresSimilarityIndex(pool, log),
	}
	switch cfg.CheckpointBackend {
	case "redis":
		st.checkpoints = repository.NewRedisCheckpointStore(rdb, cfg.CheckpointTTL, log)
	default:
		st.checkpoints = repository.NewPostgresCheckpointStore(pool, log)
	}
	log.Info("Stores initialized", zap.String("checkpoint_backend", cfg.CheckpointBackend))

	cleanup := func() {
		if err := rdb.Close(); err != nil {
			log.Warn("Redis close failed", zap.Error(err))
		}
		pool.Close()
	}
	return st, cleanup, nil
}

// setupDatabase подключается к PostgreSQL с повторами, пока база поднимается.
func setupDatabase(ctx context.Context, cfg *config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	var lastErr error
	for attempt := 1; attempt <= dbConnectAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err := pgxpool.NewWithConfig(attemptCtx, poolConfig)
		if err == nil {
			if err = pool.Ping(attemptCtx); err == nil {
				cancel()
				log.Info("Connected to PostgreSQL", zap.Int("attempt", attempt))
				return pool, nil
			}
			pool.Close()
		}
		cancel()
		lastErr = err
		log.Warn("PostgreSQL not ready", zap.Int("attempt", attempt), zap.Int("max_attempts", dbConnectAttempts), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dbRetryDelay):
		}
	}
	return nil, fmt.Errorf("connect to database after %d attempts: %w", dbConnectAttempts, lastErr)
}

func connectRabbitMQ(url string, log *zap.Logger) (*amqp.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= mqConnectAttempts; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			log.Info("Connected to RabbitMQ")
			return conn, nil
		}
		lastErr = err
		log.Warn("RabbitMQ not ready", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(mqRetryDelay)
	}
	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", mqConnectAttempts, lastErr)
}

func startMetricsServer(port string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	})
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Metrics server listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("Metrics server shutdown failed", zap.Error(err))
	}
}
