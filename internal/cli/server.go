package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/grading"
	"quiz-attempt-service/internal/infra/memory"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	"quiz-attempt-service/internal/infra/rabbitmq"
	redisinfra "quiz-attempt-service/internal/infra/redis"
	transport "quiz-attempt-service/internal/transport/http"
	"quiz-attempt-service/internal/worker"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz attempt server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var bunDB *bun.DB
	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bunDB = bun.NewDB(sqldb, pgdialect.New())
		defer bunDB.Close()

		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	// Stores: Postgres when configured, in-memory mirrors otherwise.
	var attempts app.AttemptStore
	var outbox app.OutboxStore
	if bunDB != nil {
		attempts = pgstore.NewAttemptStore(bunDB)
		outbox = pgstore.NewOutboxStore(bunDB)
	} else {
		attempts = memory.NewAttemptStore()
		outbox = memory.NewOutboxStore()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
	}

	catalogTTL := config.Duration(cfg.Catalog.TTL, 10*time.Minute)
	var catalog app.QuizCatalog
	if redisClient != nil {
		catalog = redisinfra.NewQuizCatalog(redisClient, loader, catalogTTL)
	} else {
		catalog = memory.NewQuizCatalog(loader)
	}

	var deadlines app.DeadlineIndex
	if redisClient != nil {
		deadlines = redisinfra.NewDeadlineIndex(redisClient)
	} else {
		deadlines = memory.NewDeadlineIndex()
	}

	var broker worker.Broker
	if cfg.Broker.URL != "" {
		exchange := cfg.Broker.Exchange
		if exchange == "" {
			exchange = "quiz.events"
		}
		pub, err := rabbitmq.Dial(cfg.Broker.URL, exchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		broker = pub
	} else {
		broker = logBroker{}
	}

	policy := app.DeadlinePolicy{
		Ceiling: config.Duration(cfg.Deadline.Ceiling, 4*time.Hour),
		Grace:   config.Duration(cfg.Deadline.Grace, 5*time.Second),
		MinTTL:  config.Duration(cfg.Deadline.MinTTL, time.Second),
	}

	notifier := app.NewNotifier()
	emitter := app.NewEventEmitter(outbox)
	lifecycle := app.NewLifecycle(attempts, emitter, catalog, grading.DefaultRegistry(), deadlines, policy, notifier)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	expiry := worker.NewExpiryWorker(deadlines, lifecycle,
		config.Duration(cfg.Expiry.Interval, time.Second), cfg.Expiry.Batch)
	go expiry.Run(workerCtx)

	publisher := worker.NewOutboxPublisher(outbox, broker, worker.PublisherConfig{
		Interval:    config.Duration(cfg.Outbox.Interval, time.Second),
		Batch:       cfg.Outbox.Batch,
		StaleLease:  config.Duration(cfg.Outbox.StaleLease, time.Minute),
		BackoffBase: config.Duration(cfg.Outbox.BackoffBase, time.Second),
		BackoffCap:  config.Duration(cfg.Outbox.BackoffCap, 5*time.Minute),
	})
	go publisher.Run(workerCtx)

	handler := transport.NewHandler(lifecycle)
	watch := transport.NewWatchHandler(lifecycle, notifier)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)
	mux.HandleFunc("GET /attempts/{id}/watch", watch.ServeWatch)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz attempt service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	stopWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// logBroker stands in for RabbitMQ in dev mode: events "publish" to the log.
type logBroker struct{}

func (logBroker) Publish(_ context.Context, topic, key string, payload []byte) error {
	log.Printf("publish topic=%s key=%s payload=%s", topic, key, payload)
	return nil
}

// sampleQuizzes provides minimal quiz data for dev mode; production loads
// quiz documents from Postgres.
func sampleQuizzes() map[string]domain.QuizDoc {
	return map[string]domain.QuizDoc{
		"quiz-1": {
			ID:           "quiz-1",
			RootID:       "quiz-1",
			Version:      1,
			Type:         grading.TypeChoice,
			Title:        "Arithmetic warmup",
			TimeLimitSec: 300,
			Items: []domain.Item{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points: 1,
				},
			},
		},
	}
}
