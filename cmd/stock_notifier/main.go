package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"stock_notifier/internal/config"
	lineCallback "stock_notifier/internal/http-server/handlers/line/callback"
	lineLogin "stock_notifier/internal/http-server/handlers/line/login"
	lastRun "stock_notifier/internal/http-server/handlers/runs/last"
	runTrigger "stock_notifier/internal/http-server/handlers/runs/trigger"
	"stock_notifier/internal/http-server/handlers/waitlist/register"
	"stock_notifier/internal/lib/jwt"
	"stock_notifier/internal/lib/logger/sl"
	"stock_notifier/internal/lib/trigger"
	authMiddlware "stock_notifier/internal/middleware/auth"
	"stock_notifier/internal/middleware/waitlist"
	"stock_notifier/internal/monitor"
	"stock_notifier/internal/rabbitmq"
	"stock_notifier/internal/scheduler"
	"stock_notifier/internal/storage/postgres"
	"stock_notifier/internal/storage/redis"
	"stock_notifier/internal/transport/email"
	"stock_notifier/internal/transport/line"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "path to the config file")
	once := flag.Bool("once", false, "run one monitoring cycle and exit")
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	log := setupLogger(cfg.Env)

	log.Info("starting stock notifier", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	registry, err := monitor.NewRegistry(cfg.Intents)
	if err != nil {
		log.Error("invalid intent configuration", sl.Err(err))
		os.Exit(1)
	}

	// * Инициализация Redis
	redisClient, err := redis.New(ctx, redis.Options{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.Db,
		LockKey:   cfg.Redis.LockKey,
		LockTTL:   cfg.Redis.LockTTL,
		ReportKey: cfg.Redis.ReportKey,
		ReportTTL: cfg.Redis.ReportTTL,
	})
	if err != nil {
		log.Error("failed to connect redis", sl.Err(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// * Инициализация PostgreSQL
	postgresClient, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgreSQL", sl.Err(err))
		os.Exit(1)
	}
	defer postgresClient.Close()

	if err := postgresClient.EnsureSchema(ctx, registry.Tables()...); err != nil {
		log.Error("failed to prepare schema", sl.Err(err))
		os.Exit(1)
	}

	// * Транспорты доставки
	var pusher monitor.Pusher
	if cfg.Line.PushEnabled {
		pusher = line.NewPushClient(cfg.Line.PushURL, cfg.Line.ChannelAccessToken, cfg.Line.PushRatePerSec)
	}
	dispatcher := monitor.NewDispatcher(registry, email.New(cfg.SMTP), pusher)

	// * Инициализация RabbitMQ (опционально)
	var (
		events   monitor.Publisher
		consumer *rabbitmq.Consumer
	)
	if cfg.RabbitMQ.URL != "" {
		rabbitMQClient, err := rabbitmq.New(cfg.RabbitMQ.URL)
		if err != nil {
			log.Error("failed to connect rabbitMQ", sl.Err(err))
			os.Exit(1)
		}
		defer rabbitMQClient.Close()

		if err := rabbitMQClient.DeclareQueues(cfg.RabbitMQ.EventsQueue, cfg.RabbitMQ.TriggerQueue); err != nil {
			log.Error("failed to declare queues", sl.Err(err))
			os.Exit(1)
		}

		if cfg.RabbitMQ.EventsQueue != "" {
			events = rabbitmq.NewProducer(rabbitMQClient.Channel, cfg.RabbitMQ.EventsQueue)
		}
		if cfg.RabbitMQ.TriggerQueue != "" {
			consumer = rabbitmq.NewConsumer(
				rabbitMQClient.Channel,
				log,
				cfg.RabbitMQ.TriggerQueue,
				cfg.RabbitMQ.WorkerPoolSize,
			)
		}
	}

	runner := monitor.New(log, postgresClient, redisClient, registry, dispatcher, monitor.Options{
		LockWait: cfg.Monitor.LockWait,
		Events:   events,
		Reports:  redisClient,
	})

	if *once {
		report, err := runner.RunMonitoringCycle(ctx)
		if err != nil {
			log.Error("run failed", slog.String("run_id", report.RunID), sl.Err(err))
			os.Exit(1)
		}
		log.Info("run finished", slog.String("run_id", report.RunID), slog.String("state", string(report.State)))
		return
	}

	sched, err := scheduler.New(log, runner, cfg.Monitor.Schedule, cfg.Monitor.Timezone)
	if err != nil {
		log.Error("invalid schedule", sl.Err(err))
		os.Exit(1)
	}
	sched.Start(ctx)
	defer sched.Stop()

	if consumer != nil {
		if err := trigger.New(log, runner).Run(ctx, consumer); err != nil {
			log.Error("failed to consume trigger queue", sl.Err(err))
			os.Exit(1)
		}
	}

	waitlistOp := waitlist.New(postgresClient, registry)

	router := setupRouter(log, cfg, validator.New(), waitlistOp, runner, redisClient)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting http server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", sl.Err(err))
	}

	log.Info("stock notifier stopped")
}

func setupRouter(
	log *slog.Logger,
	cfg *config.Config,
	validate *validator.Validate,
	waitlistOp *waitlist.WaitlistOperator,
	runner *monitor.Runner,
	reports *redis.RedisRepo,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(authMiddlware.AuthMiddleware(cfg.Intake.APIToken))

		r.Post("/waitlist", register.New(log, waitlistOp, validate))
		r.Post("/runs", runTrigger.New(log, runner, cfg.HTTPServer.RunTimeout))
		r.Get("/runs/last", lastRun.New(log, reports))
	})

	loginClient := line.NewLoginClient(cfg.Line.Login)
	if loginClient.Configured() && cfg.Line.Login.StateSecret != "" {
		states := jwt.New(cfg.Line.Login.StateSecret, cfg.Line.Login.StateTTL)

		r.Get("/line/login", lineLogin.New(log, states, loginClient))
		r.Get("/line/callback", lineCallback.New(log, states, loginClient, waitlistOp))
	} else {
		log.Warn("LINE login is not configured, identity linking disabled")
	}

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
