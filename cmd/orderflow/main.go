package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ivanpodgorny/orderflow/internal/broker"
	"github.com/ivanpodgorny/orderflow/internal/client"
	"github.com/ivanpodgorny/orderflow/internal/config"
	"github.com/ivanpodgorny/orderflow/internal/handler"
	"github.com/ivanpodgorny/orderflow/internal/middleware"
	"github.com/ivanpodgorny/orderflow/internal/migrations"
	"github.com/ivanpodgorny/orderflow/internal/receipt"
	"github.com/ivanpodgorny/orderflow/internal/repository"
	"github.com/ivanpodgorny/orderflow/internal/service"
	"github.com/ivanpodgorny/orderflow/internal/telemetry"
	"github.com/ivanpodgorny/orderflow/internal/validator"
	"github.com/ivanpodgorny/orderflow/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const (
	serviceName     = "orderflow"
	consumerTag     = "orderflow-fulfillment"
	currency        = "R$"
	shutdownTimeout = 10 * time.Second
)

var (
	errDeliveriesClosed = errors.New("task deliveries channel closed")
	errBrokerClosed     = errors.New("broker connection closed")
)

func main() {
	if err := Execute(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("сервис остановлен с ошибкой", slog.Any("error", err))
		os.Exit(1)
	}
}

func Execute() (err error) {
	cfg, err := config.NewBuilder().LoadDotEnv().LoadFlags().LoadEnv().Build()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel()),
	})))

	shutdownTracing, err := telemetry.Init(cfg.JaegerEndpoint(), serviceName)
	if err != nil {
		return err
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("не удалось остановить экспорт трассировки", slog.Any("error", err))
		}
	}()

	db, err := sql.Open("pgx", cfg.DatabaseURI())
	if err != nil {
		return err
	}

	defer func(db *sql.DB) {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}(db)

	if err := migrations.Up(db); err != nil {
		return err
	}

	amqpClient, err := broker.Dial(cfg.AMQPURI())
	if err != nil {
		return err
	}

	defer func(c *broker.Client) {
		if cerr := c.Close(); cerr != nil {
			slog.Warn("не удалось закрыть соединение с брокером", slog.Any("error", cerr))
		}
	}(amqpClient)

	topology := broker.Topology{
		TaskQueue:       cfg.TaskQueue(),
		DeadLetterQueue: cfg.DeadLetterQueue(),
		EventsExchange:  cfg.EventsExchange(),
	}
	ch, err := amqpClient.Channel()
	if err != nil {
		return err
	}

	if err := broker.DeclareTopology(ch, topology); err != nil {
		return err
	}

	if err := ch.Close(); err != nil {
		return err
	}

	deliveries, err := amqpClient.Consume(cfg.TaskQueue(), consumerTag, cfg.BatchSize())
	if err != nil {
		return err
	}

	validationEngine, err := validator.NewEngine()
	if err != nil {
		return err
	}

	var (
		ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		r         = chi.NewRouter()
		wg        = &sync.WaitGroup{}
		ledger    = repository.NewOrder(db)
		tasks     = broker.NewTaskQueue(amqpClient, cfg.TaskQueue())
		is        = service.NewIntake(validator.New(validationEngine), ledger, tasks)
		fs        = service.NewFulfillment(
			ledger,
			client.NewDocuments(
				cfg.DocumentStoreURL(),
				cfg.DocumentBucket(),
				cfg.CallTimeout(),
				cfg.StoreRetryCount(),
				cfg.StoreRetryInterval(),
			),
			broker.NewBus(amqpClient, cfg.EventsExchange()),
			receipt.NewRenderer(time.Local, currency),
			service.FulfillmentConfig{
				StaffAlerts:  cfg.StaffAlerts(),
				Concurrency:  cfg.TaskConcurrency(),
				CallTimeout:  cfg.CallTimeout(),
				BatchTimeout: cfg.BatchTimeout(),
			},
		)
		cw = worker.NewConsumer(fs, tasks, ledger, deliveries, wg, worker.ConsumerConfig{
			BatchSize:   cfg.BatchSize(),
			BatchWait:   cfg.BatchWait(),
			MaxAttempts: cfg.MaxAttempts(),
		})
		rw = worker.NewRepublisher(ledger, tasks, wg, cfg.RepublishInterval(), cfg.RepublishAfter())
		oh = handler.NewOrder(is)
	)

	defer func() {
		stop()
		wg.Wait()
	}()

	cw.Do(ctx)
	rw.Do(ctx)

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Traceparent"},
		MaxAge:         300,
	}))
	r.Use(middleware.Trace)

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", oh.Create)
		r.Get("/{id}", oh.Get)
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP-сервер запущен", slog.String("address", srv.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	case <-cw.Done():
		err = errDeliveriesClosed
	case amqpErr := <-amqpClient.Closed():
		err = fmt.Errorf("%w: %v", errBrokerClosed, amqpErr)
	}

	if err != nil {
		slog.Error("обработка заказов остановлена, сервис завершает работу", slog.Any("error", err))
	}

	slog.Info("остановка HTTP-сервера")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}

	return err
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
