package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/educapro/notifier/internal/config/notifier"
	"github.com/educapro/notifier/internal/domain/notification"
	"github.com/educapro/notifier/internal/obs"
	"github.com/educapro/notifier/internal/render"
	kafkax "github.com/educapro/notifier/internal/repository/kafka"
	pg "github.com/educapro/notifier/internal/repository/postgres"
	"github.com/educapro/notifier/internal/repository/taskapi"
	"github.com/educapro/notifier/internal/services/httpapi"
	"github.com/educapro/notifier/internal/services/notifier"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config/notifier.yaml", "path to config file")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}

	l.Info("starting notifier",
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.Any("kafka_in", cfg.In),
		zap.String("tasks_base_url", cfg.Tasks.BaseURL),
	)

	otelCloser, err := obs.SetupOTel(rootCtx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	db, err := pg.New(rootCtx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	prod := kafkax.NewProducer(cfg.Out.Brokers, cfg.Out.Topic).WithLogger(l)
	defer func() { _ = prod.Close() }()
	events := kafkax.NewNotificationEvents(prod, l)

	cons := kafkax.BootstrapConsumer(rootCtx, cfg.In.AsConsumerConfig(), l).WithLogger(l)
	defer func() { _ = cons.Close() }()

	store := pg.NewNotificationRepo(db)
	channels := notifier.NewDispatcher().
		Register(notification.ChannelEmail, notifier.NewMailer(cfg.SMTP).WithLogger(l)).
		Register(notification.ChannelPush, notifier.NewStubSender(notification.ChannelPush, l)).
		Register(notification.ChannelSMS, notifier.NewStubSender(notification.ChannelSMS, l))

	engine := notifier.NewEngine(l, store, render.New(), channels).WithEvents(events)
	tasks := taskapi.New(cfg.Tasks, l)
	scanner := notifier.NewReminderScanner(l, tasks, engine, notifier.NewMemorySeen())
	reconciler := notifier.NewReconciler(l, store, engine)
	runner := notifier.NewRunner(l, scanner, reconciler, &cfg.Sched)
	intake := notifier.NewIntake(l, cons, engine)
	api := httpapi.NewServer(l, cfg.Server.HTTPAddr, engine, reconciler)

	errCh := make(chan error, 3)
	go func() { errCh <- runner.Run(rootCtx) }()
	go func() { errCh <- intake.Run(rootCtx) }()
	go func() { errCh <- api.Run(rootCtx) }()

	var runErr error
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr = <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("service error", zap.Error(runErr))
		}
	}
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
