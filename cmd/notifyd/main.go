package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/DavidGamba/go-getoptions"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/bus"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/config"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/consumer"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/gateway"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/routes"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/scheduler"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/services"
	"github.com/cuonglevan23/taskflow-backend-sub002/pkg/logger"
	"github.com/cuonglevan23/taskflow-backend-sub002/pkg/metrics"
)

type commandLineOptionValues struct {
	EnvFile string
}

func parseCommandLine() *commandLineOptionValues {
	optionValues := &commandLineOptionValues{}
	opt := getoptions.New()

	opt.Bool("help", false, opt.Alias("h", "?"))
	opt.StringVar(&optionValues.EnvFile, "env-file", "",
		opt.Alias("e"),
		opt.Description("a dotenv file to load before reading the environment"))

	_, err := opt.Parse(os.Args[1:])
	if opt.Called("help") {
		fmt.Fprint(os.Stderr, opt.Help())
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		fmt.Fprint(os.Stderr, opt.Help(getoptions.HelpSynopsis))
		os.Exit(1)
	}
	return optionValues
}

func main() {
	optionValues := parseCommandLine()

	cfg, err := config.LoadFrom(optionValues.EnvFile)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.NewWithFormat(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	logr.Info("starting notification service",
		slog.String("app", cfg.AppName),
		slog.String("bus", cfg.BusDriver),
		slog.String("store", cfg.StoreDriver),
		slog.String("queue", cfg.QueueDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Error("notification service exited", slog.Any("error", err))
		os.Exit(1)
	}
	logr.Info("notification service stopped")
}

func run(ctx context.Context, cfg *config.Config, logr *slog.Logger) error {
	metricsCollector := metrics.New()

	eventBus, err := openBus(cfg, logr)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.close()

	queue, err := openQueue(cfg, logr)
	if err != nil {
		return err
	}
	defer queue.close()

	hub := gateway.NewHub(nil, gateway.Config{}, logr.With(slog.String("component", "gateway")))
	defer hub.Close()

	router := services.NewDeliveryRouter(
		stores.presence,
		queue.queue,
		hub,
		hub,
		queue.status,
		metricsCollector,
		logr.With(slog.String("component", "router")),
		services.RouterConfig{
			PushTimeout:     cfg.PushTimeout,
			DrainBatchSize:  cfg.DrainBatchSize,
			DrainRatePerSec: cfg.DrainRatePerSec,
		},
	)
	hub.SetLifecycle(services.NewSessionLifecycle(stores.presence, router, stores.counter, logr))

	mentions, err := newMentionNotifier(cfg, eventBus, metricsCollector, logr)
	if err != nil {
		return err
	}

	handlers := map[string]consumer.Handler{
		bus.TopicNotifications: consumer.NewNotificationConsumer(router, stores.ledger, stores.counter, logr),
		bus.TopicChat:          consumer.NewChatConsumer(router, stores.ledger, stores.counter, mentions, cfg.MentionPreviewChars, logr),
		bus.TopicSystem:        consumer.NewSystemConsumer(router, stores.ledger, stores.counter, logr),
	}

	tasks, err := openTasks(cfg)
	if err != nil {
		return err
	}
	if tasks != nil {
		defer tasks.Close()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var reminders *scheduler.Service
	if tasks == nil {
		logr.Warn("TASK_DATABASE_URL not set, deadline reminders disabled")
	} else {
		reminders, err = startReminders(runCtx, cfg, tasks, stores.ledger, eventBus, metricsCollector, logr)
		if err != nil {
			return err
		}
	}

	errs := make(chan error, len(handlers))
	var wg sync.WaitGroup
	for topic, handler := range handlers {
		d := consumer.NewDispatcher(eventBus, topic, cfg.WorkerCount, cfg.MaxDeliveries, logr, metricsCollector)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Start(runCtx, handler); err != nil {
				errs <- fmt.Errorf("%s dispatcher: %w", topic, err)
			}
		}()
	}

	httpSrv := startHTTPServer(cfg.HTTPPort, routes.Deps{
		Metrics:        metricsCollector,
		Publisher:      eventBus,
		Gateway:        hub,
		Logger:         logr,
		Started:        time.Now(),
		PublishTimeout: cfg.IngestPublishLimit,
	}, logr)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if reminders != nil {
		reminders.Stop(shutdownCtx)
	}
	shutdownHTTP(shutdownCtx, httpSrv, logr)
	wg.Wait()
	return runErr
}

func startReminders(ctx context.Context, cfg *config.Config, tasks services.TaskSource, ledger services.Ledger, publisher bus.Publisher, m *metrics.Metrics, logr *slog.Logger) (*scheduler.Service, error) {
	scanner := services.NewReminderScanner(
		tasks,
		ledger,
		services.NewBusReminderSender(publisher, logr),
		cfg.OverdueLookback,
		m,
		logr.With(slog.String("component", "reminders")),
	)
	svc := scheduler.New(scheduler.Config{
		ScanSpec:  cfg.ReminderScanCron,
		SweepSpec: cfg.LedgerSweepCron,
		Timezone:  cfg.SchedulerTZ,
	}, scanner, logr)
	if err := svc.Start(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func startHTTPServer(port string, deps routes.Deps, logr *slog.Logger) *http.Server {
	if port == "" {
		port = "8082"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("http server error", slog.Any("error", err))
		}
	}()
	logr.Info("http server listening", slog.String("addr", srv.Addr))
	return srv
}

func shutdownHTTP(ctx context.Context, srv *http.Server, logr *slog.Logger) {
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
}
