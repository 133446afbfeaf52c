package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/tomasmejiag0/puracalle-food/internal/blob"
	"github.com/tomasmejiag0/puracalle-food/internal/config"
	"github.com/tomasmejiag0/puracalle-food/internal/db"
	grpcserver "github.com/tomasmejiag0/puracalle-food/internal/grpc"
	"github.com/tomasmejiag0/puracalle-food/internal/httpapi"
	"github.com/tomasmejiag0/puracalle-food/internal/logger"
	"github.com/tomasmejiag0/puracalle-food/internal/notify"
	"github.com/tomasmejiag0/puracalle-food/internal/orders"
	"github.com/tomasmejiag0/puracalle-food/internal/realtime"
	"github.com/tomasmejiag0/puracalle-food/internal/routing"
	"github.com/tomasmejiag0/puracalle-food/internal/telemetry"
	"github.com/tomasmejiag0/puracalle-food/internal/tracking"
	"github.com/tomasmejiag0/puracalle-food/models"
	"github.com/tomasmejiag0/puracalle-food/repository"
)

func main() {
	// Load configuration
	cfg, err := config.LoadWithDefaults()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg := logger.New(cfg.Service.Name, cfg.Service.LogLevel)
	defer func() { _ = lg.Sync() }()
	lg.Info("configuration loaded", logger.String("config", cfg.String()))

	if err := run(cfg, lg); err != nil {
		lg.Error("server stopped", logger.Error(err))
		_ = lg.Sync()
		log.Fatal(err)
	}
}

func run(cfg *config.Config, lg logger.ILogger) error {
	tel, err := telemetry.Init(cfg.Service.Name, cfg.Telemetry.JaegerEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			lg.Warning("flush traces", logger.Error(err))
		}
	}()

	// Open DB
	d, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			lg.Warning("close db", logger.Error(err))
		}
	}()

	orderRepo := repository.NewOrderRepository(d)
	photos := repository.NewPhotoRepository(d)
	locations := repository.NewLocationRepository(d)
	outbox := repository.NewOutboxRepository(d)

	broker := realtime.NewBroker(realtime.WithLogger(lg))
	defer broker.Close()

	blobs, err := blob.NewFileStore(cfg.Blob.Root)
	if err != nil {
		return err
	}
	svc, err := orders.NewService(orderRepo, photos,
		orders.WithFeed(broker),
		orders.WithNotifier(notify.NewOutboxNotifier(outbox, cfg.Outbox.MaxRetries)),
		orders.WithBlobStore(blobs),
		orders.WithLogger(lg),
		orders.WithTracer(otel.Tracer("puracalle-food/orders")),
		orders.WithInitialStatus(models.DetailedStatus(cfg.Orders.InitialStatus)),
		orders.WithTimeouts(cfg.Orders.ClaimTimeout, cfg.Orders.CompleteTimeout))
	if err != nil {
		return err
	}

	var router routing.Router
	if cfg.Routing.BaseURL != "" {
		router = routing.NewFallback(routing.NewOSRM(cfg.Routing.BaseURL, cfg.Routing.Timeout), lg)
	}
	rpc, err := grpcserver.NewServer(grpcserver.Deps{
		Orders:    svc,
		Feed:      broker,
		Locations: tracking.NewIngestor(locations, broker, lg).RequireAssignment(svc),
		History:   locations,
		Router:    router,
		TrailSize: cfg.Tracking.TrailSize,
		Log:       lg,
	})
	if err != nil {
		return err
	}

	var pub notify.Publisher = notify.LogPublisher{Log: lg}
	if cfg.RabbitMQ.URL != "" {
		rc, err := notify.DialRabbit(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		pub = rc
	}
	worker := notify.NewWorker(outbox, pub,
		notify.WithPollInterval(cfg.Outbox.PollInterval),
		notify.WithBatchSize(cfg.Outbox.BatchSize),
		notify.WithWorkerLogger(lg))

	httpSrv := httpapi.NewServer(cfg.HTTP.Address, httpapi.NewRouter(svc, httpapi.Options{
		Secret:         cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Log:            lg,
		DB:             d,
	}))

	// Wait for signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownGRPC, err := grpcserver.StartGRPC(cfg.GRPC.Address, cfg.Auth.JWTSecret, rpc)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		lg.Info("http server listening", logger.String("address", cfg.HTTP.Address))
		return httpSrv.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Join(httpSrv.Shutdown(sctx), shutdownGRPC(sctx))
	})
	err = g.Wait()
	lg.Info("shutdown complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
