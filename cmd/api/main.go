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

	"github.com/clinic-notify/internal/application/campaign"
	"github.com/clinic-notify/internal/application/dispatch"
	"github.com/clinic-notify/internal/application/event"
	"github.com/clinic-notify/internal/application/notification"
	"github.com/clinic-notify/internal/application/stats"
	"github.com/clinic-notify/internal/application/template"
	"github.com/clinic-notify/internal/config"
	"github.com/clinic-notify/internal/domain"
	"github.com/clinic-notify/internal/pkg/logger"
	transporthttp "github.com/clinic-notify/internal/transport/http"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("service stopped with error", zap.Error(err))
	}
	log.Info("service stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	queue, closeQueue, err := openQueue(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeQueue()

	senders, err := buildSenders(ctx, cfg, log)
	if err != nil {
		return err
	}

	statsSvc := stats.NewService(st.stats)
	eventSvc := event.NewService(st.notifications, statsSvc, log)
	templateSvc := template.NewService(st.templates, log)
	notifSvc := notification.NewService(st.notifications, queue, templateSvc, eventSvc,
		notification.Options{DefaultMaxRetries: cfg.DefaultMaxRetries}, log)
	campaignSvc := campaign.NewService(st.campaigns, templateSvc, notifSvc, statsSvc, st.directory, st.snapshots,
		campaign.Options{
			Tick:              cfg.SchedulerTick,
			CompletionCheck:   cfg.CompletionCheckInterval,
			DefaultMaxRetries: cfg.DefaultMaxRetries,
		}, log)

	hostname, _ := os.Hostname()
	dispatcher := dispatch.New(dispatch.Config{
		WorkerID: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		Workers:  cfg.DispatchWorkers,
		Lease:    cfg.DispatchLease,
		Retry: domain.RetryPolicy{
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
			Multiplier: cfg.RetryMultiplier,
			Jitter:     cfg.RetryJitter,
			Automatic:  cfg.RetryAutomatic,
		},
	}, queue, st.notifications, senders, eventSvc, log)

	// Queue entries are not durable in memory mode; rebuild them from the store.
	if n, err := notifSvc.Requeue(ctx); err != nil {
		return fmt.Errorf("requeue pending notifications: %w", err)
	} else if n > 0 {
		log.Info("requeued pending notifications", zap.Int("count", n))
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.AppPort),
		Handler: transporthttp.NewRouter(cfg, &transporthttp.Deps{
			Templates:     templateSvc,
			Notifications: notifSvc,
			Campaigns:     campaignSvc,
			Stats:         statsSvc,
			Events:        eventSvc,
			Logger:        log,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return campaignSvc.Run(gctx) })
	g.Go(func() error {
		log.Info("server starting", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
