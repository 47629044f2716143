package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/posync/internal/config"
	"github.com/example/posync/internal/logger"
	"github.com/example/posync/internal/services"
)

// syncagent keeps one tenant's POS orders fresh by calling the server's
// sync endpoint on an interval, backing off when the server reports 429.
// SIGUSR1 triggers an immediate sync; SIGUSR2 toggles polling.
func main() {
	cfg := config.LoadAgent()

	log, err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.LogLevel,
		Environment: cfg.AppEnv,
		ServiceName: "posync-agent",
	})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	runner := services.NewHTTPSyncRunner(cfg.APIURL, cfg.APIToken, nil)
	scheduler := services.NewSyncScheduler(runner,
		services.WithInterval(cfg.SyncInterval),
		services.WithSchedulerLogger(log),
		services.OnStatus(func(st services.SchedulerStatus) {
			log.Info("sync status",
				zap.String("state", string(st.State)),
				zap.Int("rate_limit_attempts", st.RateLimitAttempts),
				zap.String("last_error", st.LastError),
				zap.Timep("next_run_at", st.NextRunAt),
			)
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	if cfg.TenantID != "" {
		tenantID, err := uuid.Parse(cfg.TenantID)
		if err != nil {
			log.Fatal("invalid SYNC_TENANT_ID", zap.Error(err))
		}
		scheduler.SelectTenant(tenantID)
	} else {
		log.Warn("SYNC_TENANT_ID not set, polling is idle")
	}

	controls := make(chan os.Signal, 1)
	signal.Notify(controls, syscall.SIGUSR1, syscall.SIGUSR2)
	paused := false

	log.Info("sync agent started", zap.String("api_url", cfg.APIURL), zap.Duration("interval", cfg.SyncInterval))
	for {
		select {
		case <-ctx.Done():
			<-done
			log.Info("sync agent stopped")
			return
		case sig := <-controls:
			switch sig {
			case syscall.SIGUSR1:
				scheduler.TriggerNow()
			case syscall.SIGUSR2:
				paused = !paused
				scheduler.SetVisible(!paused)
				log.Info("polling toggled", zap.Bool("paused", paused))
			}
		}
	}
}
