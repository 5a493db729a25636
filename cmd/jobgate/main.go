package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	httpAdapter "github.com/tkrause/jobgate/internal/adapter/http"
	"github.com/tkrause/jobgate/internal/adapter/sqlite"
	"github.com/tkrause/jobgate/internal/adapter/task"
	"github.com/tkrause/jobgate/internal/config"
	"github.com/tkrause/jobgate/internal/domain"
	"github.com/tkrause/jobgate/internal/scheduler"
	"github.com/tkrause/jobgate/internal/worker"
	"go.uber.org/zap"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	log.Info("starting jobgate",
		zap.String("listen", cfg.ListenAddr),
		zap.String("db", cfg.DBPath),
		zap.Int("workers", cfg.Workers),
	)

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	jobs := sqlite.NewJobRepository(db)
	ledgerRepo := sqlite.NewLedgerRepository(db)

	costs := make(map[domain.JobType]int64, len(cfg.Costs))
	for t, c := range cfg.Costs {
		costs[domain.JobType(t)] = c
	}
	admission := domain.NewAdmissionService(jobs, ledgerRepo, domain.AdmissionConfig{
		MaxAttempts:   cfg.MaxAttempts,
		MaxQueueDepth: cfg.MaxQueueDepth,
		JobTTL:        cfg.JobTTL(),
		Costs:         costs,
	}, log)
	status := domain.NewStatusService(jobs)
	ledger := domain.NewLedgerService(ledgerRepo, log)

	registry := task.NewRegistry()
	registry.Register(task.NewProvider(domain.TypeConversion, cfg.Providers.Conversion))
	registry.Register(task.NewProvider(domain.TypeOutline, cfg.Providers.Outline))
	registry.Register(task.NewProvider(domain.TypeFormatRewrite, cfg.Providers.FormatRewrite))

	sched := scheduler.New(jobs, cfg.DispatchGrace(), 100, log)
	reaper := scheduler.NewReaper(jobs, cfg.ReapInterval(), cfg.ProcessingDeadline(), log)
	srv := httpAdapter.NewServer(admission, status, ledger, cfg.ListenAddr, cfg.WebhookSecret, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Recover jobs stranded by a previous crash before taking new work.
	reaper.Sweep(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reaper.Run(ctx)
	}()
	for i := 0; i < cfg.Workers; i++ {
		w := worker.New(fmt.Sprintf("worker-%d", i), jobs, sched, registry,
			cfg.ExecTimeout(), cfg.PollInterval(), log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	wg.Wait()
	log.Info("shutdown complete")
}
