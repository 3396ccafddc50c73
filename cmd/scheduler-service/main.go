/**
 * @description
 * This is the main entry point for the scheduler-service.
 * This service is a non-HTTP, long-running process that periodically asks the
 * payroll-service to reconcile active standing orders.
 */
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/transfa/payroll-service/internal/config"
	"github.com/transfa/payroll-service/internal/scheduler"
	"github.com/transfa/payroll-service/pkg/payrollclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadSchedulerConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.InternalAPIKey == "" {
		logger.Error("INTERNAL_API_KEY is required for the scheduler-service")
		os.Exit(1)
	}

	client := payrollclient.NewClient(cfg.PayrollServiceURL, cfg.InternalAPIKey)
	jobs := scheduler.NewJobs(client, logger)
	cron := scheduler.NewScheduler(jobs, logger, *cfg)

	if err := cron.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started", "schedule", cfg.PayrollSyncJobSchedule)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	<-cron.Stop().Done()
	logger.Info("scheduler stopped gracefully")
}
