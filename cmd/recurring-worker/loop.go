package main

import (
	"context"
	"time"

	"fintrack/internal/log"
	"fintrack/internal/recurring"
)

// dueRunner is the part of the scheduler the loop drives.
type dueRunner interface {
	RunDue(ctx context.Context, ownerID string, now time.Time) (recurring.Result, error)
}

// runScheduler generates due instances for every owner once on startup and
// then on each tick until ctx ends.
func runScheduler(ctx context.Context, logger *log.Logger, s dueRunner, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Running initial recurring processing")
	processDue(ctx, logger, s, now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processDue(ctx, logger, s, now())
		}
	}
}

func processDue(ctx context.Context, logger *log.Logger, s dueRunner, at time.Time) {
	res, err := s.RunDue(ctx, "", at)
	if err != nil {
		logger.Error("Recurring processing failed", log.FieldError, err)
		return
	}
	for _, f := range res.Failures {
		logger.Warn("Recurring template failed",
			log.FieldTemplateID, f.TemplateID,
			log.FieldError, f.Err)
	}
	logger.Info("Recurring processing complete",
		log.FieldPeriod, res.Period.String(),
		"generated", res.Generated,
		"skipped", res.Skipped,
		"paused", res.Paused,
		"failed", len(res.Failures))
}
