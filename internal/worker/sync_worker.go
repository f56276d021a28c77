package worker

import (
	"context"
	"errors"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"
)

// TrendExporter writes an owner's monthly trend to the report sheet.
type TrendExporter interface {
	ExportTrend(ctx context.Context, ownerID string, from, to core.Date) (string, error)
}

// SyncWorker keeps one owner's trend report in step with change events. The
// report sheet holds a single trend, so events of other owners are dropped.
type SyncWorker struct {
	exporter TrendExporter
	ownerID  string
}

func NewSyncWorker(exporter TrendExporter, ownerID string) *SyncWorker {
	return &SyncWorker{exporter: exporter, ownerID: ownerID}
}

// HandleChange re-exports the owner's full trend after a change that can move
// the totals. Goal and allocation events are ignored.
func (w *SyncWorker) HandleChange(ctx context.Context, ev core.ChangeEvent) error {
	if !ev.AffectsSummary() || ev.OwnerID != w.ownerID {
		return nil
	}

	log.FromContext(ctx).WithComponent(log.ComponentSheets).InfoContext(ctx, "Processing change event",
		log.FieldOwnerID, ev.OwnerID,
		"entity", ev.Entity,
		"op", ev.Op,
		"id", ev.ID)

	return w.SyncOwner(ctx, ev.OwnerID)
}

// SyncOwner exports the owner's trend unconditionally. It backs up event
// delivery on startup, in case messages were lost while the worker was down.
func (w *SyncWorker) SyncOwner(ctx context.Context, ownerID string) error {
	logger := log.FromContext(ctx).WithComponent(log.ComponentSheets).With(log.FieldOwnerID, ownerID)
	ref, err := w.exporter.ExportTrend(ctx, ownerID, core.Date{}, core.Date{})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to sync trend", log.FieldError, err)
		return err
	}
	logger.InfoContext(ctx, "Successfully synced trend", "ref", ref)
	return nil
}

// Fanout delivers each event to every handler in order. All handlers run
// even when one fails; their errors are joined.
func Fanout(handlers ...amqp.Handler) amqp.Handler {
	return func(ctx context.Context, ev core.ChangeEvent) error {
		var errs []error
		for _, h := range handlers {
			if err := h(ctx, ev); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
