package sheets

import (
	"context"
	"fmt"
	"log/slog"

	"fintrack/internal/aggregate"
	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// TransactionSource lists an owner's transactions.
type TransactionSource interface {
	ListTransactions(ctx context.Context, ownerID string, f storage.TransactionFilter) ([]core.Transaction, error)
}

// Exporter computes the monthly trend of an owner and hands it to a writer.
type Exporter struct {
	source TransactionSource
	writer TrendWriter
}

func NewExporter(source TransactionSource, writer TrendWriter) *Exporter {
	return &Exporter{source: source, writer: writer}
}

// ExportTrend writes the trend of every non-template transaction in
// [from, to]. Zero bounds leave that side open.
func (e *Exporter) ExportTrend(ctx context.Context, ownerID string, from, to core.Date) (string, error) {
	txs, err := e.source.ListTransactions(ctx, ownerID, storage.TransactionFilter{
		From:             from,
		To:               to,
		ExcludeTemplates: true,
	})
	if err != nil {
		return "", fmt.Errorf("list transactions: %w", err)
	}

	points := aggregate.MonthlyTrend(txs)
	ref, err := e.writer.WriteTrend(ctx, ownerID, points)
	if err != nil {
		return "", core.Upstream("write trend", err)
	}

	slog.InfoContext(ctx, "Exported monthly trend",
		"owner_id", ownerID,
		"months", len(points),
		"transactions", len(txs),
		"ref", ref)
	return ref, nil
}
