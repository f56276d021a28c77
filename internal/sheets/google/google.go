// Package google writes trend reports to a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fintrack/internal/aggregate"
	ports "fintrack/internal/sheets"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

var _ ports.TrendWriter = (*Client)(nil)

// New builds a client for one spreadsheet tab. With no options the service
// authenticates through Application Default Credentials.
func New(ctx context.Context, spreadsheetID, sheetName string, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		return nil, errors.New("missing sheet name")
	}

	opts = append([]goption.ClientOption{goption.WithScopes(gsheet.SpreadsheetsScope)}, opts...)
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

// NewWithCredentialsFile reads service account credentials from path. An
// empty path falls back to Application Default Credentials.
func NewWithCredentialsFile(ctx context.Context, spreadsheetID, sheetName, path string) (*Client, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		slog.InfoContext(ctx, "Using Application Default Credentials for Sheets")
		return New(ctx, spreadsheetID, sheetName)
	}

	credentialsJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	slog.InfoContext(ctx, "Read Sheets credentials file", "path", path, "size", len(credentialsJSON))
	return New(ctx, spreadsheetID, sheetName, goption.WithCredentialsJSON(credentialsJSON))
}

// WriteTrend clears columns A:D of the tab and writes the header plus one row
// per month starting at A1.
func (c *Client) WriteTrend(ctx context.Context, ownerID string, points []aggregate.MonthlyTrendPoint) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := quoteSheet(c.sheetName)
	clearRange := sheet + "!A1:D"
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, clearRange, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear %s: %w", clearRange, err)
	}

	rows := ports.TrendRows(points)
	writeRange := fmt.Sprintf("%s!A1:D%d", sheet, len(rows))
	vr := &gsheet.ValueRange{Values: rows}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, writeRange, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("update %s: %w", writeRange, err)
	}

	slog.InfoContext(ctx, "Wrote trend to Google Sheets",
		"owner_id", ownerID,
		"range", writeRange,
		"rows", len(rows))
	return writeRange, nil
}

// quoteSheet wraps names that A1 notation cannot take bare.
func quoteSheet(name string) string {
	if strings.ContainsAny(name, " '!-") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name
}
