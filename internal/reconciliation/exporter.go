package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryExporter appends one row per reconciliation run.
type BigQueryExporter struct {
	client tableInserter
	table  string
}

// NewBigQueryExporter builds an exporter writing to table.
func NewBigQueryExporter(client tableInserter, table string) (*BigQueryExporter, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("bigquery table name required")
	}
	return &BigQueryExporter{client: client, table: strings.TrimSpace(table)}, nil
}

// Export inserts the run summary.
func (x *BigQueryExporter) Export(ctx context.Context, report *Report) error {
	if report == nil {
		return nil
	}
	row, err := buildRunRow(report)
	if err != nil {
		return err
	}
	return x.client.InsertRows(ctx, x.table, []any{row})
}

type runRow struct {
	RunID           string             `bigquery:"run_id"`
	StartedAt       time.Time          `bigquery:"started_at"`
	FinishedAt      time.Time          `bigquery:"finished_at"`
	Requests        int64              `bigquery:"requests"`
	ProviderRecords int64              `bigquery:"provider_records"`
	FetchErrors     int64              `bigquery:"fetch_errors"`
	OverflowWindows int64              `bigquery:"overflow_windows"`
	Matched         int64              `bigquery:"matched"`
	UnmatchedLocal  int64              `bigquery:"unmatched_local"`
	LocalPaid       int64              `bigquery:"local_paid"`
	ReviewUpserts   int64              `bigquery:"review_upserts"`
	ErrorDetails    cbigquery.NullJSON `bigquery:"error_details"`
}

func buildRunRow(report *Report) (*runRow, error) {
	row := &runRow{
		RunID:           report.RunID,
		StartedAt:       report.StartedAt,
		FinishedAt:      report.FinishedAt,
		Requests:        int64(report.Requests),
		ProviderRecords: int64(report.ProviderRecords),
		FetchErrors:     int64(report.FetchErrorCount),
		OverflowWindows: int64(report.OverflowWindows),
		Matched:         int64(report.Matched),
		UnmatchedLocal:  int64(report.UnmatchedLocal),
		LocalPaid:       int64(report.LocalPaid),
		ReviewUpserts:   int64(report.ReviewUpserts),
	}
	if len(report.FetchErrors) > 0 {
		encoded, err := json.Marshal(report.FetchErrors)
		if err != nil {
			return nil, fmt.Errorf("encode fetch errors: %w", err)
		}
		row.ErrorDetails = cbigquery.NullJSON{JSONVal: string(encoded), Valid: true}
	}
	return row, nil
}
