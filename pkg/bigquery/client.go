// Package bigquery opens the optional BigQuery sink that stores reconciliation run summaries.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/logger"
)

const verifyTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// Client appends rows to the reconciliation run table.
type Client struct {
	bq    *bigquery.Client
	table *bigquery.Table
}

// NewClient connects and checks that the reconciliation table exists and accepts streaming inserts.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	datasetID := strings.TrimSpace(cfg.Dataset)
	tableID := strings.TrimSpace(cfg.ReconciliationTable)
	switch {
	case projectID == "":
		return nil, errProjectIDRequired
	case datasetID == "":
		return nil, errDatasetRequired
	case tableID == "":
		return nil, errTableNameRequired
	}

	bq, err := bigquery.NewClient(ctx, projectID, credentialOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	client := &Client{bq: bq, table: bq.Dataset(datasetID).Table(tableID)}
	if err := client.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{"dataset": datasetID, "table": tableID})
		logg.Info(logCtx, "bigquery.connected")
	}
	return client, nil
}

// credentialOptions prefers inline JSON over a credentials file; with neither, ADC applies.
func credentialOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// Ping reads the table metadata. Views and external tables are rejected.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.table == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	meta, err := c.table.Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("table %s.%s not found", c.table.DatasetID, c.table.TableID)
		}
		return fmt.Errorf("read table %s.%s: %w", c.table.DatasetID, c.table.TableID, err)
	}
	if meta.Type != "" && meta.Type != bigquery.RegularTable {
		return fmt.Errorf("table %s.%s is a %s, not a regular table", c.table.DatasetID, c.table.TableID, meta.Type)
	}
	return nil
}

// InsertRows streams rows into the reconciliation table. The table argument must
// match the configured table; per-row failures are folded into one error.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.table == nil {
		return errClientNotInitialized
	}
	if name := strings.TrimSpace(table); name != c.table.TableID {
		return fmt.Errorf("table %q is not configured (want %q)", name, c.table.TableID)
	}
	if len(rows) == 0 {
		return nil
	}
	return rowErrors(c.table.Inserter().Put(ctx, rows))
}

// ReconciliationTable is the table name run summaries go to.
func (c *Client) ReconciliationTable() string {
	if c == nil || c.table == nil {
		return ""
	}
	return c.table.TableID
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func rowErrors(err error) error {
	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) || len(multi) == 0 {
		return err
	}
	first := multi[0]
	return fmt.Errorf("insert rejected %d row(s); row %d: %v", len(multi), first.RowIndex, first.Errors)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
