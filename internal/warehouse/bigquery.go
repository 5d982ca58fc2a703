package warehouse

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"

	"intelpipe/internal/threat"
)

// BigQuerySchema is the table layout BigQueryWriter inserts into.
var BigQuerySchema = bigquery.Schema{
	{Name: "run_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "indicator", Type: bigquery.StringFieldType, Required: true},
	{Name: "type", Type: bigquery.StringFieldType},
	{Name: "source", Type: bigquery.StringFieldType},
	{Name: "confidence", Type: bigquery.FloatFieldType},
	{Name: "timestamp", Type: bigquery.TimestampFieldType},
}

type inserter interface {
	Put(ctx context.Context, src interface{}) error
}

// BigQueryWriter streams rows into a BigQuery table. Insert IDs are derived
// from run and indicator so retried batches do not duplicate rows.
type BigQueryWriter struct {
	ins    inserter
	client *bigquery.Client
	table  *bigquery.Table
}

// NewBigQueryWriter uses application default credentials.
func NewBigQueryWriter(ctx context.Context, project, dataset, table string) (*BigQueryWriter, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	t := client.Dataset(dataset).Table(table)
	return &BigQueryWriter{ins: t.Inserter(), client: client, table: t}, nil
}

// EnsureTable creates the table with BigQuerySchema when it does not exist.
func (w *BigQueryWriter) EnsureTable(ctx context.Context) error {
	if w.table == nil {
		return nil
	}
	if _, err := w.table.Metadata(ctx); err == nil {
		return nil
	}
	if err := w.table.Create(ctx, &bigquery.TableMetadata{Schema: BigQuerySchema}); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

type bqRow struct{ Row }

func (r bqRow) Save() (map[string]bigquery.Value, string, error) {
	row := map[string]bigquery.Value{
		"run_id":    r.RunID,
		"indicator": r.Indicator,
		"type":      r.Type,
		"source":    r.Source,
	}
	if r.Confidence != nil {
		row["confidence"] = *r.Confidence
	}
	if r.Timestamp != nil {
		row["timestamp"] = *r.Timestamp
	}
	return row, r.RunID + ":" + r.Indicator, nil
}

func (w *BigQueryWriter) WriteIndicators(ctx context.Context, runID string, items []*threat.Indicator) error {
	rows := Flatten(runID, items)
	if len(rows) == 0 {
		return nil
	}
	savers := make([]bqRow, len(rows))
	for i, r := range rows {
		savers[i] = bqRow{r}
	}
	if err := w.ins.Put(ctx, savers); err != nil {
		var multi bigquery.PutMultiError
		if errors.As(err, &multi) {
			return fmt.Errorf("bigquery insert: %d of %d rows failed: %w", len(multi), len(rows), err)
		}
		return fmt.Errorf("bigquery insert: %w", err)
	}
	return nil
}

func (w *BigQueryWriter) Close() error {
	if w.client == nil {
		return nil
	}
	return w.client.Close()
}
