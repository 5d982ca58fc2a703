// Package warehouse flattens analyzed indicators into tabular rows for
// analytical storage.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"intelpipe/internal/threat"
)

// Writer stores one run's indicators. An empty batch is a no-op.
type Writer interface {
	WriteIndicators(ctx context.Context, runID string, items []*threat.Indicator) error
}

// Row is the flattened form of an indicator. Fields beyond these are dropped.
// Confidence is nil unless the record carries a numeric score.
type Row struct {
	RunID      string
	Indicator  string
	Type       string
	Source     string
	Confidence *float64
	Timestamp  *time.Time
}

func Flatten(runID string, items []*threat.Indicator) []Row {
	rows := make([]Row, 0, len(items))
	for _, it := range items {
		if it == nil || it.Indicator == "" {
			continue
		}
		r := Row{RunID: runID, Indicator: it.Indicator, Type: it.Type, Source: it.Source}
		if v, ok := it.Confidence.Float(); ok {
			r.Confidence = &v
		}
		if !it.Timestamp.IsZero() {
			ts := it.Timestamp.UTC()
			r.Timestamp = &ts
		}
		rows = append(rows, r)
	}
	return rows
}

// Backends accepted by New.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeBigQuery = "bigquery"
)

type Config struct {
	Type    string `yaml:"type"`
	DSN     string `yaml:"dsn"`
	Table   string `yaml:"table"`
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
}

// New opens the configured writer. It returns nil when no backend is set.
func New(ctx context.Context, cfg Config) (Writer, error) {
	table := cfg.Table
	if table == "" {
		table = "indicators"
	}
	switch cfg.Type {
	case "":
		return nil, nil
	case TypeSQLite, TypePostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("%s warehouse: dsn is required", cfg.Type)
		}
		w, err := OpenSQL(ctx, cfg.Type, cfg.DSN, table)
		if err != nil {
			return nil, err
		}
		return w, nil
	case TypeBigQuery:
		if cfg.Project == "" || cfg.Dataset == "" {
			return nil, fmt.Errorf("bigquery warehouse: project and dataset are required")
		}
		w, err := NewBigQueryWriter(ctx, cfg.Project, cfg.Dataset, table)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unsupported warehouse type: %s", cfg.Type)
	}
}
