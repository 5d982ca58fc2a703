package warehouse

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelpipe/internal/threat"
)

var seen = time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

func sample() []*threat.Indicator {
	correlated := false
	return []*threat.Indicator{
		{Indicator: "1.2.3.4", Type: "ip", Source: "misp", Confidence: threat.Score(0.9), Timestamp: seen,
			Data: map[string]any{"event_id": "1"}, Correlated: &correlated, Compliance: []string{"NIS2"}},
		{Indicator: "scan-1", Type: "osint", Source: "spiderfoot", Confidence: threat.Label("low")},
		nil,
		{Indicator: "", Source: "otx"},
	}
}

func TestFlatten(t *testing.T) {
	rows := Flatten("run-1", sample())

	require.Len(t, rows, 2)
	assert.Equal(t, "run-1", rows[0].RunID)
	assert.Equal(t, "1.2.3.4", rows[0].Indicator)
	require.NotNil(t, rows[0].Confidence)
	assert.Equal(t, 0.9, *rows[0].Confidence)
	require.NotNil(t, rows[0].Timestamp)
	assert.True(t, rows[0].Timestamp.Equal(seen))

	assert.Nil(t, rows[1].Confidence, "ordinal confidence has no numeric column value")
	assert.Nil(t, rows[1].Timestamp)
}

func TestSQLWriter_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS iocs")).WillReturnResult(sqlmock.NewResult(0, 0))
	w, err := NewSQLWriter(context.Background(), db, TypePostgres, "iocs")
	require.NoError(t, err)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO iocs (run_id, indicator, type, source, confidence, timestamp) VALUES ($1, $2, $3, $4, $5, $6)"))
	prep.ExpectExec().
		WithArgs("run-1", "1.2.3.4", "ip", "misp", 0.9, seen).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs("run-1", "scan-1", "osint", "spiderfoot", nil, nil).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, w.WriteIndicators(context.Background(), "run-1", sample()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLWriter_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	w, err := NewSQLWriter(context.Background(), db, TypeSQLite, "indicators")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO indicators").
		ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = w.WriteIndicators(context.Background(), "run-1", sample())
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLWriter_EmptyBatchIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	w, err := NewSQLWriter(context.Background(), db, TypeSQLite, "indicators")
	require.NoError(t, err)

	require.NoError(t, w.WriteIndicators(context.Background(), "run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLWriter_RejectsBadTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLWriter(context.Background(), db, TypeSQLite, "x; DROP TABLE y")
	assert.ErrorContains(t, err, "invalid table name")
	_, err = NewSQLWriter(context.Background(), db, "mysql", "x")
	assert.ErrorContains(t, err, "unsupported sql dialect")
}

func TestSQLWriter_SQLite(t *testing.T) {
	w, err := OpenSQL(context.Background(), TypeSQLite, ":memory:", "indicators")
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteIndicators(context.Background(), "run-1", sample()))
	require.NoError(t, w.WriteIndicators(context.Background(), "run-2", sample()[:1]))

	n, err := w.Count(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = w.Count(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type fakeInserter struct {
	rows []bqRow
	err  error
}

func (f *fakeInserter) Put(ctx context.Context, src interface{}) error {
	f.rows = append(f.rows, src.([]bqRow)...)
	return f.err
}

func TestBigQueryWriter(t *testing.T) {
	ins := &fakeInserter{}
	w := &BigQueryWriter{ins: ins}

	require.NoError(t, w.WriteIndicators(context.Background(), "run-1", sample()))
	require.Len(t, ins.rows, 2)

	row, id, err := ins.rows[0].Save()
	require.NoError(t, err)
	assert.Equal(t, "run-1:1.2.3.4", id)
	assert.Equal(t, bigquery.Value(0.9), row["confidence"])
	assert.Equal(t, bigquery.Value(seen), row["timestamp"])

	row, _, _ = ins.rows[1].Save()
	_, hasConfidence := row["confidence"]
	assert.False(t, hasConfidence)

	require.NoError(t, w.WriteIndicators(context.Background(), "run-2", nil))
	assert.Len(t, ins.rows, 2)
}

func TestBigQueryWriter_PartialFailure(t *testing.T) {
	ins := &fakeInserter{err: bigquery.PutMultiError{{RowIndex: 0, Errors: bigquery.MultiError{errors.New("bad row")}}}}
	w := &BigQueryWriter{ins: ins}

	err := w.WriteIndicators(context.Background(), "run-1", sample())
	assert.ErrorContains(t, err, "1 of 2 rows failed")
}

func TestNew(t *testing.T) {
	w, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, w)

	_, err = New(context.Background(), Config{Type: TypePostgres})
	assert.ErrorContains(t, err, "dsn is required")
	_, err = New(context.Background(), Config{Type: TypeBigQuery, Project: "p"})
	assert.ErrorContains(t, err, "project and dataset")
	_, err = New(context.Background(), Config{Type: "csv"})
	assert.ErrorContains(t, err, "unsupported")

	w, err = New(context.Background(), Config{Type: TypeSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQLWriter{}, w)
}
