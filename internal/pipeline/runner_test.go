package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelpipe/internal/analysis"
	"intelpipe/internal/config"
	"intelpipe/internal/report"
	"intelpipe/internal/reportstore"
	"intelpipe/internal/threat"
)

type staticAdapter struct {
	name    string
	records []*threat.Indicator
}

func (s *staticAdapter) Name() string { return s.name }

func (s *staticAdapter) Fetch(context.Context) []*threat.Indicator {
	out := make([]*threat.Indicator, len(s.records))
	for i, r := range s.records {
		cp := *r
		out[i] = &cp
	}
	return out
}

func testRegistry() *threat.Registry {
	reg := threat.NewRegistry()
	reg.Register("misp", func(cfg threat.SourceConfig) (threat.Adapter, error) {
		return &staticAdapter{name: "misp", records: []*threat.Indicator{
			{Indicator: "1.2.3.4", Type: "ip", Source: "misp"},
		}}, nil
	})
	reg.Register("otx", func(cfg threat.SourceConfig) (threat.Adapter, error) {
		if cfg.APIKey == "" {
			return nil, threat.ErrMissingCredentials
		}
		return &staticAdapter{name: "otx", records: []*threat.Indicator{
			{Indicator: "1.2.3.4", Type: "ip", Source: "otx"},
			{Indicator: "5.6.7.8", Type: "ip", Source: "otx"},
		}}, nil
	})
	return reg
}

type failingStore struct{}

func (failingStore) Put(context.Context, *report.Document) (string, error) {
	return "", errors.New("bucket gone")
}

func (failingStore) Latest(context.Context) (*report.Document, error) {
	return nil, reportstore.ErrNoReports
}

func (failingStore) List(context.Context) ([]string, error) { return []string{}, nil }

func (failingStore) Get(context.Context, string) (*report.Document, error) {
	return nil, reportstore.ErrNotFound
}

type recordingWarehouse struct {
	runID string
	count int
	err   error
}

func (w *recordingWarehouse) WriteIndicators(_ context.Context, runID string, items []*threat.Indicator) error {
	w.runID = runID
	w.count = len(items)
	return w.err
}

func testConfig(sources ...threat.SourceConfig) *config.Config {
	cfg := config.Default()
	cfg.Sources = sources
	return cfg
}

func TestRun_EndToEnd(t *testing.T) {
	store, err := reportstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	wh := &recordingWarehouse{}
	at := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

	r, err := New(testConfig(threat.SourceConfig{Name: "misp"}, threat.SourceConfig{Name: "otx", APIKey: "k"}), store,
		WithRegistry(testRegistry()), WithWarehouse(wh), WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	assert.Equal(t, []string{"misp", "otx"}, r.Sources())

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Document.Items, 2)
	first, second := res.Document.Items[0], res.Document.Items[1]
	assert.Equal(t, "misp", first.Source)
	assert.Equal(t, "otx", second.Source)
	c1, _ := first.Confidence.Float()
	c2, _ := second.Confidence.Float()
	assert.Equal(t, 0.9, c1)
	assert.Equal(t, 0.7, c2)
	assert.NotNil(t, first.Correlated)
	assert.NotNil(t, first.Compliance)

	assert.Contains(t, res.Key, report.Filename(at))
	assert.Equal(t, res.RunID, wh.runID)
	assert.Equal(t, 2, wh.count)

	latest, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", latest.Items[0].Indicator)
	assert.True(t, latest.GeneratedAt.Equal(at))
}

func TestRun_SkipsUnbuildableSources(t *testing.T) {
	store, err := reportstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	r, err := New(testConfig(
		threat.SourceConfig{Name: "otx"},
		threat.SourceConfig{Name: "nope"},
		threat.SourceConfig{Name: "misp"},
	), store, WithRegistry(testRegistry()))
	require.NoError(t, err)
	assert.Equal(t, []string{"misp"}, r.Sources())

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Document.Items, 1)
}

func TestRun_NoSourcesStillProducesDocument(t *testing.T) {
	store, err := reportstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	r, err := New(testConfig(), store, WithRegistry(testRegistry()))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.Document.Items)
	assert.Empty(t, res.Document.Items)
}

func TestRun_WarehouseFailureIsNotFatal(t *testing.T) {
	store, err := reportstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	r, err := New(testConfig(threat.SourceConfig{Name: "misp"}), store,
		WithRegistry(testRegistry()), WithWarehouse(&recordingWarehouse{err: errors.New("quota")}))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.NoError(t, err)
}

func TestRun_StoreFailureFailsRun(t *testing.T) {
	r, err := New(testConfig(threat.SourceConfig{Name: "misp"}), failingStore{}, WithRegistry(testRegistry()))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorContains(t, err, "bucket gone")
}

func TestRuns_AreIndependent(t *testing.T) {
	store, err := reportstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	r, err := New(testConfig(threat.SourceConfig{Name: "misp"}, threat.SourceConfig{Name: "otx", APIKey: "k"}), store,
		WithRegistry(testRegistry()))
	require.NoError(t, err)

	a, err := r.Run(context.Background())
	require.NoError(t, err)
	b, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Len(t, b.Document.Items, 2)
}

func TestNew_InvalidRules(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.Rules = []analysis.Rule{{ID: "broken"}}
	_, err := New(cfg, failingStore{})
	assert.Error(t, err)
}
