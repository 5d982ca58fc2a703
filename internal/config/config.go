// Package config loads the pipeline configuration file.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"intelpipe/internal/analysis"
	"intelpipe/internal/report"
	"intelpipe/internal/reportstore"
	"intelpipe/internal/threat"
	"intelpipe/internal/warehouse"
)

// Config drives one pipeline. Sources are collected in the order listed;
// when two sources report the same indicator the earlier one wins.
type Config struct {
	ReportName     string                  `yaml:"report_name"`
	Sources        []threat.SourceConfig   `yaml:"sources"`
	Concurrency    int                     `yaml:"concurrency"`
	AdapterTimeout time.Duration           `yaml:"adapter_timeout"`
	Analysis       Analysis                `yaml:"analysis"`
	Store          reportstore.StoreConfig `yaml:"store"`
	Warehouse      warehouse.Config        `yaml:"warehouse"`
	Schedule       Schedule                `yaml:"schedule"`
}

type Analysis struct {
	Scores        map[string]float64 `yaml:"scores"`
	Fallback      *float64           `yaml:"fallback"`
	Watchlist     []string           `yaml:"watchlist"`
	WatchlistFile string             `yaml:"watchlist_file"`
	Rules         []analysis.Rule    `yaml:"rules"`
}

type Schedule struct {
	Spec      string        `yaml:"spec"`
	RedisAddr string        `yaml:"redis_addr"`
	LockKey   string        `yaml:"lock_key"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
}

// DefaultSources reads credentials from the same environment variables the
// feeds have always used.
func DefaultSources() []threat.SourceConfig {
	return []threat.SourceConfig{
		{Name: "misp", URL: "${MISP_URL}", APIKey: "${MISP_KEY}"},
		{Name: "otx", APIKey: "${OTX_KEY}"},
		{Name: "shodan", APIKey: "${SHODAN_KEY}", Options: map[string]string{"query": "${SHODAN_QUERY}"}},
		{Name: "spiderfoot", URL: "${SPIDERFOOT_URL}", APIKey: "${SPIDERFOOT_API_KEY}"},
		{Name: "threatfox", APIKey: "${THREATFOX_KEY}"},
	}
}

// Default is the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.finish()
	return cfg
}

func (c *Config) finish() {
	c.applyDefaults()
	expandEnv(reflect.ValueOf(c).Elem())
	if c.Store.Type == reportstore.TypeFS && c.Store.Dir == "" {
		c.Store.Dir = "reports"
	}
}

func (c *Config) applyDefaults() {
	if c.ReportName == "" {
		c.ReportName = report.DefaultName
	}
	if c.Sources == nil {
		c.Sources = DefaultSources()
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = 30 * time.Second
	}
	if c.Store.Type == "" {
		c.Store.Type = reportstore.TypeFS
	}
	if c.Store.Type == reportstore.TypeFS && c.Store.Dir == "" {
		c.Store.Dir = "${REPORTS_DIR}"
	}
	if c.Schedule.Spec == "" {
		c.Schedule.Spec = "0 3 * * *"
	}
	if c.Schedule.LockKey == "" {
		c.Schedule.LockKey = "intelpipe:collect"
	}
	if c.Schedule.LockTTL <= 0 {
		c.Schedule.LockTTL = 30 * time.Minute
	}
}

// Load reads path, or returns Default when path is empty. Every string is
// expanded against the environment after parsing.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.finish()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate source %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	if f := c.Analysis.Fallback; f != nil && (*f < 0 || *f > 1) {
		return fmt.Errorf("analysis.fallback must be within [0, 1]")
	}
	for src, v := range c.Analysis.Scores {
		if v < 0 || v > 1 {
			return fmt.Errorf("analysis.scores[%s] must be within [0, 1]", src)
		}
	}
	return nil
}

// SourceNames lists configured sources in collection order.
func (c *Config) SourceNames() []string {
	names := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		names[i] = s.Name
	}
	return names
}

// AnalysisOptions merges the inline watchlist with watchlist_file, one
// value per line with # comments.
func (c *Config) AnalysisOptions() (analysis.Options, error) {
	watchlist := append([]string(nil), c.Analysis.Watchlist...)
	if c.Analysis.WatchlistFile != "" {
		f, err := os.Open(c.Analysis.WatchlistFile)
		if err != nil {
			return analysis.Options{}, fmt.Errorf("open watchlist: %w", err)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			watchlist = append(watchlist, line)
		}
		if err := sc.Err(); err != nil {
			return analysis.Options{}, fmt.Errorf("read watchlist: %w", err)
		}
	}
	return analysis.Options{
		Scores:    c.Analysis.Scores,
		Fallback:  c.Analysis.Fallback,
		Watchlist: watchlist,
		Rules:     c.Analysis.Rules,
	}, nil
}
