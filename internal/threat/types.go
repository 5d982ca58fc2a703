package threat

import (
	"context"
	"errors"
	"time"
)

// Indicator is a single indicator of compromise as it flows through the
// pipeline. Adapters create it, analysis stages annotate it in place and the
// report assembler freezes it into a document.
type Indicator struct {
	Indicator  string
	Type       string
	Source     string
	Confidence *Confidence
	Timestamp  time.Time
	Data       map[string]any

	// Annotations added by analysis stages. Nil means the stage has not run.
	Correlated *bool
	Compliance []string

	// Extra holds any other top-level fields, e.g. from custom stages or
	// documents written by newer versions.
	Extra map[string]any
}

// Adapter fetches indicators from one external feed.
//
// Fetch never fails: an adapter that cannot reach or authenticate against its
// backend logs the problem and returns an empty slice. Every call must be
// bounded by a timeout.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context) []*Indicator
}

// SourceConfig carries the per-source settings an adapter is built from.
// Credentials are resolved by the caller; the core never reads them itself.
type SourceConfig struct {
	Name      string            `yaml:"name"`
	URL       string            `yaml:"url"`
	APIKey    string            `yaml:"api_key"`
	Timeout   time.Duration     `yaml:"timeout"`
	RateLimit float64           `yaml:"rate_limit"`
	Options   map[string]string `yaml:"options"`
}

// Option returns the named option or def when unset.
func (c SourceConfig) Option(key, def string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Factory builds a configured adapter.
type Factory func(cfg SourceConfig) (Adapter, error)

var (
	// ErrMissingCredentials is returned by factories when a required setting
	// such as an API key or endpoint is empty.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrUnknownAdapter is returned when no factory is registered for a name.
	ErrUnknownAdapter = errors.New("unknown adapter")
)

// Common indicator types.
const (
	TypeIP     = "ip"
	TypeIPv6   = "ipv6"
	TypeCIDR   = "cidr"
	TypeDomain = "domain"
	TypeURL    = "url"
	TypeEmail  = "email"
	TypeMD5    = "md5"
	TypeSHA1   = "sha1"
	TypeSHA256 = "sha256"
	TypeHash   = "hash"
	TypeCVE    = "cve"
	TypeOSINT  = "osint"
	TypeStat   = "stat"
)
