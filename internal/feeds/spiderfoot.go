package feeds

import (
	"context"
	"net/http"

	"intelpipe/internal/threat"
)

func init() { threat.DefaultRegistry.Register("spiderfoot", NewSpiderfoot) }

// Spiderfoot turns the most recent scan on a SpiderFoot instance into a
// single low-confidence osint record.
type Spiderfoot struct {
	*base
}

func NewSpiderfoot(cfg threat.SourceConfig) (threat.Adapter, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, threat.ErrMissingCredentials
	}
	return &Spiderfoot{base: newBase("spiderfoot", cfg, "")}, nil
}

func (s *Spiderfoot) Fetch(ctx context.Context) []*threat.Indicator {
	var scans []map[string]any
	header := http.Header{"X-Api-Key": {s.apiKey}}
	if err := s.getJSON(ctx, s.url+"/scan", header, &scans); err != nil {
		return s.empty(err)
	}
	if len(scans) == 0 {
		return s.empty(nil)
	}

	latest := scans[len(scans)-1]
	id, _ := latest["scan_id"].(string)
	if id == "" {
		id = "spiderfoot_scan"
	}
	return []*threat.Indicator{s.record(id, threat.TypeOSINT, threat.Label("low"), latest)}
}
