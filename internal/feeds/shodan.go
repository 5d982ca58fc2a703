package feeds

import (
	"context"
	"net/url"

	"intelpipe/internal/threat"
)

func init() { threat.DefaultRegistry.Register("shodan", NewShodan) }

const shodanDefaultURL = "https://api.shodan.io"

// Shodan reports exposed hosts matching a saved search query.
type Shodan struct {
	*base
	query string
}

type shodanMatch struct {
	IPStr     string   `json:"ip_str"`
	Port      int      `json:"port"`
	Transport string   `json:"transport"`
	Org       string   `json:"org"`
	ISP       string   `json:"isp"`
	Product   string   `json:"product"`
	Hostnames []string `json:"hostnames"`
	Timestamp string   `json:"timestamp"`
	Location  struct {
		CountryCode string `json:"country_code"`
	} `json:"location"`
}

type shodanSearch struct {
	Matches []shodanMatch `json:"matches"`
	Total   int           `json:"total"`
}

// NewShodan requires an API key and the "query" option.
func NewShodan(cfg threat.SourceConfig) (threat.Adapter, error) {
	query := cfg.Option("query", "")
	if cfg.APIKey == "" || query == "" {
		return nil, threat.ErrMissingCredentials
	}
	return &Shodan{base: newBase("shodan", cfg, shodanDefaultURL), query: query}, nil
}

func (s *Shodan) Fetch(ctx context.Context) []*threat.Indicator {
	q := url.Values{}
	q.Set("key", s.apiKey)
	q.Set("query", s.query)

	var resp shodanSearch
	if err := s.getJSON(ctx, s.url+"/shodan/host/search?"+q.Encode(), nil, &resp); err != nil {
		return s.empty(err)
	}

	out := make([]*threat.Indicator, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.IPStr == "" {
			continue
		}
		out = append(out, s.record(m.IPStr, "", nil, map[string]any{
			"port":      m.Port,
			"transport": m.Transport,
			"org":       m.Org,
			"isp":       m.ISP,
			"product":   m.Product,
			"hostnames": m.Hostnames,
			"country":   m.Location.CountryCode,
			"seen":      m.Timestamp,
		}))
	}
	return out
}
