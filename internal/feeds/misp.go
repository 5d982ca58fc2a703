package feeds

import (
	"context"
	"net/http"
	"strconv"

	"intelpipe/internal/threat"
)

func init() { threat.DefaultRegistry.Register("misp", NewMISP) }

// MISP attribute types mapped onto pipeline indicator types.
var mispTypes = map[string]string{
	"ip-src":        threat.TypeIP,
	"ip-dst":        threat.TypeIP,
	"domain":        threat.TypeDomain,
	"hostname":      threat.TypeDomain,
	"url":           threat.TypeURL,
	"uri":           threat.TypeURL,
	"email-src":     threat.TypeEmail,
	"email-dst":     threat.TypeEmail,
	"md5":           threat.TypeMD5,
	"sha1":          threat.TypeSHA1,
	"sha256":        threat.TypeSHA256,
	"vulnerability": threat.TypeCVE,
}

type MISP struct {
	*base
	last  string
	limit int
}

type mispAttribute struct {
	Value     string `json:"value"`
	Type      string `json:"type"`
	Category  string `json:"category"`
	EventID   string `json:"event_id"`
	ToIDS     bool   `json:"to_ids"`
	Comment   string `json:"comment"`
	Timestamp string `json:"timestamp"`
}

type mispResponse struct {
	Response struct {
		Attribute []mispAttribute `json:"Attribute"`
	} `json:"response"`
}

// NewMISP needs the instance URL and an automation key. Options: "last"
// (lookback such as "1d") and "limit".
func NewMISP(cfg threat.SourceConfig) (threat.Adapter, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, threat.ErrMissingCredentials
	}
	limit, err := strconv.Atoi(cfg.Option("limit", "1000"))
	if err != nil || limit <= 0 {
		limit = 1000
	}
	return &MISP{
		base:  newBase("misp", cfg, ""),
		last:  cfg.Option("last", "1d"),
		limit: limit,
	}, nil
}

func (m *MISP) Fetch(ctx context.Context) []*threat.Indicator {
	body := map[string]any{
		"returnFormat": "json",
		"last":         m.last,
		"to_ids":       true,
		"limit":        m.limit,
	}
	header := http.Header{"Authorization": {m.apiKey}}

	var resp mispResponse
	if err := m.postJSON(ctx, m.url+"/attributes/restSearch", header, body, &resp); err != nil {
		return m.empty(err)
	}

	out := make([]*threat.Indicator, 0, len(resp.Response.Attribute))
	for _, a := range resp.Response.Attribute {
		if a.Value == "" {
			continue
		}
		out = append(out, m.record(a.Value, mispTypes[a.Type], nil, map[string]any{
			"misp_type": a.Type,
			"category":  a.Category,
			"event_id":  a.EventID,
			"to_ids":    a.ToIDS,
			"comment":   a.Comment,
		}))
	}
	return out
}
