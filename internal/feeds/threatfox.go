package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"intelpipe/internal/threat"
)

func init() { threat.DefaultRegistry.Register("threatfox", NewThreatFox) }

const threatfoxDefaultURL = "https://threatfox-api.abuse.ch"

var threatfoxTypes = map[string]string{
	"ip:port":     threat.TypeIP,
	"domain":      threat.TypeDomain,
	"url":         threat.TypeURL,
	"md5_hash":    threat.TypeMD5,
	"sha1_hash":   threat.TypeSHA1,
	"sha256_hash": threat.TypeSHA256,
}

// ThreatFox pulls recent IOCs from abuse.ch ThreatFox.
type ThreatFox struct {
	*base
	days int
}

type threatfoxIOC struct {
	IOC              string   `json:"ioc"`
	IOCType          string   `json:"ioc_type"`
	ThreatType       string   `json:"threat_type"`
	MalwarePrintable string   `json:"malware_printable"`
	ConfidenceLevel  int      `json:"confidence_level"`
	FirstSeen        string   `json:"first_seen"`
	Tags             []string `json:"tags"`
	Reference        string   `json:"reference"`
}

// Data is a list on "ok" and a message string otherwise.
type threatfoxResponse struct {
	QueryStatus string          `json:"query_status"`
	Data        json.RawMessage `json:"data"`
}

// NewThreatFox requires an Auth-Key. Option "days" sets the lookback (1-7).
func NewThreatFox(cfg threat.SourceConfig) (threat.Adapter, error) {
	if cfg.APIKey == "" {
		return nil, threat.ErrMissingCredentials
	}
	days := atoiDefault(cfg.Option("days", ""), 1)
	if days > 7 {
		days = 7
	}
	return &ThreatFox{base: newBase("threatfox", cfg, threatfoxDefaultURL), days: days}, nil
}

func (t *ThreatFox) Fetch(ctx context.Context) []*threat.Indicator {
	body := map[string]any{"query": "get_iocs", "days": t.days}
	header := http.Header{"Auth-Key": {t.apiKey}}

	var resp threatfoxResponse
	if err := t.postJSON(ctx, t.url+"/api/v1/", header, body, &resp); err != nil {
		return t.empty(err)
	}
	switch resp.QueryStatus {
	case "ok":
	case "no_result":
		// a quiet window, not a failure
		return t.empty(nil)
	default:
		t.failed("query_status")
		return t.empty(&StatusError{Code: http.StatusOK, Body: resp.QueryStatus})
	}

	var iocs []threatfoxIOC
	if len(resp.Data) == 0 {
		return t.empty(nil)
	}
	if err := json.Unmarshal(resp.Data, &iocs); err != nil {
		t.failed("decode")
		return t.empty(fmt.Errorf("decode iocs: %w", err))
	}

	out := make([]*threat.Indicator, 0, len(iocs))
	for _, ioc := range iocs {
		value := ioc.IOC
		if ioc.IOCType == "ip:port" {
			// keep the port in data; the bare address is the dedup key
			if i := strings.LastIndex(value, ":"); i > 0 {
				value = value[:i]
			}
		}
		if value == "" {
			continue
		}
		out = append(out, t.record(value, threatfoxTypes[ioc.IOCType], nil, map[string]any{
			"ioc":              ioc.IOC,
			"ioc_type":         ioc.IOCType,
			"threat_type":      ioc.ThreatType,
			"malware":          ioc.MalwarePrintable,
			"confidence_level": ioc.ConfidenceLevel,
			"first_seen":       ioc.FirstSeen,
			"tags":             ioc.Tags,
			"reference":        ioc.Reference,
		}))
	}
	return out
}
