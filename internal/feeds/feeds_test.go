package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelpipe/internal/threat"
)

func serveJSON(t *testing.T, check func(r *http.Request), body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func build(t *testing.T, f threat.Factory, cfg threat.SourceConfig) threat.Adapter {
	t.Helper()
	a, err := f(cfg)
	require.NoError(t, err)
	return a
}

func TestRegisteredFeeds(t *testing.T) {
	names := threat.DefaultRegistry.Names()
	for _, want := range []string{"misp", "otx", "shodan", "spiderfoot", "threatfox"} {
		assert.Contains(t, names, want)
	}
}

func TestMissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		f    threat.Factory
		cfg  threat.SourceConfig
	}{
		{"misp without url", NewMISP, threat.SourceConfig{APIKey: "k"}},
		{"misp without key", NewMISP, threat.SourceConfig{URL: "http://misp"}},
		{"otx", NewOTX, threat.SourceConfig{}},
		{"shodan without query", NewShodan, threat.SourceConfig{APIKey: "k"}},
		{"spiderfoot", NewSpiderfoot, threat.SourceConfig{URL: "http://sf"}},
		{"threatfox", NewThreatFox, threat.SourceConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.f(tt.cfg)
			assert.True(t, errors.Is(err, threat.ErrMissingCredentials))
		})
	}
}

func TestMISP_Fetch(t *testing.T) {
	srv := serveJSON(t, func(r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/attributes/restSearch", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "7d", body["last"])
	}, map[string]any{"response": map[string]any{"Attribute": []map[string]any{
		{"value": "1.2.3.4", "type": "ip-dst", "category": "Network activity", "event_id": "42", "to_ids": true},
		{"value": "evil.example", "type": "domain"},
		{"value": "", "type": "domain"},
	}}})

	a := build(t, NewMISP, threat.SourceConfig{URL: srv.URL + "/", APIKey: "secret", Options: map[string]string{"last": "7d"}})
	out := a.Fetch(context.Background())

	require.Len(t, out, 2)
	assert.Equal(t, "misp", a.Name())
	assert.Equal(t, "1.2.3.4", out[0].Indicator)
	assert.Equal(t, threat.TypeIP, out[0].Type)
	assert.Equal(t, "misp", out[0].Source)
	assert.Equal(t, "42", out[0].Data["event_id"])
	assert.False(t, out[0].Timestamp.IsZero())
	assert.Equal(t, time.UTC, out[0].Timestamp.Location())
	assert.Equal(t, threat.TypeDomain, out[1].Type)
}

func TestOTX_FetchFollowsPages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-OTX-API-KEY"))
		assert.Equal(t, "/api/v1/pulses/subscribed", r.URL.Path)
		page := map[string]any{}
		if r.URL.Query().Get("page") == "" {
			page["results"] = []map[string]any{{
				"id": "p1", "name": "Campaign",
				"indicators": []map[string]any{
					{"indicator": "5.6.7.8", "type": "IPv4"},
					{"indicator": "d41d8cd98f00b204e9800998ecf8427e", "type": "FileHash-MD5"},
				},
			}}
			page["next"] = srv.URL + "/api/v1/pulses/subscribed?page=2"
		} else {
			page["results"] = []map[string]any{{
				"id": "p2", "indicators": []map[string]any{{"indicator": "bad.example", "type": "hostname"}},
			}}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	out := build(t, NewOTX, threat.SourceConfig{URL: srv.URL, APIKey: "key"}).Fetch(context.Background())

	require.Len(t, out, 3)
	assert.Equal(t, threat.TypeIP, out[0].Type)
	assert.Equal(t, threat.TypeMD5, out[1].Type)
	assert.Equal(t, "p1", out[1].Data["pulse_id"])
	assert.Equal(t, threat.TypeDomain, out[2].Type)
}

func TestShodan_Fetch(t *testing.T) {
	srv := serveJSON(t, func(r *http.Request) {
		assert.Equal(t, "/shodan/host/search", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "org:example", r.URL.Query().Get("query"))
	}, map[string]any{"total": 2, "matches": []map[string]any{
		{"ip_str": "8.8.8.8", "port": 22, "org": "Example"},
		{"ip_str": "2001:db8::1", "port": 443},
	}})

	out := build(t, NewShodan, threat.SourceConfig{URL: srv.URL, APIKey: "k", Options: map[string]string{"query": "org:example"}}).
		Fetch(context.Background())

	require.Len(t, out, 2)
	assert.Equal(t, threat.TypeIP, out[0].Type)
	assert.Equal(t, 22, out[0].Data["port"])
	assert.Equal(t, threat.TypeIPv6, out[1].Type)
}

func TestSpiderfoot_LatestScan(t *testing.T) {
	srv := serveJSON(t, func(r *http.Request) {
		assert.Equal(t, "/scan", r.URL.Path)
		assert.Equal(t, "sf-key", r.Header.Get("X-Api-Key"))
	}, []map[string]any{
		{"scan_id": "old", "status": "FINISHED"},
		{"scan_id": "new", "status": "RUNNING"},
	})

	out := build(t, NewSpiderfoot, threat.SourceConfig{URL: srv.URL, APIKey: "sf-key"}).Fetch(context.Background())

	require.Len(t, out, 1)
	assert.Equal(t, "new", out[0].Indicator)
	assert.Equal(t, threat.TypeOSINT, out[0].Type)
	assert.Equal(t, "low", out[0].Confidence.String())
	assert.Equal(t, "RUNNING", out[0].Data["status"])
}

func TestSpiderfoot_NoScans(t *testing.T) {
	srv := serveJSON(t, nil, []map[string]any{})
	out := build(t, NewSpiderfoot, threat.SourceConfig{URL: srv.URL, APIKey: "k"}).Fetch(context.Background())
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestThreatFox_Fetch(t *testing.T) {
	srv := serveJSON(t, func(r *http.Request) {
		assert.Equal(t, "/api/v1/", r.URL.Path)
		assert.Equal(t, "tf", r.Header.Get("Auth-Key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "get_iocs", body["query"])
		assert.Equal(t, float64(3), body["days"])
	}, map[string]any{"query_status": "ok", "data": []map[string]any{
		{"ioc": "1.2.3.4:443", "ioc_type": "ip:port", "malware_printable": "Cobalt Strike"},
		{"ioc": "https://evil.example/x", "ioc_type": "url"},
	}})

	out := build(t, NewThreatFox, threat.SourceConfig{URL: srv.URL, APIKey: "tf", Options: map[string]string{"days": "3"}}).
		Fetch(context.Background())

	require.Len(t, out, 2)
	assert.Equal(t, "1.2.3.4", out[0].Indicator)
	assert.Equal(t, "1.2.3.4:443", out[0].Data["ioc"])
	assert.Equal(t, threat.TypeURL, out[1].Type)
}

func TestThreatFox_BadQueryStatus(t *testing.T) {
	srv := serveJSON(t, nil, map[string]any{"query_status": "illegal_search_term", "data": "Your search term is not valid"})
	tf := build(t, NewThreatFox, threat.SourceConfig{URL: srv.URL, APIKey: "tf"}).(*ThreatFox)

	out := tf.Fetch(context.Background())
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Equal(t, 1, tf.breaker.failures)
}

func TestThreatFox_NoResultIsNotAFailure(t *testing.T) {
	srv := serveJSON(t, nil, map[string]any{"query_status": "no_result", "data": "Your search did not yield any results"})
	tf := build(t, NewThreatFox, threat.SourceConfig{URL: srv.URL, APIKey: "tf"}).(*ThreatFox)

	for i := 0; i < maxFailures+1; i++ {
		out := tf.Fetch(context.Background())
		assert.NotNil(t, out)
		assert.Empty(t, out)
		assert.Equal(t, CircuitClosed, tf.breaker.State(), "fetch %d", i)
		assert.Equal(t, 0, tf.breaker.failures)
	}
}

func TestFetchFailuresReturnEmpty(t *testing.T) {
	unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer unauthorized.Close()
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer garbage.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	for name, url := range map[string]string{"auth": unauthorized.URL, "decode": garbage.URL, "timeout": slow.URL} {
		t.Run(name, func(t *testing.T) {
			a := build(t, NewOTX, threat.SourceConfig{URL: url, APIKey: "k", Timeout: 50 * time.Millisecond})
			out := a.Fetch(context.Background())
			assert.NotNil(t, out)
			assert.Empty(t, out)
		})
	}
}

func TestBreakerStopsCallingFailingFeed(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := build(t, NewShodan, threat.SourceConfig{URL: srv.URL, APIKey: "k", Options: map[string]string{"query": "q"}})
	for i := 0; i < maxFailures+2; i++ {
		assert.Empty(t, a.Fetch(context.Background()))
	}
	assert.Equal(t, maxFailures, calls)
	assert.Equal(t, CircuitOpen, a.(*Shodan).breaker.State())
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Minute)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}
