package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelpipe/internal/threat"
)

func TestRegulatory_Rules(t *testing.T) {
	reg, err := NewRegulatory([]Rule{
		{ID: "network", Categories: []string{"NIS2"}, Types: []string{"ip", "domain"}},
		{ID: "curated", Categories: []string{"NIS2", "DORA"}, Sources: []string{"MISP"}, MinConfidence: 0.8},
		{ID: "danish", Categories: []string{"CFCS"}, Expression: `ioc.data.country == "DK"`},
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		rec  *threat.Indicator
		want []string
	}{
		{
			name: "type and source rules",
			rec:  &threat.Indicator{Indicator: "1.2.3.4", Type: "ip", Source: "misp", Confidence: threat.Score(0.9)},
			want: []string{"NIS2", "DORA"},
		},
		{
			name: "below confidence threshold",
			rec:  &threat.Indicator{Indicator: "x", Type: "md5", Source: "misp", Confidence: threat.Score(0.5)},
			want: []string{},
		},
		{
			name: "expression over data",
			rec:  &threat.Indicator{Indicator: "8.8.8.8", Type: "ip", Source: "shodan", Data: map[string]any{"country": "DK"}},
			want: []string{"NIS2", "CFCS"},
		},
		{
			name: "expression with missing key",
			rec:  &threat.Indicator{Indicator: "h", Type: "sha256", Source: "otx"},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.Analyze([]*threat.Indicator{tt.rec})
			assert.Equal(t, tt.want, got[0].Compliance)
		})
	}
}

func TestRegulatory_EmptyTable(t *testing.T) {
	reg, err := NewRegulatory(nil)
	require.NoError(t, err)
	rec := &threat.Indicator{Indicator: "1.2.3.4", Type: "ip", Source: "misp"}
	reg.Analyze([]*threat.Indicator{rec})
	assert.NotNil(t, rec.Compliance)
	assert.Empty(t, rec.Compliance)
}

func TestRegulatory_InvalidRules(t *testing.T) {
	_, err := NewRegulatory([]Rule{{ID: "bad", Categories: []string{"X"}, Expression: "ioc.type =="}})
	assert.ErrorContains(t, err, `rule "bad"`)

	_, err = NewRegulatory([]Rule{{ID: "empty"}})
	assert.ErrorContains(t, err, "no categories")
}
