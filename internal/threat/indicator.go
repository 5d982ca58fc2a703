package threat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Confidence is either a numeric score on a 0-1 scale or an ordinal label
// such as "low". Adapters may set either; risk scoring always sets a score.
type Confidence struct {
	score   float64
	label   string
	numeric bool
}

// Score returns a numeric confidence.
func Score(v float64) *Confidence { return &Confidence{score: v, numeric: true} }

// Label returns an ordinal confidence.
func Label(s string) *Confidence { return &Confidence{label: s} }

// Float returns the numeric score and whether the confidence is numeric.
func (c *Confidence) Float() (float64, bool) {
	if c == nil || !c.numeric {
		return 0, false
	}
	return c.score, true
}

func (c *Confidence) String() string {
	if c == nil {
		return ""
	}
	if c.numeric {
		return strconv.FormatFloat(c.score, 'f', -1, 64)
	}
	return c.label
}

func (c Confidence) MarshalJSON() ([]byte, error) {
	if c.numeric {
		return json.Marshal(c.score)
	}
	return json.Marshal(c.label)
}

func (c *Confidence) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*c = Confidence{score: t, numeric: true}
	case string:
		*c = Confidence{label: t}
	default:
		return fmt.Errorf("confidence: unsupported value %s", b)
	}
	return nil
}

// field names shared with every downstream consumer
const (
	fieldIndicator  = "indicator"
	fieldType       = "type"
	fieldSource     = "source"
	fieldConfidence = "confidence"
	fieldTimestamp  = "timestamp"
	fieldData       = "data"
	fieldCorrelated = "correlated"
	fieldCompliance = "compliance"
)

var knownFields = map[string]bool{
	fieldIndicator: true, fieldType: true, fieldSource: true, fieldConfidence: true,
	fieldTimestamp: true, fieldData: true, fieldCorrelated: true, fieldCompliance: true,
}

// MarshalJSON writes the record with a stable field order. Unset annotations
// are omitted; a compliance list that was set but is empty is written as [].
func (i Indicator) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	n := 0
	put := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		n++
		buf.WriteString(strconv.Quote(key))
		buf.WriteByte(':')
		buf.Write(b)
		return nil
	}

	if err := put(fieldIndicator, i.Indicator); err != nil {
		return nil, err
	}
	if err := put(fieldType, i.Type); err != nil {
		return nil, err
	}
	if err := put(fieldSource, i.Source); err != nil {
		return nil, err
	}
	if i.Confidence != nil {
		if err := put(fieldConfidence, i.Confidence); err != nil {
			return nil, err
		}
	}
	if !i.Timestamp.IsZero() {
		if err := put(fieldTimestamp, i.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return nil, err
		}
	}
	if i.Data != nil {
		if err := put(fieldData, i.Data); err != nil {
			return nil, err
		}
	}
	if i.Correlated != nil {
		if err := put(fieldCorrelated, *i.Correlated); err != nil {
			return nil, err
		}
	}
	if i.Compliance != nil {
		if err := put(fieldCompliance, i.Compliance); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(i.Extra))
	for k := range i.Extra {
		if !knownFields[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := put(k, i.Extra[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (i *Indicator) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*i = Indicator{}

	str := func(key string, dst *string) error {
		if v, ok := raw[key]; ok && string(v) != "null" {
			if err := json.Unmarshal(v, dst); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
		return nil
	}
	if err := str(fieldIndicator, &i.Indicator); err != nil {
		return err
	}
	if err := str(fieldType, &i.Type); err != nil {
		return err
	}
	if err := str(fieldSource, &i.Source); err != nil {
		return err
	}
	if v, ok := raw[fieldConfidence]; ok && string(v) != "null" {
		i.Confidence = new(Confidence)
		if err := json.Unmarshal(v, i.Confidence); err != nil {
			return err
		}
	}
	var ts string
	if err := str(fieldTimestamp, &ts); err != nil {
		return err
	}
	if ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		i.Timestamp = t
	}
	if v, ok := raw[fieldData]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &i.Data); err != nil {
			return fmt.Errorf("data: %w", err)
		}
	}
	if v, ok := raw[fieldCorrelated]; ok && string(v) != "null" {
		var c bool
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("correlated: %w", err)
		}
		i.Correlated = &c
	}
	if v, ok := raw[fieldCompliance]; ok && string(v) != "null" {
		i.Compliance = []string{}
		if err := json.Unmarshal(v, &i.Compliance); err != nil {
			return fmt.Errorf("compliance: %w", err)
		}
	}

	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		if i.Extra == nil {
			i.Extra = make(map[string]any)
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		i.Extra[k] = val
	}
	return nil
}
