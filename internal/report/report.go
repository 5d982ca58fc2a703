// Package report wraps an analyzed indicator set into the document written
// once per pipeline run.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"intelpipe/internal/threat"
)

const (
	// DefaultName labels documents when no name is configured.
	DefaultName = "intel_report"

	// TimeLayout is the generated_at wire format, UTC with microseconds.
	TimeLayout = "2006-01-02T15:04:05.000000Z"

	filePrefix = "intel_report_"
	fileSuffix = ".json"
	fileLayout = "20060102T150405Z"
)

// Document is the report wire contract: name, generated_at and items.
type Document struct {
	Name        string
	GeneratedAt time.Time
	Items       []*threat.Indicator
}

type wireDocument struct {
	Name        string              `json:"name"`
	GeneratedAt string              `json:"generated_at"`
	Items       []*threat.Indicator `json:"items"`
}

func (d Document) MarshalJSON() ([]byte, error) {
	items := d.Items
	if items == nil {
		items = []*threat.Indicator{}
	}
	return json.Marshal(wireDocument{
		Name:        d.Name,
		GeneratedAt: d.GeneratedAt.UTC().Format(TimeLayout),
		Items:       items,
	})
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var w wireDocument
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	t, err := parseTime(w.GeneratedAt)
	if err != nil {
		return fmt.Errorf("generated_at: %w", err)
	}
	if w.Items == nil {
		w.Items = []*threat.Indicator{}
	}
	*d = Document{Name: w.Name, GeneratedAt: t, Items: w.Items}
	return nil
}

// Accepts the native layout and plain RFC 3339, with or without offset.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02T15:04:05.999999", strings.TrimSuffix(s, "Z"))
}

// Assembler stamps analyzed records with generation metadata. It does not
// filter or validate items.
type Assembler struct {
	Name  string
	Clock func() time.Time
}

func NewAssembler(name string) *Assembler {
	if name == "" {
		name = DefaultName
	}
	return &Assembler{Name: name, Clock: time.Now}
}

// Generate returns a document holding items in their given order.
func (a *Assembler) Generate(items []*threat.Indicator) *Document {
	now := time.Now
	if a.Clock != nil {
		now = a.Clock
	}
	materialized := make([]*threat.Indicator, len(items))
	copy(materialized, items)
	return &Document{
		Name:        a.Name,
		GeneratedAt: now().UTC(),
		Items:       materialized,
	}
}

// Marshal renders doc as indented JSON.
func Marshal(doc *Document) ([]byte, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return b, nil
}

// Parse decodes a stored document.
func Parse(b []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &doc, nil
}

// Filename is the storage key for a document generated at t. Keys sort
// lexicographically in generation order.
func Filename(t time.Time) string {
	return SequencedFilename(t, 0)
}

// SequencedFilename is the key for the n-th document generated within the
// same second as t. n of 0 gives Filename(t); later ones sort after it and
// before the next second.
func SequencedFilename(t time.Time, n int) string {
	stamp := t.UTC().Format(fileLayout)
	if n > 0 {
		stamp += fmt.Sprintf("_%03d", n)
	}
	return filePrefix + stamp + fileSuffix
}

// IsReportKey reports whether name looks like a key made by Filename.
func IsReportKey(name string) bool {
	_, err := KeyTime(name)
	return err == nil
}

// KeyTime recovers the generation time encoded in a report key.
func KeyTime(name string) (time.Time, error) {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, fmt.Errorf("not a report key: %q", name)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	if i := strings.IndexByte(stamp, '_'); i >= 0 {
		seq := stamp[i+1:]
		if len(seq) != 3 || strings.Trim(seq, "0123456789") != "" {
			return time.Time{}, fmt.Errorf("not a report key: %q", name)
		}
		stamp = stamp[:i]
	}
	return time.Parse(fileLayout, stamp)
}
