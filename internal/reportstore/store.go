// Package reportstore persists report documents, one object per run, keyed
// by generation time.
package reportstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"intelpipe/internal/report"
)

var (
	// ErrNoReports is returned by Latest when nothing has been stored yet.
	ErrNoReports = errors.New("no reports available")
	// ErrNotFound is returned by Get for a key that is not stored.
	ErrNotFound = errors.New("report not found")

	errKeyExists = errors.New("report key exists")
)

// maxSequence bounds how many documents may share one generation second.
const maxSequence = 999

// Store is a report sink that can hand back stored documents. Documents are
// never overwritten once written.
type Store interface {
	// Put writes doc under a new key and returns where it was stored.
	Put(ctx context.Context, doc *report.Document) (string, error)
	// Latest returns the most recently generated document.
	Latest(ctx context.Context) (*report.Document, error)
	// List returns the stored report names, oldest first.
	List(ctx context.Context) ([]string, error)
	// Get reads one report by the name List returned. A full path or URI
	// as returned by Put is accepted too.
	Get(ctx context.Context, name string) (*report.Document, error)
}

func encode(doc *report.Document) ([]byte, error) {
	if doc == nil {
		return nil, errors.New("nil document")
	}
	return report.Marshal(doc)
}

func decode(key string, b []byte) (*report.Document, error) {
	if err := Validate(b); err != nil {
		return nil, fmt.Errorf("report %s: %w", key, err)
	}
	doc, err := report.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", key, err)
	}
	return doc, nil
}

// create writes a new object and fails with errKeyExists instead of
// replacing one.
type create func(name string) error

// putNew stores under the first free name for t. Runs that land in the same
// second get sequenced names that still sort in write order.
func putNew(t time.Time, fn create) (string, error) {
	for n := 0; n <= maxSequence; n++ {
		name := report.SequencedFilename(t, n)
		err := fn(name)
		if errors.Is(err, errKeyExists) {
			continue
		}
		if err != nil {
			return "", err
		}
		return name, nil
	}
	return "", fmt.Errorf("no free report key for %s", report.Filename(t))
}

// reportNames keeps report keys only, as base names, oldest first.
func reportNames(keys []string) []string {
	names := []string{}
	for _, k := range keys {
		if report.IsReportKey(k) {
			names = append(names, baseName(k))
		}
	}
	sort.Strings(names)
	return names
}

// reportName reduces a name, path or URI to a validated report name.
func reportName(name string) (string, error) {
	base := baseName(name)
	if !report.IsReportKey(base) {
		return "", fmt.Errorf("%w: %q is not a report key", ErrNotFound, name)
	}
	return base, nil
}

func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// latest reads the newest report through s.
func latest(ctx context.Context, s Store) (*report.Document, error) {
	names, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNoReports
	}
	return s.Get(ctx, names[len(names)-1])
}
