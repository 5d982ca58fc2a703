package reportstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"intelpipe/internal/report"
)

type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// GCSStore keeps reports as objects in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore uses application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put writes with a DoesNotExist precondition so an existing report is
// never replaced.
func (s *GCSStore) Put(ctx context.Context, doc *report.Document) (string, error) {
	b, err := encode(doc)
	if err != nil {
		return "", err
	}
	name, err := putNew(doc.GeneratedAt, func(name string) error {
		key := s.prefix + name
		obj := s.client.Bucket(s.bucket).Object(key).If(storage.Conditions{DoesNotExist: true})
		w := obj.NewWriter(ctx)
		w.ContentType = "application/json"
		if _, err := w.Write(b); err != nil {
			_ = w.Close()
			return fmt.Errorf("gcs write %s: %w", key, err)
		}
		err := w.Close()
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return errKeyExists
		}
		if err != nil {
			return fmt.Errorf("gcs close %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return "gs://" + s.bucket + "/" + s.prefix + name, nil
}

func (s *GCSStore) Latest(ctx context.Context) (*report.Document, error) {
	return latest(ctx, s)
}

func (s *GCSStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list: %w", err)
		}
		if k := strings.TrimPrefix(attrs.Name, s.prefix); !strings.Contains(k, "/") {
			keys = append(keys, k)
		}
	}
	return reportNames(keys), nil
}

func (s *GCSStore) Get(ctx context.Context, name string) (*report.Document, error) {
	base, err := reportName(name)
	if err != nil {
		return nil, err
	}
	key := s.prefix + base
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	return decode(key, b)
}

func (s *GCSStore) Close() error { return s.client.Close() }
