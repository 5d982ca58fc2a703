package reportstore

import (
	"context"
	"fmt"
)

// Backend names accepted by New.
const (
	TypeFS  = "fs"
	TypeS3  = "s3"
	TypeGCS = "gcs"
)

type StoreConfig struct {
	Type     string `yaml:"type"`
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// New builds the store selected by cfg.Type, defaulting to a "reports"
// directory on local disk.
func New(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Type {
	case "", TypeFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "reports"
		}
		return NewFileStore(dir)
	case TypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 report store: bucket is required")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{Bucket: cfg.Bucket, Region: region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case TypeGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("gcs report store: bucket is required")
		}
		return NewGCSStore(ctx, GCSStoreConfig{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
	default:
		return nil, fmt.Errorf("unsupported report store type: %s", cfg.Type)
	}
}
