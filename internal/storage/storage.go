// Package storage selects the object store backend holding device assets.
package storage

import (
	"fmt"

	"example.com/schoolsync/internal/config"
	"example.com/schoolsync/internal/domain"
	"example.com/schoolsync/internal/storage/s3"
	"example.com/schoolsync/internal/storage/supabase"
)

// New returns the backend named by cfg.ObjectStoreBackend.
func New(cfg config.Config) (domain.ObjectStore, error) {
	switch cfg.ObjectStoreBackend {
	case config.BackendSupabase:
		return supabase.NewClient(cfg.SupabaseURL, cfg.AssetBucket, cfg.SupabaseServiceKey), nil
	case config.BackendS3:
		return s3.New(s3.Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			Bucket:    cfg.AssetBucket,
		})
	}
	return nil, fmt.Errorf("unknown object store backend %q", cfg.ObjectStoreBackend)
}
