// Package s3 serves device assets from an S3 compatible bucket through minio-go.
package s3

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"example.com/schoolsync/internal/domain"
)

type objectAPI interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error)
}

// Options configures the S3 connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// Store lists and presigns objects in one bucket.
type Store struct {
	api    objectAPI
	bucket string
}

// New connects to the endpoint described by opts.
func New(opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &Store{api: client, bucket: opts.Bucket}, nil
}

// List returns the objects directly under prefix in key order. Nested
// prefixes are not descended into.
func (s *Store) List(ctx context.Context, prefix string) ([]domain.AssetObject, error) {
	prefix = strings.Trim(prefix, "/")
	objects := make([]domain.AssetObject, 0)

	for info := range s.api.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix + "/", Recursive: false}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, info.Err)
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}
		name := strings.TrimPrefix(info.Key, prefix+"/")
		stamp := info.LastModified.UTC().Format(time.RFC3339Nano)
		objects = append(objects, domain.AssetObject{
			Path:      info.Key,
			Name:      name,
			UpdatedAt: stamp,
			CreatedAt: stamp,
			Metadata: map[string]any{
				"eTag":     strings.Trim(info.ETag, `"`),
				"size":     info.Size,
				"mimetype": info.ContentType,
			},
		})
	}
	return objects, nil
}

// SignURL presigns a GET for path.
func (s *Store) SignURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	u, err := s.api.PresignedGetObject(ctx, s.bucket, path, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", path, err)
	}
	return u.String(), nil
}
