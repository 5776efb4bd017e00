// Package supabase lists and signs device assets held in Supabase Storage.
package supabase

import (
	"context"
	"fmt"
	"strings"
	"time"

	storage_go "github.com/supabase-community/storage-go"

	"example.com/schoolsync/internal/domain"
)

const pageSize = 100

// storageAPI is the subset of the storage-go client the Client uses.
type storageAPI interface {
	ListFiles(bucketID string, queryPath string, options storage_go.FileSearchOptions) ([]storage_go.FileObject, error)
	CreateSignedUrl(bucketID string, filePath string, expiresIn int) (storage_go.SignedUrlResponse, error)
}

// Client lists and signs objects in one Supabase Storage bucket.
type Client struct {
	api        storageAPI
	storageURL string
	bucket     string
}

// NewClient constructs a Client for bucket using the service role key.
// baseURL is the project URL; the storage API lives under /storage/v1.
func NewClient(baseURL, bucket, serviceKey string) *Client {
	storageURL := strings.TrimRight(baseURL, "/") + "/storage/v1"
	api := storage_go.NewClient(storageURL, serviceKey, map[string]string{"apikey": serviceKey})
	return &Client{api: api, storageURL: storageURL, bucket: bucket}
}

// List returns the files directly under prefix ordered by name. Folder
// placeholders, which carry no id, are skipped. The storage client takes no
// context, so ctx is checked between pages.
func (c *Client) List(ctx context.Context, prefix string) ([]domain.AssetObject, error) {
	prefix = strings.Trim(prefix, "/")
	objects := make([]domain.AssetObject, 0)

	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := c.api.ListFiles(c.bucket, prefix, storage_go.FileSearchOptions{
			Limit:         pageSize,
			Offset:        offset,
			SortByOptions: storage_go.SortBy{Column: "name", Order: "asc"},
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page {
			if obj.Id == "" || obj.Name == "" {
				continue
			}
			metadata, _ := obj.Metadata.(map[string]any)
			objects = append(objects, domain.AssetObject{
				Path:      prefix + "/" + obj.Name,
				Name:      obj.Name,
				UpdatedAt: obj.UpdatedAt,
				CreatedAt: obj.CreatedAt,
				Metadata:  metadata,
			})
		}
		if len(page) < pageSize {
			return objects, nil
		}
	}
}

// SignURL mints a signed download URL for path.
func (c *Client) SignURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := c.api.CreateSignedUrl(c.bucket, strings.Trim(path, "/"), int(ttl/time.Second))
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", path, err)
	}
	return c.absolute(resp.SignedURL, path)
}

// absolute resolves the storage-relative URL some server versions return.
func (c *Client) absolute(signed, path string) (string, error) {
	switch {
	case signed == "", signed == c.storageURL:
		return "", fmt.Errorf("sign %s: empty signedURL", path)
	case strings.HasPrefix(signed, "http://"), strings.HasPrefix(signed, "https://"):
		return signed, nil
	}
	return c.storageURL + "/" + strings.TrimLeft(signed, "/"), nil
}
