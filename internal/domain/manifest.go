package domain

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/schoolsync/internal/observability"
)

// ThumbnailSuffix marks derived thumbnails that are never offered for sync.
const ThumbnailSuffix = ".thumb.webp"

// DefaultSignedURLTTL is how long a download URL stays valid.
const DefaultSignedURLTTL = 24 * time.Hour

const defaultSignConcurrency = 8

// AssetObject is one object under a device prefix, as listed by the store.
type AssetObject struct {
	Path      string
	Name      string
	UpdatedAt string
	CreatedAt string
	Metadata  map[string]any
}

// ManifestEntry is what a device believes it holds for a path.
type ManifestEntry struct {
	Path      string
	UpdatedAt string
}

// DownloadItem is an AssetObject with a retrieval URL attached.
type DownloadItem struct {
	AssetObject
	URL      string
	Filename string
}

// SyncResult is the outcome of one diff call.
type SyncResult struct {
	ToDownload  []DownloadItem
	ToDelete    []string
	GeneratedAt time.Time
	Bootstrap   bool
}

// ObjectStore is the object storage backend holding device assets.
type ObjectStore interface {
	// List returns the objects directly under prefix ordered by name.
	List(ctx context.Context, prefix string) ([]AssetObject, error)
	// SignURL mints a retrieval URL for path valid for ttl.
	SignURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// SyncOption configures optional behaviour for the SyncService.
type SyncOption func(*SyncService)

// WithSyncLogger overrides the logger used to report degraded results.
func WithSyncLogger(logger *log.Logger) SyncOption {
	return func(s *SyncService) {
		s.logger = logger
	}
}

// WithSignedURLTTL overrides the lifetime of minted download URLs.
func WithSignedURLTTL(ttl time.Duration) SyncOption {
	return func(s *SyncService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSignConcurrency bounds the number of concurrent signing calls.
func WithSignConcurrency(n int) SyncOption {
	return func(s *SyncService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock overrides the time source used for GeneratedAt.
func WithClock(now func() time.Time) SyncOption {
	return func(s *SyncService) {
		s.now = now
	}
}

// SyncService computes manifest diffs for devices.
type SyncService struct {
	resolver    *Resolver
	store       ObjectStore
	ttl         time.Duration
	concurrency int
	now         func() time.Time
	logger      *log.Logger
}

// NewSyncService constructs a SyncService.
func NewSyncService(dir Directory, store ObjectStore, opts ...SyncOption) *SyncService {
	s := &SyncService{
		resolver:    NewResolver(dir),
		store:       store,
		ttl:         DefaultSignedURLTTL,
		concurrency: defaultSignConcurrency,
		now:         time.Now,
		logger:      log.New(log.Writer(), "[sync] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Diff reconciles the device's manifest against the objects under its prefix.
// A nil known slice means the device has nothing yet.
func (s *SyncService) Diff(ctx context.Context, credential string, known []ManifestEntry) (SyncResult, error) {
	device, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		outcome := observability.OutcomeUnavailable
		if errors.Is(err, ErrDeviceNotFound) {
			outcome = observability.OutcomeNotFound
		}
		observability.RecordDiff(outcome)
		return SyncResult{}, err
	}

	listed, err := s.store.List(ctx, device.StoragePrefix())
	if err != nil {
		observability.RecordDiff(observability.OutcomeUnavailable)
		return SyncResult{}, unavailable("list objects", err)
	}
	objects := syncable(listed)

	result := SyncResult{
		ToDelete:  []string{},
		Bootstrap: known == nil,
	}

	candidates := objects
	if known != nil {
		var toDelete []string
		candidates, toDelete = diffManifest(objects, known)
		result.ToDelete = append(result.ToDelete, toDelete...)
	}

	result.ToDownload = s.sign(ctx, device, candidates)
	result.GeneratedAt = s.now().UTC()
	observability.RecordDiff(observability.OutcomeOK)
	return result, nil
}

// syncable drops unnamed entries and derived thumbnails.
func syncable(objects []AssetObject) []AssetObject {
	out := make([]AssetObject, 0, len(objects))
	for _, obj := range objects {
		if obj.Name == "" || strings.HasSuffix(obj.Name, ThumbnailSuffix) {
			continue
		}
		out = append(out, obj)
	}
	return out
}

// diffManifest compares the listing with the device's manifest by path and
// revision stamp. Stamps are compared as strings. When a path repeats, the
// last non-empty stamp for it wins.
func diffManifest(objects []AssetObject, known []ManifestEntry) (download []AssetObject, remove []string) {
	current := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		current[obj.Path] = struct{}{}
	}

	knownPaths := make(map[string]struct{}, len(known))
	knownStamp := make(map[string]string, len(known))
	for _, entry := range known {
		if entry.Path == "" {
			continue
		}
		if entry.UpdatedAt != "" {
			knownStamp[entry.Path] = entry.UpdatedAt
		}
		if _, seen := knownPaths[entry.Path]; seen {
			continue
		}
		knownPaths[entry.Path] = struct{}{}
		if _, ok := current[entry.Path]; !ok {
			remove = append(remove, entry.Path)
		}
	}

	for _, obj := range objects {
		_, ok := knownPaths[obj.Path]
		if !ok || knownStamp[obj.Path] != obj.UpdatedAt {
			download = append(download, obj)
		}
	}
	return download, remove
}

// sign mints URLs concurrently. Objects whose URL cannot be minted are left
// out; the device picks them up on its next poll.
func (s *SyncService) sign(ctx context.Context, device DeviceIdentity, candidates []AssetObject) []DownloadItem {
	signed := make([]*DownloadItem, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, obj := range candidates {
		i, obj := i, obj
		g.Go(func() error {
			url, err := s.store.SignURL(gctx, obj.Path, s.ttl)
			if err != nil {
				s.logger.Printf("sign url failed (device=%s, path=%s): %v", device.ID, obj.Path, err)
				observability.RecordSignFailure()
				return nil
			}
			signed[i] = &DownloadItem{AssetObject: obj, URL: url, Filename: obj.Name}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]DownloadItem, 0, len(candidates))
	for _, item := range signed {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out
}
