// Package drive discovers bank partitions: each subfolder of the
// configured root Drive folder is one bank, and the first spreadsheet
// inside it is that bank's movement sub-ledger. Discovery is expensive,
// so the map is cached in memory; the reconciliation engine only ever
// consumes the cache and treats an empty cache as a precondition
// failure rather than triggering discovery itself.
package drive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	folderMimeType      = "application/vnd.google-apps.folder"
	spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
)

// PartitionCache discovers and caches the bank-to-spreadsheet map.
type PartitionCache struct {
	svc          *drive.Service
	rootFolderID string
	log          zerolog.Logger

	mu          sync.RWMutex
	partitions  map[string]string
	refreshedAt time.Time
}

// NewPartitionCache creates an empty cache over the given root folder.
// The cache starts cold: CachedPartitions returns nil until the first
// successful Refresh.
func NewPartitionCache(ctx context.Context, log zerolog.Logger, rootFolderID string, opts ...option.ClientOption) (*PartitionCache, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewPartitionCache: creating drive service: %w", err)
	}
	return &PartitionCache{svc: svc, rootFolderID: rootFolderID, log: log}, nil
}

// Refresh re-discovers the folder structure and replaces the cache.
func (c *PartitionCache) Refresh(ctx context.Context) (map[string]string, error) {
	folders, err := c.listChildren(ctx, c.rootFolderID, folderMimeType)
	if err != nil {
		return nil, fmt.Errorf("Refresh: listing bank folders: %w", err)
	}

	partitions := make(map[string]string, len(folders))
	for _, folder := range folders {
		spreadsheets, err := c.listChildren(ctx, folder.Id, spreadsheetMimeType)
		if err != nil {
			return nil, fmt.Errorf("Refresh: listing spreadsheets in %q: %w", folder.Name, err)
		}
		if len(spreadsheets) == 0 {
			c.log.Warn().Str("bank", folder.Name).Msg("Bank folder has no movement spreadsheet, skipping")
			continue
		}
		if len(spreadsheets) > 1 {
			c.log.Warn().Str("bank", folder.Name).Int("count", len(spreadsheets)).
				Msg("Bank folder has multiple spreadsheets, using the first")
		}
		partitions[folder.Name] = spreadsheets[0].Id
	}

	c.store(partitions)
	c.log.Info().Int("banks", len(partitions)).Msg("Partition map refreshed")
	return partitions, nil
}

// CachedPartitions returns a copy of the cached map, or nil when
// discovery has not run yet.
func (c *PartitionCache) CachedPartitions(ctx context.Context) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.partitions == nil {
		return nil
	}
	out := make(map[string]string, len(c.partitions))
	for k, v := range c.partitions {
		out[k] = v
	}
	return out
}

// RefreshedAt reports when the cache was last filled, zero when never.
func (c *PartitionCache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

func (c *PartitionCache) store(partitions map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partitions = partitions
	c.refreshedAt = time.Now()
}

func (c *PartitionCache) listChildren(ctx context.Context, parentID, mimeType string) ([]*drive.File, error) {
	query := fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false", parentID, mimeType)

	var files []*drive.File
	pageToken := ""
	for {
		call := c.svc.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name)").
			OrderBy("name").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, err
		}
		files = append(files, resp.Files...)
		if resp.NextPageToken == "" {
			return files, nil
		}
		pageToken = resp.NextPageToken
	}
}
