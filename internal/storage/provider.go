// Package storage opens the blob store raw detail pages are archived to.
// Implementations live in the local, gcs and memory subpackages.
package storage

import (
	"context"
	"fmt"

	"github.com/JakeFAU/danfs-crawler/internal/config"
	"github.com/JakeFAU/danfs-crawler/internal/crawler"
	"github.com/JakeFAU/danfs-crawler/internal/storage/gcs"
	"github.com/JakeFAU/danfs-crawler/internal/storage/local"
	"github.com/JakeFAU/danfs-crawler/internal/storage/memory"
)

// CloseFunc releases resources held by an opened archive.
type CloseFunc func() error

func noopClose() error { return nil }

// Open builds the archive selected by cfg.Provider. The "none" provider
// returns a nil store, which disables archiving.
func Open(ctx context.Context, cfg config.ArchiveConfig) (crawler.BlobStore, CloseFunc, error) {
	switch cfg.Provider {
	case "", config.ArchiveNone:
		return nil, noopClose, nil
	case config.ArchiveMemory:
		return memory.NewBlobStore(), noopClose, nil
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("open local archive: %w", err)
		}
		return store, noopClose, nil
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCS.Bucket})
		if err != nil {
			return nil, nil, fmt.Errorf("open gcs archive: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive provider %q", cfg.Provider)
	}
}
