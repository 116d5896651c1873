// Package cache stores generated previews keyed by URL.
package cache

import (
	"context"

	"github.com/ZhangHanDong/urlpreview/pkg/extract"
)

// Cache is the preview store contract. Get returns (nil, false, nil) on a
// miss; errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) (*extract.Preview, bool, error)
	Set(ctx context.Context, key string, preview *extract.Preview) error
	Close() error
}
