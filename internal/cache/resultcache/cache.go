// Package resultcache is the content-addressed result cache for completed
// diffusion runs.
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"diffgrid/internal/diffusion"
	"diffgrid/internal/gateway/repository/blob"
	"diffgrid/internal/signing"
)

// KeySigningKey keys the hash embedded in cache keys. It only needs to be
// stable; it protects nothing.
const KeySigningKey = "key-hashing-not-security-relevant"

// ResultCache maps run inputs to completed ImageInfo values.
type ResultCache struct {
	store     blob.Store
	keySigner *signing.Signer
	version   int
}

func New(store blob.Store) *ResultCache {
	return &ResultCache{
		store:     store,
		keySigner: signing.New(KeySigningKey),
		version:   diffusion.CacheVersion,
	}
}

// Key derives the cache key for inputs. It is a pure function of every
// field of inputs and of the cache version.
func (c *ResultCache) Key(inputs diffusion.RunInputs) diffusion.CacheKey {
	return diffusion.NewCacheKey(c.version, c.keySigner.Sign(inputs.Fields()))
}

// Fetch returns the stored value for key. A key never stored yields
// (nil, false, nil).
func (c *ResultCache) Fetch(ctx context.Context, key diffusion.CacheKey) (*diffusion.ImageInfo, bool, error) {
	raw, err := c.store.Get(ctx, key.String())
	if errors.Is(err, blob.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch %s: %w", key, err)
	}
	var info diffusion.ImageInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return &info, true, nil
}

// Store writes value at key, overwriting whatever is there. Equal inputs
// produce equal outputs, so concurrent writers agree on the content.
func (c *ResultCache) Store(ctx context.Context, key diffusion.CacheKey, value diffusion.ImageInfo) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.store.Put(ctx, key.String(), raw); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}
