package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store persists opaque objects under string keys. Implementations must be
// safe for concurrent use and return ErrNotFound for keys never written.
type Store interface {
	Put(ctx context.Context, key string, content []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

var ErrNotFound = errors.New("blob not found")

func normalizeKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	return key, nil
}
