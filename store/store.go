// Package store persists session descriptions under string keys.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/websynth/patchbay"
)

var (
	ErrNotFound   = errors.New("description not found")
	ErrInvalidKey = errors.New("invalid key")
)

// Store saves and loads descriptions. Implementations are safe for concurrent
// use.
type Store interface {
	Save(ctx context.Context, key string, d patchbay.Description) error
	Load(ctx context.Context, key string) (patchbay.Description, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// checkKey rejects keys that cannot be used as file names or redis key
// suffixes.
func checkKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\:`) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func encode(d patchbay.Description) ([]byte, error) {
	data, err := d.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal description: %w", err)
	}
	return data, nil
}

func decode(data []byte) (patchbay.Description, error) {
	d, err := patchbay.UnmarshalDescription(data)
	if err != nil {
		return patchbay.Description{}, fmt.Errorf("failed to unmarshal description: %w", err)
	}
	return d, nil
}
