package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/websynth/patchbay"
)

const fileExt = ".yml"

// File stores each description as a YAML file in a directory.
type File struct {
	BasePath string
}

// NewFile returns a file store rooted at basePath. An empty basePath means
// ".patchbay/sessions".
func NewFile(basePath string) *File {
	if basePath == "" {
		basePath = filepath.Join(".patchbay", "sessions")
	}
	return &File{BasePath: basePath}
}

func (f *File) path(key string) string {
	return filepath.Join(f.BasePath, key+fileExt)
}

func (f *File) Save(_ context.Context, key string, d patchbay.Description) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := os.MkdirAll(f.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}
	data, err := encode(d)
	if err != nil {
		return err
	}
	// write to a temporary file first so a reader never sees half a file
	tmp, err := os.CreateTemp(f.BasePath, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (f *File) Load(_ context.Context, key string) (patchbay.Description, error) {
	if err := checkKey(key); err != nil {
		return patchbay.Description{}, err
	}
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return patchbay.Description{}, ErrNotFound
		}
		return patchbay.Description{}, fmt.Errorf("failed to read session file: %w", err)
	}
	return decode(data)
}

func (f *File) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

func (f *File) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.BasePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	keys := []string{}
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), fileExt); ok && !e.IsDir() {
			keys = append(keys, name)
		}
	}
	slices.Sort(keys)
	return keys, nil
}
