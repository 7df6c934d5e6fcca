// Package assets stores post media on the local filesystem.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/blackmichael/post-pipeline/internal/domain"
)

// Filesystem implements domain.AssetStore under a root directory. Refs are
// slash-separated paths relative to the root, e.g. "post_images/x.jpg".
type Filesystem struct {
	root string
}

// NewFilesystem creates the root directory if needed.
func NewFilesystem(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Filesystem{root: root}, nil
}

// Load returns the bytes stored under ref, or domain.ErrNotFound.
func (f *Filesystem) Load(_ context.Context, ref string) ([]byte, error) {
	p, err := f.path(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("asset %q: %w", ref, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read asset %q: %w", ref, err)
	}
	return data, nil
}

// Store writes data under ref. The write goes to a temporary file that is
// renamed into place, so readers never see a partial asset.
func (f *Filesystem) Store(_ context.Context, ref string, data []byte) error {
	p, err := f.path(ref)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create asset dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write asset %q: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close asset %q: %w", ref, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod asset %q: %w", ref, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("rename asset %q: %w", ref, err)
	}
	return nil
}

// Delete removes the asset. Missing assets are ignored.
func (f *Filesystem) Delete(_ context.Context, ref string) error {
	p, err := f.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove asset %q: %w", ref, err)
	}
	return nil
}

func (f *Filesystem) path(ref string) (string, error) {
	if ref == "" || !fs.ValidPath(ref) || strings.Contains(ref, `\`) {
		return "", fmt.Errorf("%w: invalid asset ref %q", domain.ErrInvalidInput, ref)
	}
	return filepath.Join(f.root, filepath.FromSlash(ref)), nil
}
