package updater

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Package is an opened release archive
type Package struct {
	Name    string
	Size    int64
	ModTime time.Time
	Content io.ReadSeekCloser
}

// PackageStore opens release archives by file name
type PackageStore interface {
	Open(ctx context.Context, name string) (*Package, error)
}

// FilePackageStore serves archives from a local directory
type FilePackageStore struct {
	dir string
}

// NewFilePackageStore creates a store rooted at dir
func NewFilePackageStore(dir string) *FilePackageStore {
	return &FilePackageStore{dir: dir}
}

// Open opens a package file. Names containing path elements are rejected.
func (s *FilePackageStore) Open(_ context.Context, name string) (*Package, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == ".." {
		return nil, fmt.Errorf("package name %q: %w", name, ErrPackageMissing)
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("package %s: %w", name, ErrPackageMissing)
		}
		return nil, fmt.Errorf("open package %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat package %s: %w", name, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("package %s is a directory: %w", name, ErrPackageMissing)
	}

	return &Package{
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Content: f,
	}, nil
}

// VerifyArchive checks that a package file is a readable zip archive with
// at least one entry
func VerifyArchive(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	if len(r.File) == 0 {
		return fmt.Errorf("archive %s is empty", filepath.Base(path))
	}
	return nil
}
