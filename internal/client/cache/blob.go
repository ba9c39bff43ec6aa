package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/cryptox"
	"github.com/dmitrijs2005/famsync/internal/filex"
)

// BlobStore holds the cached bytes addressed by cache key. Get returns
// common.ErrorNotFound for a missing key; Delete of a missing key is not an
// error.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

var ErrInvalidKey = errors.New("invalid cache key")

// FileBlobStore keeps one snappy-compressed file per key under a directory.
// With a sealing key, files are additionally encrypted and bound to their
// cache key.
type FileBlobStore struct {
	dir     string
	sealKey []byte
}

func NewFileBlobStore(dir string, sealKey []byte) (*FileBlobStore, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare cache dir: %w", err)
	}
	if sealKey != nil && len(sealKey) != cryptox.KeySize {
		return nil, fmt.Errorf("seal key must be %d bytes", cryptox.KeySize)
	}
	return &FileBlobStore{dir: abs, sealKey: sealKey}, nil
}

// Dir is the root directory, used for free-space probing.
func (s *FileBlobStore) Dir() string {
	return s.dir
}

func (s *FileBlobStore) path(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, rel) + ".blob", nil
}

func (s *FileBlobStore) Put(_ context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if _, err := filex.EnsureDir(filepath.Dir(p)); err != nil {
		return err
	}

	out := snappy.Encode(nil, data)
	if s.sealKey != nil {
		if out, err = cryptox.Seal(s.sealKey, out, []byte(key)); err != nil {
			return fmt.Errorf("failed to seal blob: %w", err)
		}
	}
	return filex.WriteAtomic(p, out)
}

func (s *FileBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	if s.sealKey != nil {
		if raw, err = cryptox.Open(s.sealKey, raw, []byte(key)); err != nil {
			return nil, fmt.Errorf("failed to open blob: %w", err)
		}
	}
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob: %w", err)
	}
	return data, nil
}

func (s *FileBlobStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	return filex.RemoveIfExists(p)
}
