package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FileStore keeps artifacts under a local directory. Writes go to a temp
// file that is hard-linked into place, so a key is written at most once even
// across processes sharing the directory.
type FileStore struct {
	root   string
	logger *zap.Logger
	group  singleflight.Group
}

func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

func (s *FileStore) Put(ctx context.Context, contentID string, data []byte) (string, error) {
	ref, err := Key(contentID)
	if err != nil {
		return "", err
	}

	_, err, shared := s.group.Do(contentID, func() (interface{}, error) {
		return nil, s.write(ref, data)
	})
	if err != nil {
		return "", err
	}
	if shared {
		s.logger.Debug("Artifact write shared", zap.String("content_id", contentID))
	}
	return ref, nil
}

func (s *FileStore) write(ref string, data []byte) error {
	path := s.path(ref)
	if _, err := os.Stat(path); err == nil {
		s.logger.Debug("Artifact already stored", zap.String("ref", ref))
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}

	// Link fails if another writer got there first, which is a dedup hit
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			s.logger.Debug("Artifact stored concurrently", zap.String("ref", ref))
			return nil
		}
		return fmt.Errorf("failed to publish artifact: %w", err)
	}

	s.logger.Info("Artifact stored", zap.String("ref", ref), zap.Int("bytes", len(data)))
	return nil
}

func (s *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if !filepath.IsLocal(filepath.FromSlash(ref)) {
		return nil, fmt.Errorf("%w: %q", ErrArtifactNotFound, ref)
	}
	data, err := os.ReadFile(s.path(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrArtifactNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

func (s *FileStore) Lookup(ctx context.Context, contentID string) (string, bool, error) {
	ref, err := Key(contentID)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(s.path(ref)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return ref, true, nil
}

func (s *FileStore) path(ref string) string {
	return filepath.Join(s.root, filepath.FromSlash(ref))
}
