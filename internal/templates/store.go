package templates

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

var extensions = []string{".yaml", ".yml", ".json"}

// Store resolves template definitions from a directory. Definitions are
// loaded on first use and cached for the life of the process.
type Store struct {
	root   string
	logger *zap.Logger
	cache  sync.Map // id -> *Template
	group  singleflight.Group
}

// NewStore creates a store rooted at dir
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open templates directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("templates path %s is not a directory", dir)
	}
	return &Store{root: dir, logger: logger}, nil
}

// Root returns the templates directory
func (s *Store) Root() string {
	return s.root
}

// Resolve returns the template with the given id. Concurrent first requests
// for the same id share a single load; failed loads are not cached.
func (s *Store) Resolve(ctx context.Context, id string) (*Template, error) {
	if cached, ok := s.cache.Load(id); ok {
		return cached.(*Template), nil
	}
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
	}

	ch := s.group.DoChan(id, func() (interface{}, error) {
		if cached, ok := s.cache.Load(id); ok {
			return cached, nil
		}
		tmpl, err := s.load(id)
		if err != nil {
			return nil, err
		}
		s.cache.Store(id, tmpl)
		s.logger.Info("Template loaded",
			zap.String("template_id", id),
			zap.Int("version", tmpl.Version),
			zap.String("digest", tmpl.Digest),
		)
		return tmpl, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Template), nil
	}
}

// List returns the ids of every template definition on disk, sorted
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if !isTemplateExt(ext) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ext)
		if ValidID(id) && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ReadAsset reads an image asset referenced by a template. References are
// relative to the templates root and may not escape it.
func (s *Store) ReadAsset(ref string) ([]byte, error) {
	ref = filepath.FromSlash(ref)
	if !filepath.IsLocal(ref) {
		return nil, fmt.Errorf("%w: %q escapes templates root", ErrAssetNotFound, ref)
	}
	data, err := os.ReadFile(filepath.Join(s.root, ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrAssetNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read template asset: %w", err)
	}
	return data, nil
}

func (s *Store) load(id string) (*Template, error) {
	raw, err := s.readDefinition(id)
	if err != nil {
		return nil, err
	}

	var tmpl Template
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&tmpl); err != nil {
		return nil, &ValidationError{TemplateID: id, Problems: []string{"decode: " + err.Error()}}
	}

	if err := Validate(&tmpl, id); err != nil {
		return nil, err
	}

	var missing []string
	for _, ref := range tmpl.Assets() {
		if _, err := s.ReadAsset(ref); err != nil {
			missing = append(missing, fmt.Sprintf("asset %q: %v", ref, err))
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{TemplateID: id, Problems: missing}
	}

	sum := sha256.Sum256(raw)
	tmpl.Digest = hex.EncodeToString(sum[:])
	return &tmpl, nil
}

func (s *Store) readDefinition(id string) ([]byte, error) {
	for _, ext := range extensions {
		raw, err := os.ReadFile(filepath.Join(s.root, id+ext))
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read template %s: %w", id, err)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
}

func isTemplateExt(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}
