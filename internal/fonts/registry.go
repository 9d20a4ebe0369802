package fonts

import (
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
)

// Core PDF families need no glyph data
var coreFamilies = []string{"Courier", "Helvetica", "Times"}

// Resource is a single font face known to the registry
type Resource struct {
	Family string
	Style  Style
	Path   string // empty for core fonts
	Core   bool
}

// Key identifies the face inside a PDF document
func (r *Resource) Key() string {
	return strings.ToLower(r.Family) + "|" + string(r.Style)
}

// Fallback names the substitution applied when a requested font is missing.
// An empty field keeps the requested value.
type Fallback struct {
	Family string
	Style  string
}

type glyphs struct {
	data   []byte
	digest string
}

// Registry indexes the font directory once and loads glyph data on first use
type Registry struct {
	dir      string
	fallback Fallback
	logger   *zap.Logger
	index    map[string]*Resource
	loaded   sync.Map // key -> *glyphs
	group    singleflight.Group
}

// NewRegistry scans dir for TrueType files named "<Family>[ -]<Style>.ttf".
// A missing directory is an error; an empty one leaves only the core fonts.
func NewRegistry(dir string, fallback Fallback, logger *zap.Logger) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFontDirMissing, dir)
		}
		return nil, fmt.Errorf("failed to open font directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrFontDirMissing, dir)
	}

	r := &Registry{
		dir:      dir,
		fallback: fallback,
		logger:   logger,
		index:    make(map[string]*Resource),
	}
	for _, family := range coreFamilies {
		for _, style := range []Style{StyleRegular, StyleBold, StyleItalic, StyleBoldItalic} {
			res := &Resource{Family: family, Style: style, Core: true}
			r.index[res.Key()] = res
		}
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".ttf") {
			return nil
		}
		family, style := parseFileName(d.Name())
		res := &Resource{Family: family, Style: style, Path: path}
		if existing, ok := r.index[res.Key()]; ok && !existing.Core {
			logger.Warn("Duplicate font file ignored",
				zap.String("path", path),
				zap.String("kept", existing.Path),
			)
			return nil
		}
		r.index[res.Key()] = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index font directory: %w", err)
	}

	logger.Info("Font registry indexed",
		zap.String("dir", dir),
		zap.Int("fonts", len(r.index)),
	)
	return r, nil
}

// parseFileName splits "Great Vibes-Bold.ttf" into ("Great Vibes", bold).
// A name without a recognised style suffix is the regular face of that family.
func parseFileName(name string) (string, Style) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.LastIndexAny(base, "- "); i > 0 {
		if style, err := ParseStyle(base[i+1:]); err == nil {
			return strings.TrimSpace(base[:i]), style
		}
	}
	return base, StyleRegular
}

// Resolve finds a font by family and style, case-insensitively. When the
// exact face is missing the configured fallback is tried and the
// substitution logged.
func (r *Registry) Resolve(family, style string) (*Resource, error) {
	parsed, err := ParseStyle(style)
	if err != nil {
		return nil, &NotFoundError{Family: family, Style: style}
	}
	if res, ok := r.lookup(family, parsed); ok {
		return res, nil
	}

	for _, candidate := range r.fallbackCandidates(family, parsed) {
		if res, ok := r.lookup(candidate.family, candidate.style); ok {
			r.logger.Warn("Font substituted",
				zap.String("requested_family", family),
				zap.String("requested_style", string(parsed)),
				zap.String("family", res.Family),
				zap.String("style", string(res.Style)),
			)
			return res, nil
		}
	}
	return nil, &NotFoundError{Family: family, Style: string(parsed)}
}

type candidate struct {
	family string
	style  Style
}

func (r *Registry) fallbackCandidates(family string, style Style) []candidate {
	var out []candidate
	fbStyle, err := ParseStyle(r.fallback.Style)
	hasStyle := r.fallback.Style != "" && err == nil
	if hasStyle {
		out = append(out, candidate{family, fbStyle})
	}
	if r.fallback.Family != "" {
		out = append(out, candidate{r.fallback.Family, style})
		if hasStyle {
			out = append(out, candidate{r.fallback.Family, fbStyle})
		}
	}
	return out
}

func (r *Registry) lookup(family string, style Style) (*Resource, bool) {
	res, ok := r.index[strings.ToLower(family)+"|"+string(style)]
	return res, ok
}

// Load returns the glyph bytes and their sha256 digest. Core fonts have no
// bytes; their digest identifies the face. Concurrent first loads of the
// same file share one read.
func (r *Registry) Load(res *Resource) ([]byte, string, error) {
	if res.Core {
		return nil, "core:" + res.Key(), nil
	}
	if cached, ok := r.loaded.Load(res.Key()); ok {
		g := cached.(*glyphs)
		return g.data, g.digest, nil
	}

	v, err, _ := r.group.Do(res.Key(), func() (interface{}, error) {
		if cached, ok := r.loaded.Load(res.Key()); ok {
			return cached, nil
		}
		data, err := os.ReadFile(res.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read font %s: %w", res.Path, err)
		}
		sum := sha256.Sum256(data)
		g := &glyphs{data: data, digest: hex.EncodeToString(sum[:])}
		r.loaded.Store(res.Key(), g)
		return g, nil
	})
	if err != nil {
		return nil, "", err
	}
	g := v.(*glyphs)
	return g.data, g.digest, nil
}

// List returns every indexed face sorted by family then style
func (r *Registry) List() []*Resource {
	out := make([]*Resource, 0, len(r.index))
	for _, res := range r.index {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		if !strings.EqualFold(out[i].Family, out[j].Family) {
			return strings.ToLower(out[i].Family) < strings.ToLower(out[j].Family)
		}
		return out[i].Style < out[j].Style
	})
	return out
}
