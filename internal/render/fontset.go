package render

import (
	"sort"
	"strings"

	"certificate-portal/certificate-backend/internal/fonts"
	"certificate-portal/certificate-backend/internal/templates"
)

// FontSource resolves and loads font faces
type FontSource interface {
	Resolve(family, style string) (*fonts.Resource, error)
	Load(res *fonts.Resource) ([]byte, string, error)
}

// Face is a resolved font ready for embedding
type Face struct {
	Family string
	Style  fonts.Style
	Core   bool
	Data   []byte
	Digest string
}

// FontSet maps each font request of a template to the face that serves it
type FontSet map[string]Face

// RequestKey identifies a font request independent of case and style spelling
func RequestKey(spec templates.FontSpec) string {
	style := strings.ToLower(spec.Style)
	if parsed, err := fonts.ParseStyle(spec.Style); err == nil {
		style = string(parsed)
	}
	return strings.ToLower(spec.Family) + "|" + style
}

// LoadFonts resolves every font the template draws with. The first
// unresolvable request fails the whole set.
func LoadFonts(tmpl *templates.Template, source FontSource) (FontSet, error) {
	set := make(FontSet)
	for _, spec := range tmpl.FontRequests() {
		key := RequestKey(spec)
		if _, ok := set[key]; ok {
			continue
		}
		res, err := source.Resolve(spec.Family, spec.Style)
		if err != nil {
			return nil, err
		}
		data, digest, err := source.Load(res)
		if err != nil {
			return nil, err
		}
		set[key] = Face{
			Family: res.Family,
			Style:  res.Style,
			Core:   res.Core,
			Data:   data,
			Digest: digest,
		}
	}
	return set, nil
}

// Digests returns request key to glyph digest, the font identity of a render
func (s FontSet) Digests() map[string]string {
	out := make(map[string]string, len(s))
	for key, face := range s {
		out[key] = face.Digest
	}
	return out
}

func (s FontSet) sortedKeys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// documentFamily is the family name a face is registered under in the PDF
func (f Face) documentFamily() string {
	if f.Core {
		return f.Family
	}
	return "ttf-" + strings.ToLower(strings.ReplaceAll(f.Family, " ", "-"))
}
