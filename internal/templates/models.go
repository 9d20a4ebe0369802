package templates

import (
	"certificate-portal/certificate-backend/pkg/pdf"
)

type PlaceholderType string

const (
	TypeText  PlaceholderType = "text"
	TypeDate  PlaceholderType = "date"
	TypeImage PlaceholderType = "image-reference"
)

type OverflowPolicy string

const (
	OverflowTruncate    OverflowPolicy = "truncate"
	OverflowShrinkToFit OverflowPolicy = "shrink-to-fit"
	OverflowError       OverflowPolicy = "error"
)

type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

type VAlign string

const (
	VAlignTop    VAlign = "top"
	VAlignMiddle VAlign = "middle"
	VAlignBottom VAlign = "bottom"
)

type ElementType string

const (
	ElementText  ElementType = "text"
	ElementLine  ElementType = "line"
	ElementRect  ElementType = "rect"
	ElementImage ElementType = "image"
)

// DefaultMinFontSize is the shrink-to-fit floor when a placeholder declares none
const DefaultMinFontSize = 6.0

// Template is a certificate layout. Definitions are immutable; a layout change
// ships as a new template id or version.
type Template struct {
	ID           string        `yaml:"id" json:"id"`
	Version      int           `yaml:"version" json:"version"`
	Name         string        `yaml:"name" json:"name"`
	Page         pdf.PageSpec  `yaml:"page" json:"page"`
	Background   string        `yaml:"background,omitempty" json:"background,omitempty"`
	Elements     []Element     `yaml:"elements,omitempty" json:"elements,omitempty"`
	Placeholders []Placeholder `yaml:"placeholders" json:"placeholders"`
	Verification *Verification `yaml:"verification,omitempty" json:"verification,omitempty"`

	// Digest is the sha256 of the raw definition bytes
	Digest string `yaml:"-" json:"digest"`
	// Width and Height are the oriented page dimensions in mm
	Width  float64 `yaml:"-" json:"width"`
	Height float64 `yaml:"-" json:"height"`
}

// Box is a rectangle in page coordinates (mm, origin top-left)
type Box struct {
	X      float64 `yaml:"x" json:"x"`
	Y      float64 `yaml:"y" json:"y"`
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// FontSpec requests a font family and style at a size in points
type FontSpec struct {
	Family  string  `yaml:"family" json:"family"`
	Style   string  `yaml:"style,omitempty" json:"style,omitempty"`
	Size    float64 `yaml:"size" json:"size"`
	MinSize float64 `yaml:"min_size,omitempty" json:"min_size,omitempty"`
}

type Color struct {
	R int `yaml:"r" json:"r"`
	G int `yaml:"g" json:"g"`
	B int `yaml:"b" json:"b"`
}

// TextStyle controls how a string is laid out inside its box
type TextStyle struct {
	Font       FontSpec       `yaml:"font" json:"font"`
	Align      Align          `yaml:"align,omitempty" json:"align,omitempty"`
	VAlign     VAlign         `yaml:"valign,omitempty" json:"valign,omitempty"`
	Wrap       bool           `yaml:"wrap,omitempty" json:"wrap,omitempty"`
	Overflow   OverflowPolicy `yaml:"overflow,omitempty" json:"overflow,omitempty"`
	Color      *Color         `yaml:"color,omitempty" json:"color,omitempty"`
	LineHeight float64        `yaml:"line_height,omitempty" json:"line_height,omitempty"`
}

// Placeholder is a named, typed slot filled from caller input
type Placeholder struct {
	Name     string          `yaml:"name" json:"name"`
	Type     PlaceholderType `yaml:"type" json:"type"`
	Required bool            `yaml:"required,omitempty" json:"required,omitempty"`
	Default  *string         `yaml:"default,omitempty" json:"default,omitempty"`
	Box      Box             `yaml:"box" json:"box"`

	TextStyle `yaml:",inline"`

	// Format is a Go time layout for date placeholders; "ordinal" renders "1st January 2025"
	Format    string `yaml:"format,omitempty" json:"format,omitempty"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Suffix    string `yaml:"suffix,omitempty" json:"suffix,omitempty"`
	Uppercase bool   `yaml:"uppercase,omitempty" json:"uppercase,omitempty"`
}

// Element is a static decorative element
type Element struct {
	Type ElementType `yaml:"type" json:"type"`
	Box  Box         `yaml:"box,omitempty" json:"box,omitempty"`

	// text
	Text      string `yaml:"text,omitempty" json:"text,omitempty"`
	TextStyle `yaml:",inline"`

	// line
	X1        float64 `yaml:"x1,omitempty" json:"x1,omitempty"`
	Y1        float64 `yaml:"y1,omitempty" json:"y1,omitempty"`
	X2        float64 `yaml:"x2,omitempty" json:"x2,omitempty"`
	Y2        float64 `yaml:"y2,omitempty" json:"y2,omitempty"`
	LineWidth float64 `yaml:"line_width,omitempty" json:"line_width,omitempty"`

	// rect
	Fill *Color `yaml:"fill,omitempty" json:"fill,omitempty"`

	// image
	Image string `yaml:"image,omitempty" json:"image,omitempty"`
}

// Verification places the public verification code and its QR code
type Verification struct {
	// URL overrides the configured verify URL; "%s" is replaced by the code
	URL       string    `yaml:"url,omitempty" json:"url,omitempty"`
	Code      *Box      `yaml:"code,omitempty" json:"code,omitempty"`
	CodeStyle TextStyle `yaml:"code_style,omitempty" json:"code_style,omitempty"`
	Label     string    `yaml:"label,omitempty" json:"label,omitempty"`
	QR        *Box      `yaml:"qr,omitempty" json:"qr,omitempty"`
}

// PlaceholderByName looks up a placeholder
func (t *Template) PlaceholderByName(name string) (*Placeholder, bool) {
	for i := range t.Placeholders {
		if t.Placeholders[i].Name == name {
			return &t.Placeholders[i], true
		}
	}
	return nil, false
}

// FontRequests lists every distinct font the template draws with, in first-use order
func (t *Template) FontRequests() []FontSpec {
	seen := make(map[[2]string]bool)
	var out []FontSpec
	add := func(spec FontSpec) {
		if spec.Family == "" {
			return
		}
		key := [2]string{spec.Family, spec.Style}
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, FontSpec{Family: spec.Family, Style: spec.Style})
	}

	for _, el := range t.Elements {
		if el.Type == ElementText {
			add(el.Font)
		}
	}
	for _, p := range t.Placeholders {
		if p.Type != TypeImage {
			add(p.Font)
		}
	}
	if t.Verification != nil && t.Verification.Code != nil {
		add(t.Verification.CodeStyle.Font)
	}
	return out
}

// Assets lists every asset reference the template's static layout needs
func (t *Template) Assets() []string {
	var out []string
	if t.Background != "" {
		out = append(out, t.Background)
	}
	for _, el := range t.Elements {
		if el.Type == ElementImage && el.Image != "" {
			out = append(out, el.Image)
		}
	}
	return out
}
