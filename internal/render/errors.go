package render

import (
	"errors"
	"fmt"
)

var (
	ErrRenderOverflow = errors.New("render overflow")
	ErrFontEmbed      = errors.New("font embed failure")
	ErrUnencodable    = errors.New("text not encodable in font")
)

// OverflowError reports text that cannot fit its box under the declared policy
type OverflowError struct {
	Placeholder string
	Size        float64
	MinSize     float64
}

func (e *OverflowError) Error() string {
	if e.MinSize > 0 {
		return fmt.Sprintf("text for %q does not fit its box at minimum size %.1fpt", e.Placeholder, e.MinSize)
	}
	return fmt.Sprintf("text for %q does not fit its box at %.1fpt", e.Placeholder, e.Size)
}

func (e *OverflowError) Unwrap() error { return ErrRenderOverflow }

// FontEmbedError reports glyph data that could not be embedded
type FontEmbedError struct {
	Family string
	Style  string
	Err    error
}

func (e *FontEmbedError) Error() string {
	return fmt.Sprintf("failed to embed font %s %s: %v", e.Family, e.Style, e.Err)
}

func (e *FontEmbedError) Unwrap() []error { return []error{ErrFontEmbed, e.Err} }

// UnencodableTextError reports characters a core PDF font has no glyph for.
// Core fonts carry only the cp1252 set; such text needs a TrueType font.
type UnencodableTextError struct {
	Placeholder string
	Family      string
	Runes       []rune
}

func (e *UnencodableTextError) Error() string {
	return fmt.Sprintf("text for %q has characters %q that core font %s cannot draw; use a TrueType font",
		e.Placeholder, string(e.Runes), e.Family)
}

func (e *UnencodableTextError) Unwrap() []error { return []error{ErrFontEmbed, ErrUnencodable} }
