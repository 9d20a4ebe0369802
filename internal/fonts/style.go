package fonts

import (
	"fmt"
	"strings"
)

type Style string

const (
	StyleRegular    Style = "regular"
	StyleBold       Style = "bold"
	StyleItalic     Style = "italic"
	StyleBoldItalic Style = "bold-italic"
)

// ParseStyle normalises a style name. The empty string is regular.
func ParseStyle(s string) (Style, error) {
	norm := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(s))
	switch norm {
	case "", "regular", "normal", "roman", "r":
		return StyleRegular, nil
	case "bold", "b":
		return StyleBold, nil
	case "italic", "oblique", "i":
		return StyleItalic, nil
	case "bolditalic", "italicbold", "boldoblique", "bi", "ib":
		return StyleBoldItalic, nil
	}
	return "", fmt.Errorf("unknown font style %q", s)
}

// PDF returns the gofpdf style string
func (s Style) PDF() string {
	switch s {
	case StyleBold:
		return "B"
	case StyleItalic:
		return "I"
	case StyleBoldItalic:
		return "BI"
	}
	return ""
}
