package templates

import (
	"fmt"
	"regexp"

	"certificate-portal/certificate-backend/pkg/pdf"
)

var templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidID reports whether id can name a template file
func ValidID(id string) bool {
	return templateIDPattern.MatchString(id)
}

// Validate checks a decoded template against the id it was loaded under and
// fills in the oriented page dimensions.
func Validate(t *Template, id string) error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if t.ID == "" {
		addf("id is required")
	} else if t.ID != id {
		addf("id %q does not match file name %q", t.ID, id)
	}
	if t.Version < 1 {
		addf("version must be >= 1")
	}

	w, h, err := pdf.Dimensions(t.Page)
	if err != nil {
		addf("page: %v", err)
	} else {
		t.Width, t.Height = w, h
	}

	inPage := func(b Box) bool {
		if err != nil {
			return true
		}
		return b.X >= 0 && b.Y >= 0 && b.Width > 0 && b.Height > 0 &&
			b.X+b.Width <= t.Width+1e-9 && b.Y+b.Height <= t.Height+1e-9
	}

	for i, el := range t.Elements {
		where := fmt.Sprintf("elements[%d]", i)
		switch el.Type {
		case ElementText:
			if !inPage(el.Box) {
				addf("%s: box outside page bounds", where)
			}
			problems = append(problems, validateStyle(where, el.TextStyle)...)
		case ElementLine:
			if el.LineWidth < 0 {
				addf("%s: negative line width", where)
			}
		case ElementRect:
			if !inPage(el.Box) {
				addf("%s: box outside page bounds", where)
			}
		case ElementImage:
			if !inPage(el.Box) {
				addf("%s: box outside page bounds", where)
			}
			if el.Image == "" {
				addf("%s: image reference is required", where)
			}
		default:
			addf("%s: unknown element type %q", where, el.Type)
		}
	}

	if len(t.Placeholders) == 0 {
		addf("at least one placeholder is required")
	}
	seen := make(map[string]bool, len(t.Placeholders))
	for i, p := range t.Placeholders {
		where := fmt.Sprintf("placeholders[%d]", i)
		if p.Name == "" {
			addf("%s: name is required", where)
		} else {
			where = fmt.Sprintf("placeholder %q", p.Name)
			if seen[p.Name] {
				addf("%s: duplicate name", where)
			}
			seen[p.Name] = true
		}
		if !inPage(p.Box) {
			addf("%s: box outside page bounds", where)
		}
		switch p.Type {
		case TypeText, TypeDate:
			problems = append(problems, validateStyle(where, p.TextStyle)...)
		case TypeImage:
			if p.Default != nil && *p.Default == "" {
				addf("%s: image default must not be empty", where)
			}
		default:
			addf("%s: unknown type %q", where, p.Type)
		}
	}

	if v := t.Verification; v != nil {
		if v.Code == nil && v.QR == nil {
			addf("verification: code or qr box is required")
		}
		if v.Code != nil {
			if !inPage(*v.Code) {
				addf("verification: code box outside page bounds")
			}
			problems = append(problems, validateStyle("verification", v.CodeStyle)...)
		}
		if v.QR != nil && !inPage(*v.QR) {
			addf("verification: qr box outside page bounds")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{TemplateID: id, Problems: problems}
	}
	return nil
}

func validateStyle(where string, s TextStyle) []string {
	var problems []string
	if s.Font.Family == "" {
		problems = append(problems, where+": font family is required")
	}
	if s.Font.Size <= 0 {
		problems = append(problems, where+": font size must be positive")
	}
	if s.Font.MinSize < 0 || (s.Font.MinSize > 0 && s.Font.MinSize > s.Font.Size) {
		problems = append(problems, where+": min_size must be between 0 and size")
	}
	switch s.Align {
	case "", AlignLeft, AlignCenter, AlignRight:
	default:
		problems = append(problems, fmt.Sprintf("%s: unknown align %q", where, s.Align))
	}
	switch s.VAlign {
	case "", VAlignTop, VAlignMiddle, VAlignBottom:
	default:
		problems = append(problems, fmt.Sprintf("%s: unknown valign %q", where, s.VAlign))
	}
	switch s.Overflow {
	case "", OverflowTruncate, OverflowShrinkToFit, OverflowError:
	default:
		problems = append(problems, fmt.Sprintf("%s: unknown overflow policy %q", where, s.Overflow))
	}
	if s.Color != nil && !validColor(*s.Color) {
		problems = append(problems, where+": color components must be 0-255")
	}
	return problems
}

func validColor(c Color) bool {
	return c.R >= 0 && c.R <= 255 && c.G >= 0 && c.G <= 255 && c.B >= 0 && c.B <= 255
}

// EffectiveOverflow returns the overflow policy, defaulting to shrink-to-fit
func (s TextStyle) EffectiveOverflow() OverflowPolicy {
	if s.Overflow == "" {
		return OverflowShrinkToFit
	}
	return s.Overflow
}

// EffectiveMinSize returns the shrink-to-fit floor
func (s TextStyle) EffectiveMinSize() float64 {
	if s.Font.MinSize > 0 {
		return s.Font.MinSize
	}
	if s.Font.Size < DefaultMinFontSize {
		return s.Font.Size
	}
	return DefaultMinFontSize
}
