package binding

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"certificate-portal/certificate-backend/internal/templates"
)

type ValueKind string

const (
	ValueSupplied ValueKind = "supplied"
	ValueDefault  ValueKind = "default"
	ValueEmpty    ValueKind = "empty"
)

// DefaultDateLayout is used when a date placeholder declares no format
const DefaultDateLayout = "2 January 2006"

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// BoundValue is the render-ready value of one placeholder
type BoundValue struct {
	Placeholder *templates.Placeholder `json:"-"`
	Name        string                 `json:"name"`
	Kind        ValueKind              `json:"kind"`
	Text        string                 `json:"text,omitempty"`
	Image       string                 `json:"image,omitempty"`
}

// BoundDocument pairs a template with a value for every placeholder, in
// template order
type BoundDocument struct {
	Template *templates.Template
	Values   []BoundValue
}

// Value returns the bound value of a placeholder
func (d *BoundDocument) Value(name string) (BoundValue, bool) {
	for _, v := range d.Values {
		if v.Name == name {
			return v, true
		}
	}
	return BoundValue{}, false
}

// Bind validates fields against the template's placeholders. Every problem is
// reported: unknown fields sorted by name first, then placeholder problems in
// template order.
func Bind(tmpl *templates.Template, fields map[string]any) (*BoundDocument, error) {
	var errs []error

	var unknown []string
	for name := range fields {
		if _, ok := tmpl.PlaceholderByName(name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		errs = append(errs, &UnknownFieldError{Name: name})
	}

	doc := &BoundDocument{
		Template: tmpl,
		Values:   make([]BoundValue, 0, len(tmpl.Placeholders)),
	}
	for i := range tmpl.Placeholders {
		p := &tmpl.Placeholders[i]
		value, err := bindOne(p, fields[p.Name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		doc.Values = append(doc.Values, value)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return doc, nil
}

func bindOne(p *templates.Placeholder, raw any) (BoundValue, error) {
	value := BoundValue{Placeholder: p, Name: p.Name}

	if absent(raw) {
		switch {
		case p.Default != nil:
			value.Kind = ValueDefault
			if p.Type == templates.TypeImage {
				value.Image = *p.Default
			} else {
				value.Text = *p.Default
			}
			return value, nil
		case p.Required:
			return value, &MissingFieldError{Name: p.Name}
		default:
			value.Kind = ValueEmpty
			return value, nil
		}
	}

	value.Kind = ValueSupplied
	switch p.Type {
	case templates.TypeText:
		s, ok := raw.(string)
		if !ok {
			return value, &TypeMismatchError{Name: p.Name, Expected: "text", Actual: describe(raw)}
		}
		value.Text = decorate(p, s)
	case templates.TypeDate:
		t, err := parseDate(raw)
		if err != nil {
			return value, &TypeMismatchError{Name: p.Name, Expected: "date", Actual: describe(raw)}
		}
		value.Text = decorate(p, FormatDate(t, p.Format))
	case templates.TypeImage:
		s, ok := raw.(string)
		if !ok || !imageExtensions[strings.ToLower(path.Ext(s))] {
			return value, &TypeMismatchError{Name: p.Name, Expected: "image-reference", Actual: describe(raw)}
		}
		value.Image = s
	default:
		return value, fmt.Errorf("placeholder %q has unsupported type %q", p.Name, p.Type)
	}
	return value, nil
}

// absent treats null and the empty string as no value
func absent(raw any) bool {
	if raw == nil {
		return true
	}
	s, ok := raw.(string)
	return ok && s == ""
}

func decorate(p *templates.Placeholder, s string) string {
	if p.Uppercase {
		s = strings.ToUpper(s)
	}
	return p.Prefix + s + p.Suffix
}

func parseDate(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v != nil {
			return *v, nil
		}
	case string:
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, nil
		}
		return time.Parse(time.RFC3339, v)
	}
	return time.Time{}, fmt.Errorf("not a date: %T", raw)
}

// FormatDate renders t with a Go layout; "ordinal" gives "1st January 2025"
func FormatDate(t time.Time, layout string) string {
	switch layout {
	case "":
		return t.Format(DefaultDateLayout)
	case "ordinal":
		return fmt.Sprintf("%d%s %s", t.Day(), ordinalSuffix(t.Day()), t.Format("January 2006"))
	}
	return t.Format(layout)
}

func ordinalSuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}

func describe(raw any) string {
	switch raw.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case time.Time, *time.Time:
		return "date"
	}
	return fmt.Sprintf("%T", raw)
}
