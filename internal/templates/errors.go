package templates

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateInvalid  = errors.New("template invalid")
	ErrAssetNotFound    = errors.New("template asset not found")
)

// ValidationError lists every problem found in a template definition
type ValidationError struct {
	TemplateID string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("template %q is invalid: %s", e.TemplateID, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrTemplateInvalid
}
