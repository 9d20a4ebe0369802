package fonts

import (
	"errors"
	"fmt"
)

var (
	ErrFontNotFound   = errors.New("font not found")
	ErrFontDirMissing = errors.New("font directory missing")
)

// NotFoundError names the font that could not be resolved
type NotFoundError struct {
	Family string
	Style  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("font not found: %s %s", e.Family, e.Style)
}

func (e *NotFoundError) Unwrap() error {
	return ErrFontNotFound
}
