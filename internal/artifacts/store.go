package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"certificate-portal/certificate-backend/internal/binding"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrInvalidContentID = errors.New("invalid content id")
)

var contentIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store persists rendered artifacts keyed by content id. Put never rewrites
// an existing artifact.
type Store interface {
	Put(ctx context.Context, contentID string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Lookup(ctx context.Context, contentID string) (string, bool, error)
}

// Presigner is implemented by stores that can hand out direct download links
type Presigner interface {
	PresignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

// ContentInput is everything that determines the bytes of a rendered artifact
type ContentInput struct {
	EngineVersion   string               `json:"engine_version"`
	TemplateID      string               `json:"template_id"`
	TemplateVersion int                  `json:"template_version"`
	TemplateDigest  string               `json:"template_digest"`
	Values          []binding.BoundValue `json:"values"`
	Fonts           map[string]string    `json:"fonts"`
	// Verification identifies the code key and verify URL drawn on the page
	Verification string `json:"verification,omitempty"`
}

// ContentID hashes the canonical JSON encoding of in. Map keys are sorted by
// encoding/json, so equal inputs always give equal ids.
func ContentID(in ContentInput) (string, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to encode content input: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Key is the storage reference for a content id
func Key(contentID string) (string, error) {
	if !contentIDPattern.MatchString(contentID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentID, contentID)
	}
	return "certificates/" + contentID[:2] + "/" + contentID + ".pdf", nil
}
