package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"strings"
)

// Crockford's Base32 alphabet, without I, L, O and U
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockford = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding)

const (
	codeGroups    = 3
	codeGroupSize = 5
)

// CodeGenerator derives public verification codes of the form XXXXX-XXXXX-XXXXX.
// Codes are a keyed hash of their subject, so the same subject always yields the
// same code and codes cannot be forged without the secret.
type CodeGenerator struct {
	secret []byte
}

// NewCodeGenerator creates a generator keyed with secret
func NewCodeGenerator(secret string) *CodeGenerator {
	return &CodeGenerator{secret: []byte(secret)}
}

// KeyID fingerprints the secret so that anything derived from a code can be
// tied to the key that produced it
func (g *CodeGenerator) KeyID() string {
	sum := sha256.Sum256(g.secret)
	return hex.EncodeToString(sum[:4])
}

// Code returns the verification code for subject
func (g *CodeGenerator) Code(subject string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(subject))
	encoded := crockford.EncodeToString(mac.Sum(nil))

	raw := encoded[:codeGroups*codeGroupSize]
	groups := make([]string, 0, codeGroups)
	for i := 0; i < codeGroups; i++ {
		groups = append(groups, raw[i*codeGroupSize:(i+1)*codeGroupSize])
	}
	return strings.Join(groups, "-")
}

// NormalizeCode canonicalises user-typed codes: case, separators and the
// ambiguous letters Crockford maps onto digits.
func NormalizeCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		switch r {
		case '-', ' ':
			continue
		case 'O':
			r = '0'
		case 'I', 'L':
			r = '1'
		}
		b.WriteRune(r)
	}

	raw := b.String()
	if len(raw) != codeGroups*codeGroupSize {
		return raw
	}
	return raw[0:5] + "-" + raw[5:10] + "-" + raw[10:15]
}

// ValidCode reports whether code is a well-formed verification code
func ValidCode(code string) bool {
	normalized := NormalizeCode(code)
	if len(normalized) != codeGroups*codeGroupSize+codeGroups-1 {
		return false
	}
	for i, r := range normalized {
		if (i+1)%(codeGroupSize+1) == 0 {
			if r != '-' {
				return false
			}
			continue
		}
		if !strings.ContainsRune(crockfordAlphabet, r) {
			return false
		}
	}
	return true
}
