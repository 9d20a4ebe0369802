package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeIsDeterministic(t *testing.T) {
	g := NewCodeGenerator("secret")

	a := g.Code("content-1")
	b := g.Code("content-1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, g.Code("content-2"))
	assert.NotEqual(t, a, NewCodeGenerator("other").Code("content-1"))
}

func TestCodeFormat(t *testing.T) {
	code := NewCodeGenerator("secret").Code("abc")

	assert.Len(t, code, 17)
	assert.Equal(t, 2, strings.Count(code, "-"))
	assert.True(t, ValidCode(code))
}

func TestNormalizeCode(t *testing.T) {
	code := NewCodeGenerator("secret").Code("abc")

	assert.Equal(t, code, NormalizeCode(strings.ToLower(code)))
	assert.Equal(t, code, NormalizeCode(strings.ReplaceAll(code, "-", "")))
	assert.Equal(t, "01100-ABCDE-FGHJK", NormalizeCode("oil00 abcde fghjk"))
}

func TestValidCode(t *testing.T) {
	assert.False(t, ValidCode(""))
	assert.False(t, ValidCode("ABCDE-ABCDE"))
	assert.False(t, ValidCode("ABCDE-ABCDE-ABCDU"))
	assert.True(t, ValidCode("abcde-fghjk-mnpqr"))
}

func TestKeyID(t *testing.T) {
	a := NewCodeGenerator("secret")
	assert.Len(t, a.KeyID(), 8)
	assert.Equal(t, a.KeyID(), NewCodeGenerator("secret").KeyID())
	assert.NotEqual(t, a.KeyID(), NewCodeGenerator("rotated").KeyID())
}
