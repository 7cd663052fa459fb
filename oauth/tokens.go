package oauth

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/dpup/authorizer/errors"
)

// TokenGenerator produces unguessable values for codes and tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// TokenGeneratorFunc adapts a function to the TokenGenerator interface.
type TokenGeneratorFunc func() (string, error)

// Generate implements TokenGenerator.
func (f TokenGeneratorFunc) Generate() (string, error) {
	return f()
}

// tokenBytes is the amount of entropy in generated values, 256 bits.
const tokenBytes = 32

// RandomTokens reads from crypto/rand and encodes the result as unpadded
// base64url, so values are safe in queries and fragments without escaping.
var RandomTokens TokenGenerator = TokenGeneratorFunc(func() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.WrapPrefix(err, "reading random bytes", 0)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
})
