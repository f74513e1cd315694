package identity

import (
	"crypto/hmac"
	"encoding/base64"
	"errors"
	"strings"
)

var ErrInvalidState = errors.New("invalid state")

// StateSigner signs short-lived opaque values, used to carry the tenant id
// through the OAuth redirect round trip without trusting the query string.
type StateSigner struct {
	secret string
}

func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: secret}
}

func (s *StateSigner) Sign(value string) string {
	enc := base64.RawURLEncoding.EncodeToString([]byte(value))
	return enc + "." + hmacSHA256(enc, s.secret)
}

func (s *StateSigner) Verify(state string) (string, error) {
	parts := strings.Split(state, ".")
	if len(parts) != 2 {
		return "", ErrInvalidState
	}
	if !hmac.Equal([]byte(parts[1]), []byte(hmacSHA256(parts[0], s.secret))) {
		return "", ErrInvalidState
	}
	value, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidState
	}
	return string(value), nil
}
