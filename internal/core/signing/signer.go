// Package signing authorizes media proxy fetches with HMAC-SHA256 URL signatures.
//
// A signature is base64url(HMAC-SHA256(key, url)) with the padding stripped.
// Signatures are computed fresh for every response and never stored, so a
// signer constructed with a newly generated key invalidates every signature
// issued before a restart.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
)

// MinKeyLength is the shortest key NewSigner accepts.
const MinKeyLength = 16

var (
	// ErrEmptyKey is returned when NewSigner is given no key material.
	ErrEmptyKey = errors.New("signing key is empty")
	// ErrShortKey is returned when the key is shorter than MinKeyLength.
	ErrShortKey = errors.New("signing key is too short")
)

// Signer computes and verifies URL signatures with an injected key.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer for key. The key is copied.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	if len(key) < MinKeyLength {
		return nil, ErrShortKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k}, nil
}

// GenerateKey returns a random 32-byte key encoded as URL-safe base64 text,
// suitable for MEDIA_HMAC_SECRET.
func GenerateKey() ([]byte, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return []byte(base64.RawURLEncoding.EncodeToString(raw)), nil
}

// Sign returns the signature for rawURL.
func (s *Signer) Sign(rawURL string) string {
	return base64.RawURLEncoding.EncodeToString(s.mac(rawURL))
}

// Verify reports whether sig is the signature for rawURL. The comparison is
// constant-time with respect to the signature bytes.
func (s *Signer) Verify(rawURL, sig string) bool {
	if sig == "" {
		return false
	}
	expected := s.Sign(rawURL)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// SignAll signs each URL and returns a url→signature map. Nil when urls is empty.
func (s *Signer) SignAll(urls []string) map[string]string {
	if len(urls) == 0 {
		return nil
	}
	out := make(map[string]string, len(urls))
	for _, u := range urls {
		out[u] = s.Sign(u)
	}
	return out
}

// ProxyPath returns the relative media proxy path for rawURL, e.g.
// /api/media?sig=...&url=...
func (s *Signer) ProxyPath(rawURL string) string {
	q := url.Values{}
	q.Set("url", rawURL)
	q.Set("sig", s.Sign(rawURL))
	return "/api/media?" + q.Encode()
}

func (s *Signer) mac(rawURL string) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(rawURL))
	return m.Sum(nil)
}
