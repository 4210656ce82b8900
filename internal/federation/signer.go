package federation

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
)

// signedHeaders are covered by every outbound GET signature.
var signedHeaders = []string{httpsig.RequestTarget, "host", "date"}

// RequestSigner signs outbound GETs with the instance key.
type RequestSigner struct {
	keys  *KeyPair
	keyID string
	now   func() time.Time
}

// NewRequestSigner creates a signer publishing keyID as the key location.
func NewRequestSigner(keys *KeyPair, keyID string) *RequestSigner {
	return &RequestSigner{keys: keys, keyID: keyID, now: time.Now}
}

// KeyID returns the published key id.
func (s *RequestSigner) KeyID() string {
	return s.keyID
}

// SignRequest adds Date, Host and Signature headers to req.
func (s *RequestSigner) SignRequest(req *http.Request) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", s.now().UTC().Format(http.TimeFormat))
	}
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}

	// httpsig signers are not safe for concurrent use.
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("create signer: %w", err)
	}
	if err := signer.SignRequest(s.keys.Private, s.keyID, req, nil); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	return nil
}

// KeyIDFor derives the instance key id from the public base URL.
func KeyIDFor(publicURL string) string {
	return ActorURL(publicURL) + "#main-key"
}

// ActorURL returns the instance actor's id.
func ActorURL(publicURL string) string {
	return strings.TrimRight(publicURL, "/") + "/actor"
}
