package coincheck

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// Credentials is a per-request API key pair. Never persisted.
type Credentials struct {
	Key    string
	Secret string
}

// Sign computes the request signature: HMAC-SHA256 over nonce || url || body,
// hex encoded. Pure function; body is the empty string for bodiless requests.
func Sign(secret, nonce, url, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(nonce + url + body))
	return hex.EncodeToString(mac.Sum(nil))
}

// Signer derives the authentication header set for private API calls.
// The exchange rejects a replayed nonce, so nonces must strictly increase
// per credential; the guarded last-value cell keeps two calls within the
// same millisecond from reusing a timestamp.
type Signer struct {
	mu   sync.Mutex
	last int64
}

func NewSigner() *Signer {
	return &Signer{}
}

// Nonce returns the current epoch milliseconds as a decimal string, bumped
// forward if the wall clock has not advanced since the previous call.
func (s *Signer) Nonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return strconv.FormatInt(now, 10)
}

// Headers returns the ACCESS-* header set for one signed request.
// Headers are re-derived per call; nothing is cached across requests.
func (s *Signer) Headers(creds Credentials, url, body string) map[string]string {
	nonce := s.Nonce()

	return map[string]string{
		"ACCESS-KEY":       creds.Key,
		"ACCESS-NONCE":     nonce,
		"ACCESS-SIGNATURE": Sign(creds.Secret, nonce, url, body),
		"Content-Type":     "application/json",
	}
}
