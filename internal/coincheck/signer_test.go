package coincheck

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign_KnownVector(t *testing.T) {
	// Standard HMAC-SHA256 test vector: key "key", message
	// "The quick brown fox jumps over the lazy dog".
	got := Sign("key", "The quick brown fox ", "jumps over the ", "lazy dog")
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", got)
}

func TestSign_Deterministic(t *testing.T) {
	base := Sign("secret", "1700000000000", "https://coincheck.com/api/accounts/balance", "")

	assert.Equal(t, base, Sign("secret", "1700000000000", "https://coincheck.com/api/accounts/balance", ""))

	// Changing any single input changes the output.
	assert.NotEqual(t, base, Sign("other", "1700000000000", "https://coincheck.com/api/accounts/balance", ""))
	assert.NotEqual(t, base, Sign("secret", "1700000000001", "https://coincheck.com/api/accounts/balance", ""))
	assert.NotEqual(t, base, Sign("secret", "1700000000000", "https://coincheck.com/api/exchange/orders", ""))
	assert.NotEqual(t, base, Sign("secret", "1700000000000", "https://coincheck.com/api/accounts/balance", `{"pair":"btc_jpy"}`))
}

func TestSigner_NonceMonotonic(t *testing.T) {
	s := NewSigner()

	var prev int64
	for i := 0; i < 100; i++ {
		n, err := strconv.ParseInt(s.Nonce(), 10, 64)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestSigner_Headers(t *testing.T) {
	s := NewSigner()
	creds := Credentials{Key: "api-key", Secret: "api-secret"}
	url := "https://coincheck.com/api/exchange/orders"
	body := `{"pair":"btc_jpy","order_type":"buy"}`

	h := s.Headers(creds, url, body)

	assert.Equal(t, "api-key", h["ACCESS-KEY"])
	assert.Equal(t, "application/json", h["Content-Type"])
	assert.Len(t, h["ACCESS-NONCE"], 13) // epoch milliseconds
	assert.Equal(t, Sign("api-secret", h["ACCESS-NONCE"], url, body), h["ACCESS-SIGNATURE"])
}
