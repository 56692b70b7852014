package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Sign returns lowercase hex HMAC-SHA256 over "<unix ts>.<body>". Binding the
// timestamp lets receivers reject replays of old deliveries.
func Sign(secret string, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign and that ts is within maxAge of now.
func Verify(secret string, ts time.Time, body []byte, provided string, maxAge time.Duration) bool {
	if maxAge > 0 && time.Since(ts) > maxAge {
		return false
	}
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, ts, body))
	return hmac.Equal(want, got)
}
