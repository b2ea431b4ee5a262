package dispatcher

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/djlord-it/buildhook/internal/domain"
)

// Header names set on outbound webhook requests.
const (
	HeaderSignature    = "X-Buildhook-Signature"
	HeaderTimestamp    = "X-Buildhook-Timestamp"
	HeaderEvent        = "X-Buildhook-Event"
	HeaderBuildVersion = "X-Buildhook-Build-Version"
	HeaderDeliveryID   = "X-Buildhook-Delivery-ID"
)

// Sink is one delivery target. Deliver makes a single attempt and never retries.
type Sink interface {
	Name() string
	// Endpoint identifies the destination for circuit breaking and logs.
	// It must not contain credentials.
	Endpoint() string
	Deliver(ctx context.Context, payload Payload) domain.DeliveryResult
}

// Payload is the JSON body sent to build receivers.
// Receivers needing exactly-once behaviour should dedupe on BuildVersion.
type Payload struct {
	Event        string `json:"event"`
	Timestamp    int64  `json:"timestamp"`
	SiteURL      string `json:"site_url"`
	PostID       string `json:"post_id,omitempty"`
	BuildVersion string `json:"build_version"`
}

// computeSignature returns hex(HMAC-SHA256(secret, url + decimal timestamp)).
func computeSignature(secret, url string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(url))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks. url must be
// the exact webhook URL configured on the sending side.
func VerifySignature(secret, url string, timestamp int64, signature string) bool {
	expected := computeSignature(secret, url, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
