// Package slack verifies and parses Slack Events API callbacks and posts
// replies through the Web API.
package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// MaxClockSkew is how far a request timestamp may drift from now.
const MaxClockSkew = 5 * time.Minute

// Request headers carrying the signature.
const (
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderSignature = "X-Slack-Signature"
)

var (
	ErrInvalidSignature = errors.New("slack: invalid signature")
	ErrStaleTimestamp   = errors.New("slack: stale or missing timestamp")
	ErrNoSecret         = errors.New("slack: signing secret not configured")
)

// Sign computes the v0 signature for body at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a request signature and rejects timestamps more than
// MaxClockSkew away from now.
func Verify(secret, timestamp, signature string, body []byte, now time.Time) error {
	if secret == "" {
		return ErrNoSecret
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew > MaxClockSkew || skew < -MaxClockSkew {
		return ErrStaleTimestamp
	}
	if !hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
