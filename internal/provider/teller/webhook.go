package teller

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix>,v1=<hex>[,v1=<hex>...]".
const SignatureHeader = "Teller-Signature"

// ReplayWindow bounds how old a signed delivery may be.
const ReplayWindow = 180 * time.Second

// Webhook verification failures.
var (
	ErrWebhookUnverifiable = errors.New("teller webhook signing secret is not configured")
	ErrWebhookMalformed    = errors.New("teller webhook signature header is malformed")
	ErrWebhookExpired      = errors.New("teller webhook timestamp is outside the replay window")
	ErrWebhookSignature    = errors.New("teller webhook signature mismatch")
)

// VerifyWebhook checks the Teller-Signature header against
// HMAC-SHA256(secret, "<t>.<body>"). Any one v1 value may match, which
// lets Teller sign with old and new secrets during rotation.
func (c *Client) VerifyWebhook(header http.Header, body []byte) error {
	return verifySignature(c.signingSecret, header.Get(SignatureHeader), body, c.now())
}

func verifySignature(secret, header string, body []byte, now time.Time) error {
	if secret == "" {
		return ErrWebhookUnverifiable
	}
	ts, sigs := parseSignatureHeader(header)
	if ts == "" || len(sigs) == 0 {
		return ErrWebhookMalformed
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrWebhookMalformed
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > ReplayWindow || age < -ReplayWindow {
		return ErrWebhookExpired
	}

	want := Sign(secret, ts, body)
	for _, sig := range sigs {
		if hmac.Equal([]byte(strings.ToLower(sig)), []byte(want)) {
			return nil
		}
	}
	return ErrWebhookSignature
}

func parseSignatureHeader(header string) (string, []string) {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	return ts, sigs
}

// Sign returns the hex v1 signature for a delivery sent at ts.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
