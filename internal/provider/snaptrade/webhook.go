package snaptrade

import (
	"bytes"
	"crypto/hmac"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
)

// Webhook verification failures.
var (
	ErrWebhookUnverifiable = errors.New("snaptrade webhook verification is not configured")
	ErrWebhookSignature    = errors.New("snaptrade webhook signature mismatch")
)

// Webhook authentication headers.
const (
	WebhookHeaderSignature = "Signature"
	WebhookHeaderSecret    = "X-Webhook-Secret"
)

// VerifyWebhook authenticates a webhook delivery. A Signature header is
// checked against the canonical JSON of the body; without one, the shared
// webhook secret must appear in the body or the X-Webhook-Secret header.
// It fails closed when neither mechanism is configured.
func (c *Client) VerifyWebhook(header http.Header, body []byte) error {
	if sig := header.Get(WebhookHeaderSignature); sig != "" && c.consumerKey != "" {
		want, err := canonicalSignature(c.consumerKey, body)
		if err != nil {
			return err
		}
		if !hmac.Equal([]byte(sig), []byte(want)) {
			return ErrWebhookSignature
		}
		return nil
	}

	if c.webhookSecret == "" {
		return ErrWebhookUnverifiable
	}
	got := header.Get(WebhookHeaderSecret)
	if got == "" {
		var payload struct {
			WebhookSecret string `json:"webhookSecret"`
		}
		_ = json.Unmarshal(body, &payload)
		got = payload.WebhookSecret
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(c.webhookSecret)) != 1 {
		return ErrWebhookSignature
	}
	return nil
}

// canonicalSignature signs the body re-encoded with sorted keys and no
// insignificant whitespace. Numbers keep their original digits.
func canonicalSignature(key string, body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return sum(key, bytes.TrimRight(buf.Bytes(), "\n")), nil
}
