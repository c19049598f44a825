package webhook

import (
	"bytes"
	"encoding/json"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveKey reports whether a payload field carries a credential.
// SnapTrade sends the shared webhookSecret in the body.
func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "secret") ||
		strings.Contains(k, "token") ||
		strings.Contains(k, "password")
}

// redactPayload masks credential fields in a JSON body before it is
// stored. Bodies that are not JSON are kept as received.
func redactPayload(body []byte) string {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return string(body)
	}
	doc, changed := redactValue(doc)
	if !changed {
		return string(body)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return redacted
	}
	return string(out)
}

func redactValue(v any) (any, bool) {
	var changed bool
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if sensitiveKey(k) {
				if child != nil {
					t[k] = redacted
					changed = true
				}
				continue
			}
			var c bool
			t[k], c = redactValue(child)
			changed = changed || c
		}
	case []any:
		for i, child := range t {
			var c bool
			t[i], c = redactValue(child)
			changed = changed || c
		}
	}
	return v, changed
}
