package snaptrade

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
)

// signatureContent is the document signed on every request. Keys are
// marshalled in sorted order.
type signatureContent struct {
	Content any    `json:"content"`
	Path    string `json:"path"`
	Query   string `json:"query"`
}

// sign stamps clientId and a fresh timestamp into the query, then sets the
// Signature header over {content, path, query}.
func (c *Client) sign(req *http.Request, body []byte) error {
	q := req.URL.Query()
	q.Set("clientId", c.clientID)
	q.Set("timestamp", strconv.FormatInt(c.now().Unix(), 10))
	req.URL.RawQuery = q.Encode()

	sig, err := Signature(c.consumerKey, req.URL.Path, req.URL.RawQuery, body)
	if err != nil {
		return err
	}
	req.Header.Set("Signature", sig)
	return nil
}

// Signature computes base64(HMAC-SHA256(consumerKey, canonical JSON)).
func Signature(consumerKey, path, query string, body []byte) (string, error) {
	doc := signatureContent{Path: path, Query: query}
	if len(bytes.TrimSpace(body)) > 0 {
		var content any
		if err := json.Unmarshal(body, &content); err != nil {
			return "", err
		}
		doc.Content = content
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return sum(consumerKey, bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func sum(key string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
