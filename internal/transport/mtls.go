package transport

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"flint/internal/config"
	"flint/internal/logger"
)

var pemBlock = regexp.MustCompile(`(?s)-----BEGIN ([A-Z ]+)-----(.*?)-----END ([A-Z ]+)-----`)

// NormalizePEM restores line breaks in PEM material that was pasted into an
// environment variable as a single line (or with literal "\n" sequences).
func NormalizePEM(raw string) string {
	s := strings.TrimSpace(strings.ReplaceAll(raw, `\n`, "\n"))
	if strings.Count(s, "\n") >= 2 {
		return s + "\n"
	}

	var out strings.Builder
	for _, m := range pemBlock.FindAllStringSubmatch(s, -1) {
		body := strings.Join(strings.Fields(m[2]), "")
		out.WriteString("-----BEGIN " + m[1] + "-----\n")
		for len(body) > 64 {
			out.WriteString(body[:64] + "\n")
			body = body[64:]
		}
		if body != "" {
			out.WriteString(body + "\n")
		}
		out.WriteString("-----END " + m[3] + "-----\n")
	}
	if out.Len() == 0 {
		return s
	}
	return out.String()
}

// LoadClientCertificate reads the Teller client certificate from inline PEM
// or from files.
func LoadClientCertificate(cfg config.TellerConfig) (tls.Certificate, error) {
	certPEM, keyPEM := cfg.Certificate, cfg.PrivateKey
	if certPEM == "" || keyPEM == "" {
		if cfg.CertPath == "" || cfg.KeyPath == "" {
			return tls.Certificate{}, fmt.Errorf("no client certificate configured")
		}
		c, err := os.ReadFile(cfg.CertPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("read certificate: %w", err)
		}
		k, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("read private key: %w", err)
		}
		certPEM, keyPEM = string(c), string(k)
	}

	cert, err := tls.X509KeyPair([]byte(NormalizePEM(certPEM)), []byte(NormalizePEM(keyPEM)))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse client certificate: %w", err)
	}
	return cert, nil
}

// TellerHTTPClient returns a plain client in sandbox and a mutual-TLS
// client in development and production.
func TellerHTTPClient(cfg config.TellerConfig, timeout time.Duration) (*http.Client, error) {
	if cfg.Sandbox() {
		logger.Get().Infow("teller sandbox, mutual TLS disabled")
		return &http.Client{Timeout: timeout}, nil
	}

	cert, err := LoadClientCertificate(cfg)
	if err != nil {
		return nil, err
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	logger.Get().Infow("teller mutual TLS enabled", "environment", cfg.Environment)
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}
