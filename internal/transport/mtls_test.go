package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flint/internal/config"
)

func selfSignedPEM(t *testing.T) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "flint-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return string(certPEM), string(keyPEM)
}

func TestNormalizePEM(t *testing.T) {
	certPEM, _ := selfSignedPEM(t)

	t.Run("single_line", func(t *testing.T) {
		flat := strings.ReplaceAll(certPEM, "\n", " ")
		block, _ := pem.Decode([]byte(NormalizePEM(flat)))
		require.NotNil(t, block)
		assert.Equal(t, "CERTIFICATE", block.Type)
	})

	t.Run("escaped_newlines", func(t *testing.T) {
		escaped := strings.ReplaceAll(certPEM, "\n", `\n`)
		block, _ := pem.Decode([]byte(NormalizePEM(escaped)))
		require.NotNil(t, block)
	})

	t.Run("already_formatted", func(t *testing.T) {
		block, _ := pem.Decode([]byte(NormalizePEM(certPEM)))
		require.NotNil(t, block)
	})
}

func TestTellerHTTPClient(t *testing.T) {
	t.Run("sandbox_skips_mtls", func(t *testing.T) {
		client, err := TellerHTTPClient(config.TellerConfig{Environment: config.TellerSandbox}, time.Second)
		require.NoError(t, err)
		assert.Nil(t, client.Transport)
	})

	t.Run("production_inline_flattened_pem", func(t *testing.T) {
		certPEM, keyPEM := selfSignedPEM(t)
		cfg := config.TellerConfig{
			Environment: config.TellerProduction,
			Certificate: strings.ReplaceAll(certPEM, "\n", ""),
			PrivateKey:  strings.ReplaceAll(keyPEM, "\n", ""),
		}
		client, err := TellerHTTPClient(cfg, time.Second)
		require.NoError(t, err)
		require.NotNil(t, client.Transport)
	})

	t.Run("development_from_files", func(t *testing.T) {
		certPEM, keyPEM := selfSignedPEM(t)
		dir := t.TempDir()
		certPath := filepath.Join(dir, "cert.pem")
		keyPath := filepath.Join(dir, "key.pem")
		require.NoError(t, os.WriteFile(certPath, []byte(certPEM), 0o600))
		require.NoError(t, os.WriteFile(keyPath, []byte(keyPEM), 0o600))

		_, err := TellerHTTPClient(config.TellerConfig{
			Environment: config.TellerDevelopment,
			CertPath:    certPath,
			KeyPath:     keyPath,
		}, time.Second)
		require.NoError(t, err)
	})

	t.Run("production_without_material", func(t *testing.T) {
		_, err := TellerHTTPClient(config.TellerConfig{Environment: config.TellerProduction}, time.Second)
		assert.Error(t, err)
	})
}
