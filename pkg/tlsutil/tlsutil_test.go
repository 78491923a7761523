package tlsutil

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/pkg/security"
)

func TestLoadServerTLSConfig_Disabled(t *testing.T) {
	cfg, err := LoadServerTLSConfig(security.ServerTLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadServerTLSConfig_MissingFiles(t *testing.T) {
	_, err := LoadServerTLSConfig(security.ServerTLSConfig{
		Enabled:  true,
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoadClientTLSConfig(t *testing.T) {
	tests := []struct {
		name       string
		cfg        security.ClientTLSConfig
		minVersion uint16
		insecure   bool
	}{
		{"defaults", security.ClientTLSConfig{}, tls.VersionTLS12, false},
		{"tls13", security.ClientTLSConfig{MinVersion: "1.3"}, tls.VersionTLS13, false},
		{"insecure", security.ClientTLSConfig{InsecureSkipVerify: true}, tls.VersionTLS12, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadClientTLSConfig(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.minVersion, cfg.MinVersion)
			assert.Equal(t, tt.insecure, cfg.InsecureSkipVerify)
			assert.NotNil(t, cfg.RootCAs)
		})
	}
}

func TestLoadClientTLSConfig_BadCAFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))

	_, err := LoadClientTLSConfig(security.ClientTLSConfig{CAFiles: []string{bad}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse CA certificate")

	_, err = LoadClientTLSConfig(security.ClientTLSConfig{CAFiles: []string{filepath.Join(dir, "missing.pem")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read CA file")
}

func TestLoadClientTLSConfig_MissingClientCert(t *testing.T) {
	_, err := LoadClientTLSConfig(security.ClientTLSConfig{
		MTLS: security.ClientMTLSConfig{Enabled: true, CertFile: "/nope.pem", KeyFile: "/nope.key"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestClientTLSConfig_IsZero(t *testing.T) {
	assert.True(t, security.ClientTLSConfig{}.IsZero())
	assert.False(t, security.ClientTLSConfig{MinVersion: "1.3"}.IsZero())
}
