// Package security holds TLS settings for the gateway listener and for
// outbound connections to SPARQL endpoints.
package security

// Config holds platform-wide security configuration
type Config struct {
	TLS TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// TLSConfig groups server and client TLS settings.
type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty" yaml:"server,omitempty"`
	Client ClientTLSConfig `json:"client,omitempty" yaml:"client,omitempty"`
}

// ServerTLSConfig configures TLS for the HTTP/WebSocket gateway.
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"
}

// ClientMTLSConfig provides a client certificate to endpoints that demand one.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}

// ClientTLSConfig configures TLS for outbound endpoint requests.
// The system CA bundle is always trusted; CAFiles are added to it.
type ClientTLSConfig struct {
	CAFiles            []string         `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool             `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string           `json:"min_version,omitempty" yaml:"min_version,omitempty"`
	MTLS               ClientMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
}

// IsZero reports whether no client TLS setting deviates from the defaults.
func (c ClientTLSConfig) IsZero() bool {
	return len(c.CAFiles) == 0 && !c.InsecureSkipVerify && c.MinVersion == "" && !c.MTLS.Enabled
}
