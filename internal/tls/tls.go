// Package tls builds the status API's TLS configuration, optionally
// generating a self-signed certificate for local use.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File names used inside Config.Dir.
const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

// Config is the [server.tls] section.
type Config struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	CertFile     string   `mapstructure:"cert_file" yaml:"cert_file,omitempty"`
	KeyFile      string   `mapstructure:"key_file" yaml:"key_file,omitempty"`
	Dir          string   `mapstructure:"dir" yaml:"dir,omitempty"`                     // holds tls.crt / tls.key
	AutoGenerate bool     `mapstructure:"auto_generate" yaml:"auto_generate,omitempty"` // self-signed into Dir when missing
	Hosts        []string `mapstructure:"hosts" yaml:"hosts,omitempty"`                 // SANs for generated certs
	MinVersion   string   `mapstructure:"min_version" yaml:"min_version,omitempty"`     // "1.2" or "1.3"
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := parseVersion(c.MinVersion); err != nil {
		return err
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("tls: cert_file and key_file must be set together")
	}
	if c.CertFile == "" && c.Dir == "" {
		return errors.New("tls: enabled but neither cert_file/key_file nor dir is set")
	}
	return nil
}

func parseVersion(v string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(v), "tls") {
	case "", "1.3":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("tls: unsupported min_version %q", v)
	}
}

// Paths returns the certificate and key files c refers to.
func (c Config) Paths() (cert, key string) {
	if c.CertFile != "" {
		return c.CertFile, c.KeyFile
	}
	return filepath.Join(c.Dir, certName), filepath.Join(c.Dir, keyName)
}

// Setup returns the server TLS config, or nil when TLS is disabled. With
// AutoGenerate a missing certificate in Dir is created first.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	minVer, _ := parseVersion(c.MinVersion)
	certPath, keyPath := c.Paths()
	if c.CertFile == "" && c.AutoGenerate && !exists(certPath, keyPath) {
		if err := GenerateSelfSigned(certPath, keyPath, c.Hosts); err != nil {
			return nil, fmt.Errorf("tls: generate certificate: %w", err)
		}
	}
	pair, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
	if err != nil {
		return nil, fmt.Errorf("tls: load key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: minVer}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
