package tokenx

import (
	"errors"
	"fmt"
	"os"
)

// KeyConfig points at key material on disk.
type KeyConfig struct {
	PrivateKeyPath string
	PublicKeyPath  string
}

// validate ensures at least one key is configured.
func (c KeyConfig) validate() error {
	if c.PrivateKeyPath == "" && c.PublicKeyPath == "" {
		return errors.New("private or public key path is required")
	}
	return nil
}

// LoadPrivateKey reads and checks the private key file.
func (c KeyConfig) LoadPrivateKey() (PrivateKey, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.PrivateKeyPath == "" {
		return nil, errors.New("private key path is required")
	}
	data, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	if _, err := ParsePrivateKey(data); err != nil {
		return nil, fmt.Errorf("private key %q: %w", c.PrivateKeyPath, err)
	}
	return data, nil
}

// LoadPublicKey reads and checks the public key file. When only a private key
// path is configured, the public key is derived from it.
func (c KeyConfig) LoadPublicKey() (PublicKey, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	path := c.PublicKeyPath
	if path == "" {
		path = c.PrivateKeyPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	if _, err := ParsePublicKey(data); err != nil {
		return nil, fmt.Errorf("public key %q: %w", path, err)
	}
	return data, nil
}
