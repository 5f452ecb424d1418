package tokenx

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// PrivateKey is PEM or DER encoded RSA private key material used for signing.
type PrivateKey []byte

// PublicKey is PEM or DER encoded RSA public key material used for verification.
// Private key material and X.509 certificates are accepted as well.
type PublicKey []byte

// PrivateKeyFromRSA encodes key as a PKCS#1 PEM block.
func PrivateKeyFromRSA(key *rsa.PrivateKey) PrivateKey {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// PublicKeyFromRSA encodes key as a PKIX PEM block.
func PublicKeyFromRSA(key *rsa.PublicKey) (PublicKey, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePrivateKey parses the material into an RSA private JWK.
func ParsePrivateKey(data PrivateKey) (jwk.Key, error) {
	key, err := parseKeyMaterial(data)
	if err != nil {
		return nil, err
	}
	if _, ok := key.(jwk.RSAPrivateKey); !ok {
		return nil, fmt.Errorf("%w: expected RSA private key, got %s", ErrInvalidKey, describeKey(key))
	}
	return key, nil
}

// ParsePublicKey parses the material into an RSA public JWK.
func ParsePublicKey(data PublicKey) (jwk.Key, error) {
	key, err := parseKeyMaterial(data)
	if err != nil {
		return nil, err
	}
	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if _, ok := pub.(jwk.RSAPublicKey); !ok {
		return nil, fmt.Errorf("%w: expected RSA public key, got %s", ErrInvalidKey, describeKey(pub))
	}
	return pub, nil
}

func parseKeyMaterial(data []byte) (jwk.Key, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty key material", ErrInvalidKey)
	}
	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}
	raw, err := parseDER(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return key, nil
}

func parseDER(der []byte) (any, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}
	if cert, err := x509.ParseCertificate(der); err == nil {
		return cert.PublicKey, nil
	}
	return nil, errors.New("unrecognized key encoding")
}

func describeKey(key jwk.Key) string {
	if kty := key.KeyType(); kty != jwa.InvalidKeyType {
		return fmt.Sprintf("%s key", kty)
	}
	return fmt.Sprintf("%T", key)
}
