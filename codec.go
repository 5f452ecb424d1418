package tokenx

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const tokenType = "JWT"

// Codec signs claims into RS256 compact tokens and verifies them back.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	clock  jwt.Clock
	leeway time.Duration
	logger *slog.Logger
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec)

// WithClock sets the clock used for issued-at defaults and temporal validation.
func WithClock(clock jwt.Clock) CodecOption {
	return func(c *Codec) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLeeway tolerates clock drift when checking exp and nbf. The default is zero.
func WithLeeway(leeway time.Duration) CodecOption {
	return func(c *Codec) {
		if leeway > 0 {
			c.leeway = leeway
		}
	}
}

// WithLogger sets the logger that receives failure diagnostics at debug level.
func WithLogger(logger *slog.Logger) CodecOption {
	return func(c *Codec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCodec constructs a Codec.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		clock:  systemClock,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCodec = NewCodec()

// EncodeClientToken signs client claims with the default codec.
func EncodeClientToken(key PrivateKey, subject, buffer []byte, reference uint64, opts ...ClaimsOption) (string, error) {
	return defaultCodec.EncodeClientToken(key, subject, buffer, reference, opts...)
}

// DecodeClientToken verifies a client token with the default codec.
func DecodeClientToken(key PublicKey, token string) (*ClientClaims, error) {
	return defaultCodec.DecodeClientToken(key, token)
}

// EncodeServerToken signs server claims with the default codec.
func EncodeServerToken(key PrivateKey, subject, client, server []byte, reference uint64, opts ...ClaimsOption) (string, error) {
	return defaultCodec.EncodeServerToken(key, subject, client, server, reference, opts...)
}

// DecodeServerToken verifies a server token with the default codec.
func DecodeServerToken(key PublicKey, token string) (*ServerClaims, error) {
	return defaultCodec.DecodeServerToken(key, token)
}

// EncodeClientToken builds client claims and signs them.
func (c *Codec) EncodeClientToken(key PrivateKey, subject, buffer []byte, reference uint64, opts ...ClaimsOption) (string, error) {
	return c.Sign(key, newClientClaims(c.clock, subject, buffer, reference, opts))
}

// EncodeServerToken builds server claims and signs them.
func (c *Codec) EncodeServerToken(key PrivateKey, subject, client, server []byte, reference uint64, opts ...ClaimsOption) (string, error) {
	return c.Sign(key, newServerClaims(c.clock, subject, client, server, reference, opts))
}

// DecodeClientToken verifies token and returns its client claims.
func (c *Codec) DecodeClientToken(key PublicKey, token string) (*ClientClaims, error) {
	return decodeToken[ClientClaims](c, key, token)
}

// DecodeServerToken verifies token and returns its server claims.
func (c *Codec) DecodeServerToken(key PublicKey, token string) (*ServerClaims, error) {
	return decodeToken[ServerClaims](c, key, token)
}

// Sign serializes already constructed claims into a signed compact token.
func (c *Codec) Sign(key PrivateKey, claims Claims) (string, error) {
	token, err := c.sign(key, claims)
	if err != nil {
		return "", c.fail(ErrCodeEncodeFailed, err)
	}
	return token, nil
}

func (c *Codec) sign(key PrivateKey, claims Claims) (string, error) {
	signer, err := ParsePrivateKey(key)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	headers := jws.NewHeaders()
	if err := headers.Set(jws.TypeKey, tokenType); err != nil {
		return "", fmt.Errorf("set header: %w", err)
	}
	signed, err := jws.Sign(payload, jws.WithKey(jwa.RS256, signer, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}

func decodeToken[T any, PT interface {
	*T
	Claims
}](c *Codec, key PublicKey, token string) (*T, error) {
	payload, err := c.verify(key, token)
	if err != nil {
		return nil, c.fail(ErrCodeDecodeFailed, err)
	}
	claims := PT(new(T))
	if err := json.Unmarshal(payload, claims); err != nil {
		if !errors.Is(err, ErrMissingClaim) && !errors.Is(err, ErrMalformedToken) {
			err = fmt.Errorf("%w: %w", ErrMalformedToken, err)
		}
		return nil, c.fail(ErrCodeDecodeFailed, err)
	}
	if err := c.validateTimes(claims); err != nil {
		return nil, c.fail(ErrCodeDecodeFailed, err)
	}
	return (*T)(claims), nil
}

// verify checks structure, algorithm and signature, returning the raw payload.
func (c *Codec) verify(key PublicKey, token string) ([]byte, error) {
	verifier, err := ParsePublicKey(key)
	if err != nil {
		return nil, err
	}
	buf := []byte(token)
	if err := checkCompact(buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	msg, err := jws.Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, fmt.Errorf("%w: expected one signature, got %d", ErrMalformedToken, len(sigs))
	}
	if alg := sigs[0].ProtectedHeaders().Algorithm(); alg != jwa.RS256 {
		return nil, fmt.Errorf("%w: %q", ErrAlgorithmMismatch, alg.String())
	}
	payload, err := jws.Verify(buf, jws.WithKey(jwa.RS256, verifier))
	if err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}
	return payload, nil
}

// checkCompact accepts only header.payload.signature with base64url segments,
// so a signed message has exactly one accepted string form.
func checkCompact(buf []byte) error {
	header, payload, signature, err := jws.SplitCompact(buf)
	if err != nil {
		return err
	}
	for _, seg := range [][]byte{header, payload, signature} {
		if len(seg) == 0 {
			return errors.New("empty segment")
		}
		if _, err := base64.RawURLEncoding.DecodeString(string(seg)); err != nil {
			return fmt.Errorf("segment is not base64url: %w", err)
		}
	}
	return nil
}

// validateTimes rejects tokens when now >= exp or now < nbf, widened by the leeway.
func (c *Codec) validateTimes(claims Claims) error {
	now := c.clock.Now().Unix()
	leeway := int64(c.leeway / time.Second)
	if now-leeway >= claims.Expiry() {
		return fmt.Errorf("%w: exp %d, now %d", ErrTokenExpired, claims.Expiry(), now)
	}
	if now+leeway < claims.NotBefore() {
		return fmt.Errorf("%w: nbf %d, now %d", ErrTokenNotYetValid, claims.NotBefore(), now)
	}
	return nil
}

func (c *Codec) fail(code ErrorCode, err error) error {
	c.logger.Debug("token operation failed",
		slog.String("code", string(code)),
		slog.String("error", err.Error()),
	)
	return newError(code, err)
}
