package tokenx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultLifetime is the validity window, in seconds, applied when no expiry is supplied.
const DefaultLifetime int64 = 24 * 60 * 60

var systemClock jwt.Clock = jwt.ClockFunc(time.Now)

// Claims is implemented by *ClientClaims and *ServerClaims.
type Claims interface {
	Subject() []byte
	Reference() uint64
	IssuedAt() int64
	NotBefore() int64
	Expiry() int64

	sealed()
}

// ClaimsOption overrides one of the temporal claims at construction time.
type ClaimsOption func(*claimsParams)

type claimsParams struct {
	exp *int64
	nbf *int64
	iat *int64
}

// WithExpiry sets the expiry (Unix seconds) instead of issued-at + DefaultLifetime.
func WithExpiry(exp int64) ClaimsOption {
	return func(p *claimsParams) {
		p.exp = &exp
	}
}

// WithNotBefore sets the not-before time (Unix seconds) instead of issued-at.
func WithNotBefore(nbf int64) ClaimsOption {
	return func(p *claimsParams) {
		p.nbf = &nbf
	}
}

// WithIssuedAt sets the issued-at time (Unix seconds) instead of the current time.
func WithIssuedAt(iat int64) ClaimsOption {
	return func(p *claimsParams) {
		p.iat = &iat
	}
}

// TimeClaims holds the temporal claims shared by both claim shapes.
// Ordering between caller supplied values is not checked.
type TimeClaims struct {
	issuedAt  int64
	notBefore int64
	expiry    int64
}

// newTimeClaims applies the defaults in dependency order: iat, then exp, then nbf.
func newTimeClaims(clock jwt.Clock, opts []ClaimsOption) TimeClaims {
	var p claimsParams
	for _, opt := range opts {
		opt(&p)
	}

	var tc TimeClaims
	if p.iat != nil {
		tc.issuedAt = *p.iat
	} else {
		tc.issuedAt = clock.Now().Unix()
	}
	if p.exp != nil {
		tc.expiry = *p.exp
	} else {
		tc.expiry = tc.issuedAt + DefaultLifetime
	}
	if p.nbf != nil {
		tc.notBefore = *p.nbf
	} else {
		tc.notBefore = tc.issuedAt
	}
	return tc
}

// IssuedAt returns the issued-at time in Unix seconds.
func (t TimeClaims) IssuedAt() int64 { return t.issuedAt }

// NotBefore returns the earliest valid time in Unix seconds.
func (t TimeClaims) NotBefore() int64 { return t.notBefore }

// Expiry returns the expiry time in Unix seconds.
func (t TimeClaims) Expiry() int64 { return t.expiry }

// ClientClaims are issued to a client and carry an optional opaque buffer.
type ClientClaims struct {
	TimeClaims
	subject   []byte
	buffer    []byte
	reference uint64
}

// NewClientClaims builds client claims, reading the system clock when issued-at is not supplied.
// A nil buffer is recorded as absent.
func NewClientClaims(subject, buffer []byte, reference uint64, opts ...ClaimsOption) *ClientClaims {
	return newClientClaims(systemClock, subject, buffer, reference, opts)
}

func newClientClaims(clock jwt.Clock, subject, buffer []byte, reference uint64, opts []ClaimsOption) *ClientClaims {
	return &ClientClaims{
		TimeClaims: newTimeClaims(clock, opts),
		subject:    cloneSubject(subject),
		buffer:     bytes.Clone(buffer),
		reference:  reference,
	}
}

// Subject returns the client identifier.
func (c *ClientClaims) Subject() []byte { return bytes.Clone(c.subject) }

// Buffer returns the opaque payload and whether one was present.
func (c *ClientClaims) Buffer() ([]byte, bool) {
	return bytes.Clone(c.buffer), c.buffer != nil
}

// Reference returns the caller supplied correlation number.
func (c *ClientClaims) Reference() uint64 { return c.reference }

func (*ClientClaims) sealed() {}

// Equal reports whether both claims hold identical values.
func (c *ClientClaims) Equal(other *ClientClaims) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.TimeClaims == other.TimeClaims &&
		c.reference == other.reference &&
		bytes.Equal(c.subject, other.subject) &&
		optionalEqual(c.buffer, other.buffer)
}

type clientPayload struct {
	Subject   byteArray `json:"sub"`
	Buffer    byteArray `json:"_buf"`
	Reference uint64    `json:"_ref"`
	Expiry    int64     `json:"exp"`
	NotBefore int64     `json:"nbf"`
	IssuedAt  int64     `json:"iat"`
}

type clientPayloadIn struct {
	Subject   *byteArray `json:"sub"`
	Buffer    byteArray  `json:"_buf"`
	Reference *uint64    `json:"_ref"`
	Expiry    *int64     `json:"exp"`
	NotBefore *int64     `json:"nbf"`
	IssuedAt  *int64     `json:"iat"`
}

// MarshalJSON encodes the claims in their token payload form.
func (c ClientClaims) MarshalJSON() ([]byte, error) {
	return json.Marshal(clientPayload{
		Subject:   c.subject,
		Buffer:    c.buffer,
		Reference: c.reference,
		Expiry:    c.expiry,
		NotBefore: c.notBefore,
		IssuedAt:  c.issuedAt,
	})
}

// UnmarshalJSON decodes a token payload. All claims except the buffer are required.
func (c *ClientClaims) UnmarshalJSON(data []byte) error {
	var in clientPayloadIn
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	tc, err := timeClaimsFromPayload(in.Expiry, in.NotBefore, in.IssuedAt)
	if err != nil {
		return err
	}
	if err := requireClaims(claimPresence{"sub", in.Subject != nil}, claimPresence{"_ref", in.Reference != nil}); err != nil {
		return err
	}
	*c = ClientClaims{
		TimeClaims: tc,
		subject:    *in.Subject,
		buffer:     in.Buffer,
		reference:  *in.Reference,
	}
	return nil
}

// ServerClaims vouch for a client/server pairing in server-to-server calls.
type ServerClaims struct {
	TimeClaims
	subject   []byte
	client    []byte
	server    []byte
	reference uint64
}

// NewServerClaims builds server claims, reading the system clock when issued-at is not supplied.
// Nil client or server identifiers are recorded as absent.
func NewServerClaims(subject, client, server []byte, reference uint64, opts ...ClaimsOption) *ServerClaims {
	return newServerClaims(systemClock, subject, client, server, reference, opts)
}

func newServerClaims(clock jwt.Clock, subject, client, server []byte, reference uint64, opts []ClaimsOption) *ServerClaims {
	return &ServerClaims{
		TimeClaims: newTimeClaims(clock, opts),
		subject:    cloneSubject(subject),
		client:     bytes.Clone(client),
		server:     bytes.Clone(server),
		reference:  reference,
	}
}

// Subject returns the subject identifier.
func (s *ServerClaims) Subject() []byte { return bytes.Clone(s.subject) }

// Client returns the client identifier and whether one was present.
func (s *ServerClaims) Client() ([]byte, bool) {
	return bytes.Clone(s.client), s.client != nil
}

// Server returns the server identifier and whether one was present.
func (s *ServerClaims) Server() ([]byte, bool) {
	return bytes.Clone(s.server), s.server != nil
}

// Reference returns the caller supplied correlation number.
func (s *ServerClaims) Reference() uint64 { return s.reference }

func (*ServerClaims) sealed() {}

// Equal reports whether both claims hold identical values.
func (s *ServerClaims) Equal(other *ServerClaims) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.TimeClaims == other.TimeClaims &&
		s.reference == other.reference &&
		bytes.Equal(s.subject, other.subject) &&
		optionalEqual(s.client, other.client) &&
		optionalEqual(s.server, other.server)
}

type serverPayload struct {
	Subject   byteArray `json:"sub"`
	Client    byteArray `json:"_client"`
	Server    byteArray `json:"_server"`
	Reference uint64    `json:"_ref"`
	Expiry    int64     `json:"exp"`
	NotBefore int64     `json:"nbf"`
	IssuedAt  int64     `json:"iat"`
}

type serverPayloadIn struct {
	Subject   *byteArray `json:"sub"`
	Client    byteArray  `json:"_client"`
	Server    byteArray  `json:"_server"`
	Reference *uint64    `json:"_ref"`
	Expiry    *int64     `json:"exp"`
	NotBefore *int64     `json:"nbf"`
	IssuedAt  *int64     `json:"iat"`
}

// MarshalJSON encodes the claims in their token payload form.
func (s ServerClaims) MarshalJSON() ([]byte, error) {
	return json.Marshal(serverPayload{
		Subject:   s.subject,
		Client:    s.client,
		Server:    s.server,
		Reference: s.reference,
		Expiry:    s.expiry,
		NotBefore: s.notBefore,
		IssuedAt:  s.issuedAt,
	})
}

// UnmarshalJSON decodes a token payload. Client and server identifiers are optional.
func (s *ServerClaims) UnmarshalJSON(data []byte) error {
	var in serverPayloadIn
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	tc, err := timeClaimsFromPayload(in.Expiry, in.NotBefore, in.IssuedAt)
	if err != nil {
		return err
	}
	if err := requireClaims(claimPresence{"sub", in.Subject != nil}, claimPresence{"_ref", in.Reference != nil}); err != nil {
		return err
	}
	*s = ServerClaims{
		TimeClaims: tc,
		subject:    *in.Subject,
		client:     in.Client,
		server:     in.Server,
		reference:  *in.Reference,
	}
	return nil
}

type claimPresence struct {
	name    string
	present bool
}

func requireClaims(claims ...claimPresence) error {
	for _, c := range claims {
		if !c.present {
			return fmt.Errorf("%w: %q", ErrMissingClaim, c.name)
		}
	}
	return nil
}

func timeClaimsFromPayload(exp, nbf, iat *int64) (TimeClaims, error) {
	err := requireClaims(
		claimPresence{"exp", exp != nil},
		claimPresence{"nbf", nbf != nil},
		claimPresence{"iat", iat != nil},
	)
	if err != nil {
		return TimeClaims{}, err
	}
	return TimeClaims{issuedAt: *iat, notBefore: *nbf, expiry: *exp}, nil
}

// cloneSubject keeps the subject non-nil so it always encodes as an array.
func cloneSubject(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return bytes.Clone(b)
}

func optionalEqual(a, b []byte) bool {
	return (a == nil) == (b == nil) && bytes.Equal(a, b)
}
