package tokenx

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
)

// ProviderConfig defines how server tokens are minted.
type ProviderConfig struct {
	PrivateKey PrivateKey
	Codec      *Codec
	// Lifetime overrides DefaultLifetime for minted tokens when positive.
	Lifetime time.Duration
}

// Provider mints server tokens for outgoing service-to-service calls.
// It caches one token source per (subject, client, server, reference) combination
// and re-mints once the cached token has expired. Entries whose token has
// expired are dropped whenever a new combination is added, so the cache holds
// at most the combinations requested within one token lifetime.
type Provider struct {
	mu       sync.RWMutex
	key      PrivateKey
	codec    *Codec
	lifetime int64
	entries  map[providerKey]*providerEntry
}

type providerEntry struct {
	source oauth2.TokenSource
	minter *mintingSource
}

type providerKey struct {
	Subject   string
	Client    string
	Server    string
	HasClient bool
	HasServer bool
	Reference uint64
}

// ServerTokenParams identifies the pairing a minted server token vouches for.
type ServerTokenParams struct {
	Subject   []byte
	Client    []byte
	Server    []byte
	Reference uint64
}

// NewProvider constructs a Provider. The private key is validated up front.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if _, err := ParsePrivateKey(cfg.PrivateKey); err != nil {
		return nil, newError(ErrCodeEncodeFailed, err)
	}
	codec := cfg.Codec
	if codec == nil {
		codec = defaultCodec
	}
	lifetime := DefaultLifetime
	if secs := int64(cfg.Lifetime / time.Second); secs > 0 {
		lifetime = secs
	}
	return &Provider{
		key:      bytes.Clone(cfg.PrivateKey),
		codec:    codec,
		lifetime: lifetime,
		entries:  make(map[providerKey]*providerEntry),
	}, nil
}

// Token returns a valid server token for params, minting a new one when needed.
func (p *Provider) Token(params ServerTokenParams) (string, error) {
	if len(params.Subject) == 0 {
		return "", errors.New("subject is required")
	}
	key := providerKey{
		Subject:   string(params.Subject),
		Client:    string(params.Client),
		Server:    string(params.Server),
		HasClient: params.Client != nil,
		HasServer: params.Server != nil,
		Reference: params.Reference,
	}

	tok, err := p.getOrCreate(key, params).Token()
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty token minted")
	}
	return tok.AccessToken, nil
}

func (p *Provider) getOrCreate(key providerKey, params ServerTokenParams) oauth2.TokenSource {
	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()
	if ok {
		return entry.source
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok = p.entries[key]; ok {
		return entry.source
	}
	p.evictExpiredLocked(time.Now().Unix())

	minter := &mintingSource{
		key:      p.key,
		codec:    p.codec,
		lifetime: p.lifetime,
		params:   cloneTokenParams(params),
	}
	entry = &providerEntry{source: oauth2.ReuseTokenSource(nil, minter), minter: minter}
	p.entries[key] = entry
	return entry.source
}

// evictExpiredLocked drops entries whose last minted token expired at or before now.
// Entries that have not minted yet are kept. Callers must hold p.mu for writing.
func (p *Provider) evictExpiredLocked(now int64) {
	for key, entry := range p.entries {
		if exp := entry.minter.expiry.Load(); exp != 0 && exp <= now {
			delete(p.entries, key)
		}
	}
}

type mintingSource struct {
	key      PrivateKey
	codec    *Codec
	lifetime int64
	params   ServerTokenParams
	expiry   atomic.Int64
}

func (m *mintingSource) Token() (*oauth2.Token, error) {
	iat := m.codec.clock.Now().Unix()
	claims := newServerClaims(m.codec.clock, m.params.Subject, m.params.Client, m.params.Server, m.params.Reference,
		[]ClaimsOption{WithIssuedAt(iat), WithExpiry(iat + m.lifetime)})
	token, err := m.codec.Sign(m.key, claims)
	if err != nil {
		return nil, err
	}
	m.expiry.Store(claims.Expiry())
	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      time.Unix(claims.Expiry(), 0),
	}, nil
}

func cloneTokenParams(in ServerTokenParams) ServerTokenParams {
	return ServerTokenParams{
		Subject:   bytes.Clone(in.Subject),
		Client:    bytes.Clone(in.Client),
		Server:    bytes.Clone(in.Server),
		Reference: in.Reference,
	}
}
