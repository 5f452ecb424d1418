package tokenx

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

type countingClock struct {
	calls int32
}

func (c *countingClock) Now() time.Time {
	atomic.AddInt32(&c.calls, 1)
	return time.Now()
}

func TestProviderTokenCaching(t *testing.T) {
	priv, pub := newKeyPair(t)
	clock := &countingClock{}
	provider, err := NewProvider(ProviderConfig{PrivateKey: priv, Codec: NewCodec(WithClock(clock))})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	params := ServerTokenParams{Subject: []byte("svc"), Client: []byte("client-1"), Server: []byte("server-1"), Reference: 7}
	first, err := provider.Token(params)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	second, err := provider.Token(params)
	if err != nil {
		t.Fatalf("Token second call: %v", err)
	}
	if first != second {
		t.Fatal("expected cached token on second call")
	}
	if got := atomic.LoadInt32(&clock.calls); got != 1 {
		t.Fatalf("expected one mint, got %d", got)
	}

	claims, err := DecodeServerToken(pub, first)
	if err != nil {
		t.Fatalf("DecodeServerToken: %v", err)
	}
	if string(claims.Subject()) != "svc" || claims.Reference() != 7 {
		t.Fatalf("unexpected claims: subject=%q ref=%d", claims.Subject(), claims.Reference())
	}
	if c, _ := claims.Client(); string(c) != "client-1" {
		t.Fatalf("unexpected client: %q", c)
	}

	// A different pairing gets its own entry.
	if _, err := provider.Token(ServerTokenParams{Subject: []byte("svc"), Client: []byte("client-2"), Reference: 7}); err != nil {
		t.Fatalf("Token other pairing: %v", err)
	}
	if got := atomic.LoadInt32(&clock.calls); got != 2 {
		t.Fatalf("expected two mints, got %d", got)
	}
}

func TestProviderAbsentAndEmptyIdentifiersAreDistinct(t *testing.T) {
	priv, pub := newKeyPair(t)
	provider, err := NewProvider(ProviderConfig{PrivateKey: priv})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	absent, err := provider.Token(ServerTokenParams{Subject: []byte("svc")})
	if err != nil {
		t.Fatalf("Token absent: %v", err)
	}
	empty, err := provider.Token(ServerTokenParams{Subject: []byte("svc"), Client: []byte{}})
	if err != nil {
		t.Fatalf("Token empty: %v", err)
	}

	claims, err := DecodeServerToken(pub, absent)
	if err != nil {
		t.Fatalf("decode absent: %v", err)
	}
	if _, ok := claims.Client(); ok {
		t.Fatal("expected absent client")
	}
	claims, err = DecodeServerToken(pub, empty)
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if _, ok := claims.Client(); !ok {
		t.Fatal("expected present empty client")
	}
}

func TestProviderRemintsExpiredToken(t *testing.T) {
	priv, _ := newKeyPair(t)
	var offset atomic.Int64
	clock := jwt.ClockFunc(func() time.Time {
		return time.Now().Add(time.Duration(offset.Load()))
	})
	provider, err := NewProvider(ProviderConfig{
		PrivateKey: priv,
		Codec:      NewCodec(WithClock(clock)),
		Lifetime:   time.Hour,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	// Minted two hours in the past, so the cached token is already expired.
	offset.Store(int64(-2 * time.Hour))
	params := ServerTokenParams{Subject: []byte("svc")}
	first, err := provider.Token(params)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	offset.Store(0)
	second, err := provider.Token(params)
	if err != nil {
		t.Fatalf("Token after expiry: %v", err)
	}
	if first == second {
		t.Fatal("expected a fresh token after expiry")
	}
}

func TestProviderLifetime(t *testing.T) {
	priv, pub := newKeyPair(t)
	provider, err := NewProvider(ProviderConfig{PrivateKey: priv, Lifetime: 10 * time.Minute})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	token, err := provider.Token(ServerTokenParams{Subject: []byte("svc")})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	claims, err := DecodeServerToken(pub, token)
	if err != nil {
		t.Fatalf("DecodeServerToken: %v", err)
	}
	if got := claims.Expiry() - claims.IssuedAt(); got != 600 {
		t.Fatalf("expected 600s lifetime, got %d", got)
	}
}

func TestProviderInvalidKey(t *testing.T) {
	_, err := NewProvider(ProviderConfig{PrivateKey: PrivateKey("no certificates")})
	if !IsEncodeError(err) || !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected encode failure for invalid key, got %v", err)
	}
}

func TestProviderRequiresSubject(t *testing.T) {
	priv, _ := newKeyPair(t)
	provider, err := NewProvider(ProviderConfig{PrivateKey: priv})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, err := provider.Token(ServerTokenParams{}); err == nil {
		t.Fatal("expected error for empty subject")
	}
}

func TestProviderDropsExpiredEntries(t *testing.T) {
	priv, _ := newKeyPair(t)
	var offset atomic.Int64
	clock := jwt.ClockFunc(func() time.Time {
		return time.Now().Add(time.Duration(offset.Load()))
	})
	provider, err := NewProvider(ProviderConfig{
		PrivateKey: priv,
		Codec:      NewCodec(WithClock(clock)),
		Lifetime:   time.Hour,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	offset.Store(int64(-2 * time.Hour))
	for _, subject := range []string{"svc-a", "svc-b", "svc-c"} {
		if _, err := provider.Token(ServerTokenParams{Subject: []byte(subject)}); err != nil {
			t.Fatalf("Token %s: %v", subject, err)
		}
	}
	if got := len(provider.entries); got != 3 {
		t.Fatalf("expected 3 entries, got %d", got)
	}

	offset.Store(0)
	if _, err := provider.Token(ServerTokenParams{Subject: []byte("svc-d")}); err != nil {
		t.Fatalf("Token svc-d: %v", err)
	}
	if got := len(provider.entries); got != 1 {
		t.Fatalf("expected expired entries to be dropped, got %d entries", got)
	}

	// Live entries survive the next insertion.
	if _, err := provider.Token(ServerTokenParams{Subject: []byte("svc-e")}); err != nil {
		t.Fatalf("Token svc-e: %v", err)
	}
	if got := len(provider.entries); got != 2 {
		t.Fatalf("expected 2 live entries, got %d", got)
	}
}
