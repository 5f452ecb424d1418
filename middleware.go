package tokenx

import (
	"net/http"
	"strings"
)

// TokenKind selects which claim shape a middleware expects.
type TokenKind int

const (
	ClientToken TokenKind = iota
	ServerToken
)

// String returns the kind name.
func (k TokenKind) String() string {
	switch k {
	case ClientToken:
		return "client"
	case ServerToken:
		return "server"
	default:
		return "unknown"
	}
}

// MiddlewareConfig configures request authentication.
type MiddlewareConfig struct {
	PublicKey PublicKey
	Kind      TokenKind
	Codec     *Codec
}

// Middleware authenticates bearer tokens and binds the decoded claims to the request context.
// Requests without a valid token are rejected with 401.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	codec := cfg.Codec
	if codec == nil {
		codec = defaultCodec
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			var caller CallerClaims
			var err error
			switch cfg.Kind {
			case ServerToken:
				caller.Server, err = codec.DecodeServerToken(cfg.PublicKey, token)
			default:
				caller.Client, err = codec.DecodeClientToken(cfg.PublicKey, token)
			}
			if err != nil {
				unauthorized(w, errorMessages[ErrCodeDecodeFailed])
				return
			}
			next.ServeHTTP(w, r.WithContext(BindCallerClaims(r.Context(), caller)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	http.Error(w, msg, http.StatusUnauthorized)
}
