package tokenx

import "context"

type callerClaimsKey struct{}

// CallerClaims represents the authenticated caller stored during token validation.
// Exactly one of Client or Server is set.
type CallerClaims struct {
	Client *ClientClaims
	Server *ServerClaims
}

// Claims returns whichever claim shape is set.
func (c CallerClaims) Claims() Claims {
	if c.Client != nil {
		return c.Client
	}
	if c.Server != nil {
		return c.Server
	}
	return nil
}

// BindCallerClaims stores caller claims inside the context for downstream consumers.
func BindCallerClaims(ctx context.Context, claims CallerClaims) context.Context {
	return context.WithValue(ctx, callerClaimsKey{}, claims)
}

// CallerClaimsFromContext retrieves caller claims previously stored in the context.
func CallerClaimsFromContext(ctx context.Context) (CallerClaims, bool) {
	if ctx == nil {
		return CallerClaims{}, false
	}
	value := ctx.Value(callerClaimsKey{})
	if value == nil {
		return CallerClaims{}, false
	}
	claims, ok := value.(CallerClaims)
	return claims, ok
}
