package mcpmgr

import "context"

// CredentialProvider resolves a bearer token for a user and a credential
// service. ok is false when no token exists; err reports lookup failures.
type CredentialProvider interface {
	ResolveToken(ctx context.Context, userID, serviceID string) (token string, ok bool, err error)
}

// CredentialProviderFunc adapts a function to CredentialProvider.
type CredentialProviderFunc func(ctx context.Context, userID, serviceID string) (string, bool, error)

func (f CredentialProviderFunc) ResolveToken(ctx context.Context, userID, serviceID string) (string, bool, error) {
	return f(ctx, userID, serviceID)
}

// StaticCredentials maps userID -> serviceID -> token. The empty userID acts
// as a fallback for every user.
type StaticCredentials map[string]map[string]string

func (s StaticCredentials) ResolveToken(_ context.Context, userID, serviceID string) (string, bool, error) {
	if tok, ok := s[userID][serviceID]; ok && tok != "" {
		return tok, true, nil
	}
	if tok, ok := s[""][serviceID]; ok && tok != "" {
		return tok, true, nil
	}
	return "", false, nil
}

type callerKey struct{}

// WithCallerIdentity attaches the identity of the user on whose behalf a
// connect is made. Servers with RequiresAuth resolve their token for it, and
// reconnection attempts reuse it.
func WithCallerIdentity(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey{}, userID)
}

// CallerIdentity returns the identity stored by WithCallerIdentity.
func CallerIdentity(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(callerKey{}).(string)
	return id, ok
}
