// Package auth defines how requests are authenticated and how player
// identity tokens are issued and validated.
package auth

import (
	"context"
	"net/http"
)

type authedctxkey int

const (
	// KeyUID is the context key under which the authenticated player
	// identity is stored.
	KeyUID authedctxkey = iota
)

// Provider authenticates incoming requests. Implementations attach the
// player identity to the request context under KeyUID.
type Provider interface {
	AuthenticateRequest(context.Context, *http.Request) (context.Context, error)
	GetUIDFromRequest(*http.Request) (string, error)
}

// Issuer mints identity tokens after credential verification.
type Issuer interface {
	IssueToken(playerID string) (string, error)
}

// UIDFromContext extracts the authenticated player identity, if any.
func UIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(KeyUID).(string)
	return uid, ok
}
