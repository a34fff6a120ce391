package analytics

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Identity is the caller information stamped on every recorded row.
type Identity struct {
	IP        string
	UserAgent string
	UserID    *int64
	SessionID string
}

// IdentitySource resolves the identity of the current caller.
type IdentitySource interface {
	Identity(ctx context.Context) Identity
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// ContextIdentity reads the identity placed on the context by the transport
// layer. Requests without one get an anonymous identity.
type ContextIdentity struct{}

// Identity implements IdentitySource.
func (ContextIdentity) Identity(ctx context.Context) Identity {
	if id, ok := IdentityFromContext(ctx); ok {
		return id
	}
	return Identity{}
}

// Header and cookie names used by IdentityFromRequest.
const (
	SessionCookie = "eventdeck_session"
	UserIDHeader  = "X-User-ID"
)

// IdentityFromRequest extracts the caller identity from an HTTP request.
// The session id comes from the session cookie, or a new one is minted.
// The user id is trusted from the host-supplied header.
func IdentityFromRequest(r *http.Request) Identity {
	id := Identity{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		id.SessionID = c.Value
	} else {
		id.SessionID = uuid.NewString()
	}
	if raw := r.Header.Get(UserIDHeader); raw != "" {
		if uid, err := strconv.ParseInt(raw, 10, 64); err == nil && uid > 0 {
			id.UserID = &uid
		}
	}
	return id
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(real) != nil {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
