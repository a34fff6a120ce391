package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		wantIP string
	}{
		{"remote addr", func(r *http.Request) {}, "192.0.2.1"},
		{"forwarded for", func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		}, "203.0.113.7"},
		{"bad forwarded falls through to real ip", func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", "garbage")
			r.Header.Set("X-Real-IP", "198.51.100.4")
		}, "198.51.100.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/events", nil)
			tt.setup(r)
			assert.Equal(t, tt.wantIP, IdentityFromRequest(r).IP)
		})
	}
}

func TestIdentityFromRequest_SessionAndUser(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events", nil)
	r.Header.Set("User-Agent", "test-agent")
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "abc"})
	r.Header.Set(UserIDHeader, "12")

	id := IdentityFromRequest(r)
	assert.Equal(t, "abc", id.SessionID)
	assert.Equal(t, "test-agent", id.UserAgent)
	require.NotNil(t, id.UserID)
	assert.Equal(t, int64(12), *id.UserID)

	anon := IdentityFromRequest(httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.NotEmpty(t, anon.SessionID)
	assert.Nil(t, anon.UserID)
}

func TestContextIdentity(t *testing.T) {
	var src IdentitySource = ContextIdentity{}
	assert.Equal(t, Identity{}, src.Identity(context.Background()))

	ctx := WithIdentity(context.Background(), Identity{IP: "192.0.2.9"})
	assert.Equal(t, "192.0.2.9", src.Identity(ctx).IP)
}
