package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/eventdeck/eventdeck/internal/errors"
)

func TestHTTPGeoResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/json/") {
		case "203.0.113.1":
			w.Write([]byte(`{"status":"success","country":"Canada","countryCode":"CA"}`))
		case "203.0.113.2":
			w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	r := NewHTTPGeoResolver(srv.URL+"/json", time.Second)

	country, err := r.Country(context.Background(), "203.0.113.1")
	require.NoError(t, err)
	assert.Equal(t, "Canada", country)

	_, err = r.Country(context.Background(), "203.0.113.2")
	assert.Equal(t, apperrors.CodeLookupFailed, apperrors.GetCode(err))

	_, err = r.Country(context.Background(), "203.0.113.3")
	assert.Equal(t, apperrors.ErrCategoryLookup, apperrors.GetCategory(err))
}

func TestHTTPGeoResolver_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r := NewHTTPGeoResolver(srv.URL+"/", 50*time.Millisecond)
	started := time.Now()
	_, err := r.Country(context.Background(), "203.0.113.1")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeLookupTimeout, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Less(t, time.Since(started), time.Second)
}

type countingGeo struct {
	calls atomic.Int32
}

func (c *countingGeo) Country(context.Context, string) (string, error) {
	c.calls.Add(1)
	return "Japan", nil
}

func TestMemoGeoResolver(t *testing.T) {
	next := &countingGeo{}
	m := NewMemoGeoResolver(next, time.Hour)
	now := baseTime
	m.now = func() time.Time { return now }

	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.4", "::1", "not-an-ip", "0.0.0.0"} {
		country, err := m.Country(context.Background(), ip)
		require.NoError(t, err)
		assert.Equal(t, UnknownCountry, country, ip)
	}
	assert.Zero(t, next.calls.Load())

	for i := 0; i < 3; i++ {
		country, err := m.Country(context.Background(), "203.0.113.9")
		require.NoError(t, err)
		assert.Equal(t, "Japan", country)
	}
	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, 1, m.Len())

	now = now.Add(2 * time.Hour)
	_, err := m.Country(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestMemoGeoResolver_DoesNotRememberFailures(t *testing.T) {
	m := NewMemoGeoResolver(failingGeo{}, time.Hour)
	_, err := m.Country(context.Background(), "203.0.113.9")
	assert.Error(t, err)
	assert.Zero(t, m.Len())
}
