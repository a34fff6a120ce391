package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "github.com/eventdeck/eventdeck/internal/errors"
)

// UnknownCountry is the bucket for IPs that could not be resolved.
const UnknownCountry = "Unknown"

// GeoResolver maps a client IP to a country name.
type GeoResolver interface {
	Country(ctx context.Context, ip string) (string, error)
}

// HTTPGeoResolver queries an ip-api.com compatible endpoint.
type HTTPGeoResolver struct {
	endpoint string
	client   *http.Client
}

// NewHTTPGeoResolver creates a resolver. endpoint is the URL prefix the IP is
// appended to, for example "http://ip-api.com/json/".
func NewHTTPGeoResolver(endpoint string, timeout time.Duration) *HTTPGeoResolver {
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return &HTTPGeoResolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type geoResponse struct {
	Status  string `json:"status"`
	Country string `json:"country"`
	Message string `json:"message"`
}

// Country implements GeoResolver.
func (r *HTTPGeoResolver) Country(ctx context.Context, ip string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+url.PathEscape(ip), nil)
	if err != nil {
		return "", apperrors.NewLookupError(apperrors.CodeLookupFailed, "build geo request", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", apperrors.NewLookupError(apperrors.CodeLookupTimeout, "geo lookup "+ip, err)
		}
		return "", apperrors.NewLookupError(apperrors.CodeLookupFailed, "geo lookup "+ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewLookupError(apperrors.CodeLookupFailed,
			fmt.Sprintf("geo lookup %s: status %d", ip, resp.StatusCode), nil)
	}
	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperrors.NewLookupError(apperrors.CodeLookupFailed, "decode geo response", err)
	}
	if body.Status != "success" || body.Country == "" {
		return "", apperrors.NewLookupError(apperrors.CodeLookupFailed,
			fmt.Sprintf("geo lookup %s: %s", ip, body.Message), nil)
	}
	return body.Country, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// MemoGeoResolver remembers successful lookups for ttl and answers
// private, loopback and unparsable addresses without calling next.
type MemoGeoResolver struct {
	next GeoResolver
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]memoCountry
}

type memoCountry struct {
	country   string
	expiresAt time.Time
}

// NewMemoGeoResolver wraps next.
func NewMemoGeoResolver(next GeoResolver, ttl time.Duration) *MemoGeoResolver {
	return &MemoGeoResolver{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoCountry),
	}
}

// Country implements GeoResolver.
func (m *MemoGeoResolver) Country(ctx context.Context, ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() {
		return UnknownCountry, nil
	}

	now := m.now()
	m.mu.Lock()
	if e, ok := m.entries[ip]; ok && now.Before(e.expiresAt) {
		m.mu.Unlock()
		return e.country, nil
	}
	m.mu.Unlock()

	country, err := m.next.Country(ctx, ip)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.entries[ip] = memoCountry{country: country, expiresAt: now.Add(m.ttl)}
	m.mu.Unlock()
	return country, nil
}

// Len returns the number of remembered lookups, expired ones included.
func (m *MemoGeoResolver) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
