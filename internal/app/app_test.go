package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventdeck/eventdeck/internal/config"
	"github.com/eventdeck/eventdeck/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.APIKeys = []string{"k"}
	cfg.Analytics.Geo.Enabled = false
	cfg.Maintenance.Enabled = false
	return cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analytics.Backend = "mysql"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestWiring_WriteInvalidatesAndDisplays(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	h := a.Handler()
	do := func(method, target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("X-API-Key", "k")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	// Prime the cache with an empty listing.
	rec := do(http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Harbour Concert")

	future := time.Now().AddDate(0, 1, 0).Format("2006-01-02")
	rec = do(http.MethodPut, "/admin/events",
		`{"post_type":"event","post_status":"publish","title":"Harbour Concert","start_date":"`+future+`","status":"upcoming"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The write cleared the namespace, so the listing is fresh.
	rec = do(http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Harbour Concert")

	rec = do(http.MethodGet, "/admin/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"memory"`)

	assert.Eventually(t, func() bool {
		return a.changes.Snapshot().Counts["event_created"] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWiring_TrackAndDashboard(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	id, err := a.Events().Upsert(context.Background(), &types.Event{
		PostType: "event", PostStatus: "publish", Title: "Open Studio",
		StartDate: time.Now().AddDate(0, 0, 3).Format("2006-01-02"),
	})
	require.NoError(t, err)

	h := a.Handler()
	for _, action := range []string{"view", "view", "register"} {
		req := httptest.NewRequest(http.MethodPost, "/analytics/track",
			strings.NewReader(`{"action":"`+action+`","event_id":`+strconv.FormatInt(id, 10)+`}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	d, err := a.Engine().Dashboard(context.Background(), types.Period7Days)
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Overview.TotalViews)
	assert.Equal(t, int64(1), d.Overview.TotalRegistrations)
	assert.Equal(t, 50.0, d.Overview.ConversionRate)
	require.NotEmpty(t, d.TopEvents)
	assert.Equal(t, "Open Studio", d.TopEvents[0].Title)
}

func TestStartStop(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()), "second start should fail")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, a.Stop(ctx))
	assert.NoError(t, a.Stop(ctx), "stop is idempotent")
}
