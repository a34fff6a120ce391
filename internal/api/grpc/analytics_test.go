package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/eventdeck/eventdeck/internal/analytics"
	apperrors "github.com/eventdeck/eventdeck/internal/errors"
	"github.com/eventdeck/eventdeck/pkg/types"
)

type recorded struct {
	action   types.Action
	eventID  int64
	payload  string
	identity analytics.Identity
}

type fakeEngine struct {
	rows []recorded
}

func (f *fakeEngine) Record(ctx context.Context, action types.Action, eventID int64, payload []byte) (int64, error) {
	if !action.Valid() {
		return 0, apperrors.NewValidationError(apperrors.CodeInvalidAction, "invalid action")
	}
	id, _ := analytics.IdentityFromContext(ctx)
	f.rows = append(f.rows, recorded{action, eventID, string(payload), id})
	return int64(len(f.rows)), nil
}

func (f *fakeEngine) Dashboard(_ context.Context, period types.Period) (*analytics.Dashboard, error) {
	return &analytics.Dashboard{
		Period:    period,
		Overview:  analytics.Overview{TotalViews: 7, TotalRegistrations: 1, ConversionRate: 14.29},
		TopEvents: []analytics.EventCount{{EventID: 3, Title: "Jazz Night", Count: 7}},
	}, nil
}

func (f *fakeEngine) Funnel(_ context.Context, eventID int64, _ types.Period) (analytics.Funnel, error) {
	if eventID == 404 {
		return analytics.Funnel{}, apperrors.NewNotFoundError(apperrors.CodeEventNotFound, "missing")
	}
	return analytics.Funnel{Views: 9, Shares: 2, Registrations: 1}, nil
}

func dial(t *testing.T, engine Engine) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	NewAnalyticsServer(engine, nil).Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(t *testing.T, ctx context.Context, conn *grpc.ClientConn, method string, in map[string]interface{}) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(t, err)
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out)
	return out, err
}

func TestRecord(t *testing.T) {
	engine := &fakeEngine{}
	conn := dial(t, engine)

	ctx := metadata.AppendToOutgoingContext(context.Background(),
		"x-request-id", "req-1", "x-forwarded-for", "198.51.100.4", "x-session-id", "sess-9")
	out, err := invoke(t, ctx, conn, "Record", map[string]interface{}{
		"action":   "share",
		"event_id": 12,
		"payload":  map[string]interface{}{"network": "mastodon"},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1), out.Fields["id"].GetNumberValue())
	assert.Equal(t, "req-1", out.Fields["request_id"].GetStringValue())

	require.Len(t, engine.rows, 1)
	row := engine.rows[0]
	assert.Equal(t, types.ActionShare, row.action)
	assert.Equal(t, int64(12), row.eventID)
	assert.JSONEq(t, `{"network":"mastodon"}`, row.payload)
	assert.Equal(t, "198.51.100.4", row.identity.IP)
	assert.Equal(t, "sess-9", row.identity.SessionID)
}

func TestRecord_InvalidInput(t *testing.T) {
	conn := dial(t, &fakeEngine{})

	_, err := invoke(t, context.Background(), conn, "Record", map[string]interface{}{"action": "like", "event_id": 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(t, context.Background(), conn, "Record", map[string]interface{}{"action": "view", "event_id": 1.5})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDashboard(t *testing.T) {
	conn := dial(t, &fakeEngine{})

	out, err := invoke(t, context.Background(), conn, "Dashboard", map[string]interface{}{"period": "7_days"})
	require.NoError(t, err)
	assert.Equal(t, "7_days", out.Fields["period"].GetStringValue())
	overview := out.Fields["overview"].GetStructValue()
	require.NotNil(t, overview)
	assert.Equal(t, 14.29, overview.Fields["conversion_rate"].GetNumberValue())
	top := out.Fields["top_events"].GetListValue().GetValues()
	require.Len(t, top, 1)
	assert.Equal(t, "Jazz Night", top[0].GetStructValue().Fields["title"].GetStringValue())
}

func TestFunnel(t *testing.T) {
	conn := dial(t, &fakeEngine{})

	out, err := invoke(t, context.Background(), conn, "Funnel", map[string]interface{}{"event_id": 3})
	require.NoError(t, err)
	assert.Equal(t, float64(9), out.Fields["views"].GetNumberValue())
	assert.Equal(t, float64(0), out.Fields["calendarDownloads"].GetNumberValue())

	_, err = invoke(t, context.Background(), conn, "Funnel", map[string]interface{}{"event_id": 404})
	assert.Equal(t, codes.NotFound, status.Code(err))
}
