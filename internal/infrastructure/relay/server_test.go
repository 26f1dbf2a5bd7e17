package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
	"github.com/bzinkan/ClassPilot-sub005/internal/infrastructure/monitoring"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockGuard struct {
	mock.Mock
}

func (m *mockGuard) AuthorizeViewer(ctx context.Context, requester domain.Identity, broadcasterID domain.UserID, deviceID domain.DeviceID) (domain.StudentID, error) {
	args := m.Called(ctx, requester, broadcasterID, deviceID)
	return args.Get(0).(domain.StudentID), args.Error(1)
}

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) GenerateToken(identity domain.Identity) (string, error) {
	args := m.Called(identity)
	return args.String(0), args.Error(1)
}

func (m *mockTokens) ValidateToken(token string) (domain.Identity, error) {
	args := m.Called(token)
	return args.Get(0).(domain.Identity), args.Error(1)
}

func newTestServer(t *testing.T, guard *mockGuard) *Server {
	t.Helper()
	metrics := monitoring.NewPrometheusCollectorWith(prometheus.NewRegistry())
	return NewServer(guard, new(mockTokens), metrics, DefaultConfig(), zaptest.NewLogger(t).Sugar())
}

// receiveEnvelope drains one queued envelope from a client's send queue.
func receiveEnvelope(t *testing.T, c *client) domain.Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("no envelope queued")
		return domain.Envelope{}
	}
}

func broadcasterID(user string) domain.Identity {
	return domain.Identity{
		Role:     domain.RoleBroadcaster,
		UserID:   domain.UserID(user),
		DeviceID: "device-b",
		SchoolID: "school-1",
	}
}

func TestForward_StampsSenderIdentity(t *testing.T) {
	s := newTestServer(t, new(mockGuard))

	sender := broadcasterID("teacher-1")
	senderClient := testClient(t, "conn-s", sender)

	targetIdentity := viewerID("teacher-1", "device-1")
	target := testClient(t, "conn-t", targetIdentity)
	s.registry.Bind(target)

	env, err := domain.NewEnvelope(domain.TypeOffer, &targetIdentity, domain.SDPPayload{Type: "offer", SDP: "v=0"})
	require.NoError(t, err)
	// A forged from field never survives the relay.
	env.From = &targetIdentity

	s.forward(senderClient, sender, env)

	got := receiveEnvelope(t, target)
	assert.Equal(t, domain.TypeOffer, got.Type)
	require.NotNil(t, got.From)
	assert.Equal(t, sender, *got.From)
}

func TestForward_OfflineTargetDroppedWithNotice(t *testing.T) {
	s := newTestServer(t, new(mockGuard))

	sender := broadcasterID("teacher-1")
	senderClient := testClient(t, "conn-s", sender)

	offline := viewerID("teacher-1", "device-gone")
	env, err := domain.NewEnvelope(domain.TypeICE, &offline, domain.ICEPayload{Candidate: "candidate:1"})
	require.NoError(t, err)

	s.forward(senderClient, sender, env)

	notice := receiveEnvelope(t, senderClient)
	assert.Equal(t, domain.TypeError, notice.Type)
	payload, err := domain.DecodeError(notice)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrCodePeerOffline, payload.Code)
}

func TestHandleViewerJoin_DenialIsGeneric(t *testing.T) {
	guard := new(mockGuard)
	guard.On("AuthorizeViewer", mock.Anything, mock.Anything, domain.UserID("teacher-1"), domain.DeviceID("device-1")).
		Return(domain.StudentID(""), errors.New("redis timeout while reading group"))

	s := newTestServer(t, guard)

	requester := viewerID("teacher-1", "device-1")
	requesterClient := testClient(t, "conn-r", requester)

	target := broadcasterID("teacher-1")
	env, err := domain.NewEnvelope(domain.TypeViewerJoin, &target, domain.ViewerJoinPayload{DeviceID: "device-1"})
	require.NoError(t, err)

	s.handleViewerJoin(context.Background(), requesterClient, requester, env)

	denial := receiveEnvelope(t, requesterClient)
	assert.Equal(t, domain.TypeError, denial.Type)
	payload, err := domain.DecodeError(denial)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrCodeJoinDenied, payload.Code)
	// The internal cause stays server-side.
	assert.NotContains(t, payload.Message, "redis")
}

func TestHandleViewerJoin_AdmittedForwardsToBroadcaster(t *testing.T) {
	guard := new(mockGuard)
	guard.On("AuthorizeViewer", mock.Anything, mock.Anything, domain.UserID("teacher-1"), domain.DeviceID("device-1")).
		Return(domain.StudentID("student-7"), nil)

	s := newTestServer(t, guard)

	requester := viewerID("teacher-1", "device-1")
	requesterClient := testClient(t, "conn-r", requester)

	target := broadcasterID("teacher-1")
	targetClient := testClient(t, "conn-b", target)
	s.registry.Bind(targetClient)

	env, err := domain.NewEnvelope(domain.TypeViewerJoin, &target, domain.ViewerJoinPayload{DeviceID: "device-1"})
	require.NoError(t, err)

	s.handleViewerJoin(context.Background(), requesterClient, requester, env)

	got := receiveEnvelope(t, targetClient)
	assert.Equal(t, domain.TypeViewerJoin, got.Type)
	require.NotNil(t, got.From)
	assert.Equal(t, requester, *got.From)
}

func TestFanOut_GatesViewersThroughGuard(t *testing.T) {
	guard := new(mockGuard)
	admitted := viewerID("teacher-1", "device-ok")
	denied := viewerID("teacher-1", "device-no")
	guard.On("AuthorizeViewer", mock.Anything, admitted, domain.UserID("teacher-1"), domain.DeviceID("device-ok")).
		Return(domain.StudentID("student-1"), nil)
	guard.On("AuthorizeViewer", mock.Anything, denied, domain.UserID("teacher-1"), domain.DeviceID("device-no")).
		Return(domain.StudentID(""), domain.ErrNotInSession)

	s := newTestServer(t, guard)

	sender := broadcasterID("teacher-1")
	senderClient := testClient(t, "conn-b", sender)
	s.registry.Bind(senderClient)

	admittedClient := testClient(t, "conn-1", admitted)
	deniedClient := testClient(t, "conn-2", denied)
	observerClient := testClient(t, "conn-3", domain.Identity{
		Role: domain.RoleObserver, UserID: "admin-1", SchoolID: "school-1",
	})
	s.registry.Bind(admittedClient)
	s.registry.Bind(deniedClient)
	s.registry.Bind(observerClient)

	env, err := domain.NewEnvelope(domain.TypeBroadcastStart, nil, nil)
	require.NoError(t, err)
	s.fanOut(context.Background(), senderClient, sender, env)

	got := receiveEnvelope(t, admittedClient)
	assert.Equal(t, domain.TypeBroadcastStart, got.Type)
	require.NotNil(t, got.From)
	assert.Equal(t, sender, *got.From)

	obs := receiveEnvelope(t, observerClient)
	assert.Equal(t, domain.TypeBroadcastStart, obs.Type)

	assert.Empty(t, deniedClient.send)
	assert.Empty(t, senderClient.send)
}

func TestFanOut_NonBroadcasterDropped(t *testing.T) {
	s := newTestServer(t, new(mockGuard))

	sender := viewerID("teacher-1", "device-1")
	senderClient := testClient(t, "conn-v", sender)

	other := testClient(t, "conn-o", domain.Identity{
		Role: domain.RoleObserver, UserID: "admin-1", SchoolID: "school-1",
	})
	s.registry.Bind(other)

	env, err := domain.NewEnvelope(domain.TypeBroadcastStart, nil, nil)
	require.NoError(t, err)
	s.fanOut(context.Background(), senderClient, sender, env)

	assert.Empty(t, other.send)
}

func TestDenialReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{domain.ErrNoActiveSession, "no-active-session"},
		{domain.ErrNotInSession, "not-in-session"},
		{domain.ErrDeviceNotBound, "device-not-bound"},
		{errors.New("dial tcp: connection refused"), "internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, denialReason(tc.err))
	}
}
