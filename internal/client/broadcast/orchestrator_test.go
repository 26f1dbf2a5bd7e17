package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type captureSender struct {
	mu        sync.Mutex
	envelopes []domain.Envelope
}

func (s *captureSender) Send(env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
	return nil
}

func (s *captureSender) byType(msgType string) []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Envelope
	for _, env := range s.envelopes {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func broadcasterIdentity() domain.Identity {
	return domain.Identity{
		Role:     domain.RoleBroadcaster,
		UserID:   "student-device-1",
		DeviceID: "device-1",
		SchoolID: "school-1",
	}
}

func viewerIdentity(user, device string) domain.Identity {
	return domain.Identity{
		Role:     domain.RoleViewer,
		UserID:   domain.UserID(user),
		DeviceID: domain.DeviceID(device),
		SchoolID: "school-1",
	}
}

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	o := NewOrchestrator(broadcasterIdentity(), sender, WebRTCConfig{}, zaptest.NewLogger(t).Sugar(), opts...)
	return o, sender
}

// seedSession installs a session directly, bypassing negotiation.
func seedSession(o *Orchestrator, viewer domain.Identity, state SessionState) *peerSession {
	s := &peerSession{
		viewer:    viewer,
		state:     state,
		remoteSet: state == StateConnected,
		createdAt: time.Now(),
	}
	o.mu.Lock()
	o.active = true
	o.sessions[viewer.Key()] = s
	if state == StateConnected {
		o.viewerCount++
	}
	o.mu.Unlock()
	return s
}

func TestStart_AnnouncesBroadcast(t *testing.T) {
	o, sender := newTestOrchestrator(t)

	require.NoError(t, o.Start())
	assert.Len(t, sender.byType(domain.TypeBroadcastStart), 1)

	// A second Start while active is refused.
	assert.Error(t, o.Start())
}

func TestStop_IsIdempotent(t *testing.T) {
	stops := 0
	o, sender := newTestOrchestrator(t, WithStopCaptureHandler(func() { stops++ }))

	require.NoError(t, o.Start())
	seedSession(o, viewerIdentity("teacher-1", "device-a"), StateConnected)

	o.Stop()
	o.Stop()
	o.Stop()

	assert.Len(t, sender.byType(domain.TypeBroadcastStop), 1)
	assert.Equal(t, 1, stops)
	assert.Equal(t, 0, o.ViewerCount())

	_, ok := o.SessionState(viewerIdentity("teacher-1", "device-a"))
	assert.False(t, ok)
}

func TestMarkConnected_IncrementsOnce(t *testing.T) {
	var counts []int
	o, _ := newTestOrchestrator(t, WithViewerCountHandler(func(count int) {
		counts = append(counts, count)
	}))

	viewer := viewerIdentity("teacher-1", "device-a")
	seedSession(o, viewer, StateAwaitingAnswer)

	o.markConnected(viewer.Key())
	o.markConnected(viewer.Key())

	assert.Equal(t, 1, o.ViewerCount())
	assert.Equal(t, []int{1}, counts)

	state, ok := o.SessionState(viewer)
	require.True(t, ok)
	assert.Equal(t, StateConnected, state)
}

func TestRemoveSession_IsIdempotent(t *testing.T) {
	var counts []int
	o, _ := newTestOrchestrator(t, WithViewerCountHandler(func(count int) {
		counts = append(counts, count)
	}))

	viewer := viewerIdentity("teacher-1", "device-a")
	seedSession(o, viewer, StateConnected)

	o.removeSession(viewer.Key(), StateClosed)
	o.removeSession(viewer.Key(), StateClosed)

	assert.Equal(t, 0, o.ViewerCount())
	assert.Equal(t, []int{0}, counts)
}

// Removing a session that never reached connected must not push the
// count negative.
func TestRemoveSession_NeverConnectedKeepsCountAtZero(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	viewer := viewerIdentity("teacher-1", "device-a")
	seedSession(o, viewer, StateAwaitingAnswer)

	o.removeSession(viewer.Key(), StateFailed)
	assert.Equal(t, 0, o.ViewerCount())
}

func TestViewerCount_TracksMultipleViewers(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	a := viewerIdentity("teacher-1", "device-a")
	b := viewerIdentity("teacher-2", "device-b")
	seedSession(o, a, StateAwaitingAnswer)
	seedSession(o, b, StateAwaitingAnswer)

	o.markConnected(a.Key())
	o.markConnected(b.Key())
	assert.Equal(t, 2, o.ViewerCount())

	o.removeSession(a.Key(), StateClosed)
	assert.Equal(t, 1, o.ViewerCount())
}

// Candidates for viewers without a session are discarded, never queued.
func TestHandleRemoteCandidate_UnknownViewerDiscarded(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.mu.Lock()
	o.active = true
	o.mu.Unlock()

	unknown := viewerIdentity("teacher-1", "device-ghost")
	env, err := domain.NewEnvelope(domain.TypeICE, nil, domain.ICEPayload{Candidate: "candidate:1"})
	require.NoError(t, err)
	env.From = &unknown

	o.HandleEnvelope(env)

	o.mu.Lock()
	assert.Empty(t, o.sessions)
	o.mu.Unlock()
}

// Candidates arriving before the answer queue in arrival order.
func TestHandleRemoteCandidate_QueuedBeforeRemoteDescription(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	viewer := viewerIdentity("teacher-1", "device-a")
	session := seedSession(o, viewer, StateAwaitingAnswer)

	for _, cand := range []string{"candidate:1", "candidate:2", "candidate:3"} {
		env, err := domain.NewEnvelope(domain.TypeICE, nil, domain.ICEPayload{Candidate: cand})
		require.NoError(t, err)
		env.From = &viewer
		o.HandleEnvelope(env)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	require.Len(t, session.pendingCandidates, 3)
	assert.Equal(t, "candidate:1", session.pendingCandidates[0].Candidate)
	assert.Equal(t, "candidate:2", session.pendingCandidates[1].Candidate)
	assert.Equal(t, "candidate:3", session.pendingCandidates[2].Candidate)
}

func TestHandleEnvelope_ViewerLeaveForUnknownViewerIsNoop(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	unknown := viewerIdentity("teacher-1", "device-ghost")
	env := domain.Envelope{Type: domain.TypeViewerLeave, From: &unknown}

	o.HandleEnvelope(env)
	assert.Equal(t, 0, o.ViewerCount())
}

func TestHandleEnvelope_MissingFromIsDropped(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.HandleEnvelope(domain.Envelope{Type: domain.TypeViewerJoin})

	o.mu.Lock()
	assert.Empty(t, o.sessions)
	o.mu.Unlock()
}

func TestNewScreenTrack(t *testing.T) {
	track, err := NewScreenTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "capture")
	require.NoError(t, err)
	assert.Equal(t, "screen", track.ID())
}
