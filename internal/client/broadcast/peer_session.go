package broadcast

import (
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// SessionState is the lifecycle of one broadcaster↔viewer pairing.
type SessionState string

const (
	StateIdle           SessionState = "idle"
	StateOffering       SessionState = "offering"
	StateAwaitingAnswer SessionState = "awaiting-answer"
	StateConnected      SessionState = "connected"
	StateFailed         SessionState = "failed"
	StateClosed         SessionState = "closed"
)

// peerSession is one independent peer connection to a single admitted
// viewer. All sessions under a broadcast share the same source tracks.
// Remote ICE candidates arriving before the answer is applied are
// queued and drained in arrival order.
type peerSession struct {
	viewer            domain.Identity
	pc                *webrtc.PeerConnection
	state             SessionState
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit
	createdAt         time.Time
}
