package broadcast

import (
	"fmt"
	"sync"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
	"github.com/bzinkan/ClassPilot-sub005/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// WebRTCConfig is the peer-connection configuration shared by every
// session under a broadcast.
type WebRTCConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Orchestrator owns one captured stream and fans it out across a
// dynamic set of independent peer sessions, one per admitted viewer.
// Every map mutation funnels through the orchestrator's mutex; callback
// closures never touch the map directly.
type Orchestrator struct {
	identity domain.Identity
	sender   ports.EnvelopeSender
	api      *webrtc.API
	rtcCfg   webrtc.Configuration

	mu          sync.Mutex
	active      bool
	tracks      []*webrtc.TrackLocalStaticRTP
	sessions    map[string]*peerSession
	viewerCount int

	onViewerCount     func(count int)
	onKeyframeRequest func(viewer domain.Identity)
	onStopCapture     func()

	logger *zap.SugaredLogger
}

type Option func(*Orchestrator)

// WithViewerCountHandler registers a callback for viewer count changes.
func WithViewerCountHandler(fn func(count int)) Option {
	return func(o *Orchestrator) { o.onViewerCount = fn }
}

// WithKeyframeRequestHandler registers a callback fired when a viewer's
// transport asks for a keyframe (PLI).
func WithKeyframeRequestHandler(fn func(viewer domain.Identity)) Option {
	return func(o *Orchestrator) { o.onKeyframeRequest = fn }
}

// WithStopCaptureHandler registers the hook that stops local capture
// when the broadcast ends.
func WithStopCaptureHandler(fn func()) Option {
	return func(o *Orchestrator) { o.onStopCapture = fn }
}

func NewOrchestrator(identity domain.Identity, sender ports.EnvelopeSender, cfg WebRTCConfig, logger *zap.SugaredLogger, opts ...Option) *Orchestrator {
	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max)
	}

	o := &Orchestrator{
		identity: identity,
		sender:   sender,
		api:      webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		rtcCfg:   webrtc.Configuration{ICEServers: cfg.ICEServers},
		sessions: make(map[string]*peerSession),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins a broadcast of the given captured tracks and announces
// it to the relay.
func (o *Orchestrator) Start(tracks ...*webrtc.TrackLocalStaticRTP) error {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return fmt.Errorf("broadcast already active")
	}
	o.active = true
	o.tracks = tracks
	o.mu.Unlock()

	env, err := domain.NewEnvelope(domain.TypeBroadcastStart, nil, nil)
	if err != nil {
		return err
	}
	if err := o.sender.Send(env); err != nil {
		return err
	}

	o.logger.Infow("broadcast started", "endpoint", o.identity.Key(), "tracks", len(tracks))
	return nil
}

// Stop ends the broadcast: capture stops, every peer session closes
// regardless of state, the viewer map is cleared and the relay is told
// so pending join requests are rejected. Stop is idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	wasActive := o.active
	o.active = false
	sessions := o.sessions
	o.sessions = make(map[string]*peerSession)
	o.tracks = nil
	countChanged := o.viewerCount != 0
	o.viewerCount = 0
	o.mu.Unlock()

	for _, s := range sessions {
		if s.pc != nil {
			s.pc.Close()
		}
	}

	if !wasActive {
		return
	}

	if o.onStopCapture != nil {
		o.onStopCapture()
	}
	if countChanged && o.onViewerCount != nil {
		o.onViewerCount(0)
	}

	if env, err := domain.NewEnvelope(domain.TypeBroadcastStop, nil, nil); err == nil {
		o.sender.Send(env)
	}
	o.logger.Infow("broadcast stopped", "endpoint", o.identity.Key(), "sessions_closed", len(sessions))
}

// ViewerCount reports the number of sessions currently connected.
func (o *Orchestrator) ViewerCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewerCount
}

// SessionState reports the state of the session for a viewer, if any.
func (o *Orchestrator) SessionState(viewer domain.Identity) (SessionState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[viewer.Key()]
	if !ok {
		return "", false
	}
	return s.state, true
}

// HandleEnvelope dispatches a relay envelope addressed to this
// broadcaster. Wire it to the channel's OnEnvelope.
func (o *Orchestrator) HandleEnvelope(env domain.Envelope) {
	if env.From == nil {
		return
	}
	viewer := *env.From

	switch env.Type {
	case domain.TypeViewerJoin:
		o.handleViewerJoin(viewer)
	case domain.TypeAnswer:
		o.handleAnswer(viewer, env)
	case domain.TypeICE:
		o.handleRemoteCandidate(viewer, env)
	case domain.TypeViewerLeave:
		o.removeSession(viewer.Key(), StateClosed)
	}
}

// handleViewerJoin creates a new peer session seeded with the current
// captured tracks and starts negotiation. Errors leave the session
// absent from the map, equivalent to the viewer never having joined.
func (o *Orchestrator) handleViewerJoin(viewer domain.Identity) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		o.logger.Warnw("viewer join while no broadcast active", "viewer", viewer.Key())
		return
	}
	if existing, ok := o.sessions[viewer.Key()]; ok {
		// Rejoin: tear the stale session down first.
		delete(o.sessions, viewer.Key())
		if existing.state == StateConnected {
			o.decrementViewerCountLocked()
		}
		if existing.pc != nil {
			defer existing.pc.Close()
		}
	}
	tracks := o.tracks
	o.mu.Unlock()

	session := &peerSession{
		viewer:    viewer,
		state:     StateIdle,
		createdAt: time.Now(),
	}

	pc, err := o.api.NewPeerConnection(o.rtcCfg)
	if err != nil {
		o.logger.Errorw("failed to create peer connection", "viewer", viewer.Key(), "error", err)
		return
	}
	session.pc = pc

	for _, track := range tracks {
		rtpSender, err := pc.AddTrack(track)
		if err != nil {
			o.logger.Errorw("failed to add track", "viewer", viewer.Key(), "track_id", track.ID(), "error", err)
			pc.Close()
			return
		}
		go o.readRTCP(rtpSender, viewer)
	}

	viewerKey := viewer.Key()
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		// Trickle: each candidate ships individually as it is found.
		o.sendCandidate(viewer, cand.ToJSON())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		o.logger.Infow("peer connection state changed", "viewer", viewerKey, "state", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			o.markConnected(viewerKey)
		case webrtc.PeerConnectionStateFailed:
			o.removeSession(viewerKey, StateFailed)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			o.removeSession(viewerKey, StateClosed)
		}
	})

	session.state = StateOffering
	o.mu.Lock()
	if !o.active {
		// Stopped while the session was being built.
		o.mu.Unlock()
		pc.Close()
		return
	}
	o.sessions[viewerKey] = session
	o.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		o.logger.Errorw("failed to create offer", "viewer", viewerKey, "error", err)
		o.removeSession(viewerKey, StateFailed)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		o.logger.Errorw("failed to set local description", "viewer", viewerKey, "error", err)
		o.removeSession(viewerKey, StateFailed)
		return
	}

	env, err := domain.NewEnvelope(domain.TypeOffer, &viewer, domain.SDPPayload{
		Type: offer.Type.String(),
		SDP:  offer.SDP,
	})
	if err != nil {
		o.removeSession(viewerKey, StateFailed)
		return
	}
	if err := o.sender.Send(env); err != nil {
		o.logger.Errorw("failed to send offer", "viewer", viewerKey, "error", err)
		o.removeSession(viewerKey, StateFailed)
		return
	}

	o.mu.Lock()
	if s, ok := o.sessions[viewerKey]; ok {
		s.state = StateAwaitingAnswer
	}
	o.mu.Unlock()

	o.logger.Infow("offer sent", "viewer", viewerKey)
}

func (o *Orchestrator) handleAnswer(viewer domain.Identity, env domain.Envelope) {
	payload, err := domain.DecodeSDP(env)
	if err != nil {
		o.logger.Warnw("dropping invalid answer", "viewer", viewer.Key(), "error", err)
		return
	}

	o.mu.Lock()
	session, ok := o.sessions[viewer.Key()]
	if !ok {
		o.mu.Unlock()
		o.logger.Warnw("answer for unknown viewer", "viewer", viewer.Key())
		return
	}
	pc := session.pc
	o.mu.Unlock()

	answer := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(payload.Type),
		SDP:  payload.SDP,
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		o.logger.Errorw("failed to apply answer", "viewer", viewer.Key(), "error", err)
		o.removeSession(viewer.Key(), StateFailed)
		return
	}

	// Drain candidates that trickled in ahead of the answer, in order.
	o.mu.Lock()
	session.remoteSet = true
	pending := session.pendingCandidates
	session.pendingCandidates = nil
	o.mu.Unlock()

	for _, cand := range pending {
		if err := pc.AddICECandidate(cand); err != nil {
			o.logger.Warnw("failed to add queued candidate", "viewer", viewer.Key(), "error", err)
		}
	}
}

// handleRemoteCandidate applies a trickled candidate from a viewer.
// Candidates for viewers with no session are discarded, not queued.
func (o *Orchestrator) handleRemoteCandidate(viewer domain.Identity, env domain.Envelope) {
	payload, err := domain.DecodeICE(env)
	if err != nil {
		o.logger.Warnw("dropping invalid candidate", "viewer", viewer.Key(), "error", err)
		return
	}

	cand := webrtc.ICECandidateInit{
		Candidate:     payload.Candidate,
		SDPMid:        payload.SDPMid,
		SDPMLineIndex: payload.SDPMLineIndex,
	}

	o.mu.Lock()
	session, ok := o.sessions[viewer.Key()]
	if !ok {
		o.mu.Unlock()
		o.logger.Infow("discarding candidate for unknown viewer", "viewer", viewer.Key())
		return
	}
	if !session.remoteSet {
		session.pendingCandidates = append(session.pendingCandidates, cand)
		o.mu.Unlock()
		return
	}
	pc := session.pc
	o.mu.Unlock()

	if err := pc.AddICECandidate(cand); err != nil {
		o.logger.Warnw("failed to add candidate", "viewer", viewer.Key(), "error", err)
	}
}

func (o *Orchestrator) markConnected(viewerKey string) {
	o.mu.Lock()
	session, ok := o.sessions[viewerKey]
	if !ok || session.state == StateConnected {
		o.mu.Unlock()
		return
	}
	session.state = StateConnected
	o.viewerCount++
	count := o.viewerCount
	o.mu.Unlock()

	o.logger.Infow("viewer connected", "viewer", viewerKey, "viewer_count", count)
	if o.onViewerCount != nil {
		o.onViewerCount(count)
	}
}

// removeSession closes and forgets a session. It is idempotent: a
// second terminal callback for an already-removed viewer is a no-op.
func (o *Orchestrator) removeSession(viewerKey string, terminal SessionState) {
	o.mu.Lock()
	session, ok := o.sessions[viewerKey]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.sessions, viewerKey)

	countChanged := false
	if session.state == StateConnected {
		o.decrementViewerCountLocked()
		countChanged = true
	}
	session.state = terminal
	count := o.viewerCount
	o.mu.Unlock()

	if session.pc != nil {
		session.pc.Close()
	}

	o.logger.Infow("viewer session removed",
		"viewer", viewerKey,
		"terminal_state", terminal,
		"viewer_count", count,
	)
	if countChanged && o.onViewerCount != nil {
		o.onViewerCount(count)
	}
}

func (o *Orchestrator) decrementViewerCountLocked() {
	o.viewerCount--
	if o.viewerCount < 0 {
		o.viewerCount = 0
	}
}

func (o *Orchestrator) sendCandidate(viewer domain.Identity, cand webrtc.ICECandidateInit) {
	env, err := domain.NewEnvelope(domain.TypeICE, &viewer, domain.ICEPayload{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
	if err != nil {
		return
	}
	if err := o.sender.Send(env); err != nil {
		o.logger.Warnw("failed to send candidate", "viewer", viewer.Key(), "error", err)
	}
}

// readRTCP watches a viewer's sender transport for feedback. PLI and
// NACK indicate the viewer needs help; everything else is drained so
// interceptors keep running.
func (o *Orchestrator) readRTCP(rtpSender *webrtc.RTPSender, viewer domain.Identity) {
	for {
		packets, _, err := rtpSender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			switch packet.(type) {
			case *rtcp.PictureLossIndication:
				o.logger.Debugw("received PLI", "viewer", viewer.Key())
				if o.onKeyframeRequest != nil {
					o.onKeyframeRequest(viewer)
				}
			case *rtcp.TransportLayerNack:
				o.logger.Debugw("received NACK", "viewer", viewer.Key())
			}
		}
	}
}
