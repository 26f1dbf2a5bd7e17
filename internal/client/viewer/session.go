package viewer

import (
	"sync"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
	"github.com/bzinkan/ClassPilot-sub005/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// TrackHandler receives each remote track as negotiation completes.
type TrackHandler func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

// Session is the viewer side of one broadcast: it requests admission,
// answers the broadcaster's offer and surfaces incoming tracks. The
// session never initiates negotiation; the broadcaster always offers.
type Session struct {
	identity    domain.Identity
	broadcaster domain.Identity
	sender      ports.EnvelopeSender
	api         *webrtc.API
	rtcCfg      webrtc.Configuration

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	remoteSet bool
	// Candidates that arrive ahead of the offer are buffered and
	// applied in arrival order once the remote description is set.
	pendingCandidates []webrtc.ICECandidateInit
	closed            bool

	onTrack TrackHandler
	onStop  func()

	logger *zap.SugaredLogger
}

type Option func(*Session)

// WithTrackHandler registers the callback for incoming media tracks.
func WithTrackHandler(fn TrackHandler) Option {
	return func(s *Session) { s.onTrack = fn }
}

// WithStopHandler registers a callback fired when the broadcaster ends
// the broadcast.
func WithStopHandler(fn func()) Option {
	return func(s *Session) { s.onStop = fn }
}

func NewSession(identity, broadcaster domain.Identity, sender ports.EnvelopeSender, iceServers []webrtc.ICEServer, logger *zap.SugaredLogger, opts ...Option) *Session {
	s := &Session{
		identity:    identity,
		broadcaster: broadcaster,
		sender:      sender,
		api:         webrtc.NewAPI(),
		rtcCfg:      webrtc.Configuration{ICEServers: iceServers},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join asks the relay for admission to the broadcast. Whether the join
// is granted shows up later as an offer; a denial arrives as an error
// envelope.
func (s *Session) Join() error {
	env, err := domain.NewEnvelope(domain.TypeViewerJoin, &s.broadcaster, domain.ViewerJoinPayload{
		DeviceID: s.identity.DeviceID,
	})
	if err != nil {
		return err
	}
	return s.sender.Send(env)
}

// Leave announces departure and tears the peer connection down.
func (s *Session) Leave() error {
	env, err := domain.NewEnvelope(domain.TypeViewerLeave, &s.broadcaster, nil)
	if err != nil {
		return err
	}
	sendErr := s.sender.Send(env)
	s.teardown()
	return sendErr
}

// HandleEnvelope dispatches a relay envelope addressed to this viewer.
// Wire it to the channel's OnEnvelope.
func (s *Session) HandleEnvelope(env domain.Envelope) {
	switch env.Type {
	case domain.TypeOffer:
		s.handleOffer(env)
	case domain.TypeICE:
		s.handleRemoteCandidate(env)
	case domain.TypeBroadcastStop:
		s.logger.Infow("broadcast ended by broadcaster", "broadcaster", s.broadcaster.UserID)
		s.teardown()
		if s.onStop != nil {
			s.onStop()
		}
	case domain.TypeError:
		if payload, err := domain.DecodeError(env); err == nil {
			s.logger.Warnw("relay error", "code", payload.Code, "message", payload.Message)
		}
	}
}

func (s *Session) handleOffer(env domain.Envelope) {
	payload, err := domain.DecodeSDP(env)
	if err != nil {
		s.logger.Warnw("dropping invalid offer", "error", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.pc != nil {
		// Renegotiation from the broadcaster replaces the old session.
		s.pc.Close()
		s.pc = nil
		s.remoteSet = false
		s.pendingCandidates = nil
	}
	s.mu.Unlock()

	pc, err := s.api.NewPeerConnection(s.rtcCfg)
	if err != nil {
		s.logger.Errorw("failed to create peer connection", "error", err)
		return
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.logger.Infow("remote track received", "track_id", track.ID(), "kind", track.Kind())
		if s.onTrack != nil {
			s.onTrack(track, receiver)
		}
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		s.sendCandidate(cand.ToJSON())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state changed", "state", state)
	})

	offer := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(payload.Type),
		SDP:  payload.SDP,
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		s.logger.Errorw("failed to apply offer", "error", err)
		pc.Close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		pc.Close()
		return
	}
	s.pc = pc
	s.remoteSet = true
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	s.mu.Unlock()

	for _, cand := range pending {
		if err := pc.AddICECandidate(cand); err != nil {
			s.logger.Warnw("failed to add buffered candidate", "error", err)
		}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		s.logger.Errorw("failed to create answer", "error", err)
		s.teardown()
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		s.logger.Errorw("failed to set local description", "error", err)
		s.teardown()
		return
	}

	answerEnv, err := domain.NewEnvelope(domain.TypeAnswer, &s.broadcaster, domain.SDPPayload{
		Type: answer.Type.String(),
		SDP:  answer.SDP,
	})
	if err != nil {
		s.teardown()
		return
	}
	if err := s.sender.Send(answerEnv); err != nil {
		s.logger.Errorw("failed to send answer", "error", err)
		s.teardown()
		return
	}

	s.logger.Infow("answer sent", "broadcaster", s.broadcaster.UserID)
}

func (s *Session) handleRemoteCandidate(env domain.Envelope) {
	payload, err := domain.DecodeICE(env)
	if err != nil {
		s.logger.Warnw("dropping invalid candidate", "error", err)
		return
	}

	cand := webrtc.ICECandidateInit{
		Candidate:     payload.Candidate,
		SDPMid:        payload.SDPMid,
		SDPMLineIndex: payload.SDPMLineIndex,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.remoteSet {
		s.pendingCandidates = append(s.pendingCandidates, cand)
		s.mu.Unlock()
		return
	}
	pc := s.pc
	s.mu.Unlock()

	if err := pc.AddICECandidate(cand); err != nil {
		s.logger.Warnw("failed to add candidate", "error", err)
	}
}

func (s *Session) sendCandidate(cand webrtc.ICECandidateInit) {
	env, err := domain.NewEnvelope(domain.TypeICE, &s.broadcaster, domain.ICEPayload{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
	if err != nil {
		return
	}
	if err := s.sender.Send(env); err != nil {
		s.logger.Warnw("failed to send candidate", "error", err)
	}
}

func (s *Session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.pc != nil {
		s.pc.Close()
		s.pc = nil
	}
	s.pendingCandidates = nil
}
