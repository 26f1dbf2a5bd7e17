package domain

import (
	"encoding/json"
	"fmt"
)

// Envelope is the typed message unit exchanged over a signaling channel.
// Payload stays raw until the type-specific decoder runs, so a malformed
// payload affects only that one envelope.
type Envelope struct {
	Type    string          `json:"type"`
	To      *Identity       `json:"to,omitempty"`
	From    *Identity       `json:"from,omitempty"` // stamped by the relay
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	TypeAuth           = "auth"
	TypeError          = "error"
	TypeBroadcastStart = "broadcast-start"
	TypeBroadcastStop  = "broadcast-stop"
	TypeViewerJoin     = "viewer-join"
	TypeViewerLeave    = "viewer-leave"
	TypeOffer          = "offer"
	TypeAnswer         = "answer"
	TypeICE            = "ice"
)

type AuthPayload struct {
	Token string `json:"token"`
}

type ViewerJoinPayload struct {
	DeviceID DeviceID `json:"device_id"`
}

// SDPPayload carries a session description for offer and answer
// envelopes. Mirrors webrtc.SessionDescription without pulling the
// webrtc dependency into the domain layer.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICEPayload carries a single trickled ICE candidate.
type ICEPayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeJoinDenied  = "join-denied"
	ErrCodePeerOffline = "peer-offline"
)

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(msgType string, to *Identity, payload interface{}) (Envelope, error) {
	env := Envelope{Type: msgType, To: to}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Payload = data
	}
	return env, nil
}

func DecodeAuth(env Envelope) (AuthPayload, error) {
	var p AuthPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, fmt.Errorf("invalid auth payload: %w", err)
	}
	if p.Token == "" {
		return p, fmt.Errorf("auth token is required")
	}
	return p, nil
}

func DecodeViewerJoin(env Envelope) (ViewerJoinPayload, error) {
	var p ViewerJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, fmt.Errorf("invalid viewer-join payload: %w", err)
	}
	if p.DeviceID == "" {
		return p, fmt.Errorf("device_id is required")
	}
	return p, nil
}

func DecodeSDP(env Envelope) (SDPPayload, error) {
	var p SDPPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	if p.SDP == "" {
		return p, fmt.Errorf("%s payload is missing sdp", env.Type)
	}
	return p, nil
}

func DecodeError(env Envelope) (ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, fmt.Errorf("invalid error payload: %w", err)
	}
	if p.Code == "" {
		return p, fmt.Errorf("error payload is missing code")
	}
	return p, nil
}

func DecodeICE(env Envelope) (ICEPayload, error) {
	var p ICEPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, fmt.Errorf("invalid ice payload: %w", err)
	}
	if p.Candidate == "" {
		return p, fmt.Errorf("ice payload is missing candidate")
	}
	return p, nil
}
