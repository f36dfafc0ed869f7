package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Wire event names.
const (
	EventIdentify     = "identify"
	EventJoinChannel  = "join-room-channel"
	EventLeaveChannel = "leave-room-channel"
	EventSignal       = "signal"
	EventRoomMessage  = "room-message"
	EventPing         = "ping"
	EventWhoAmI       = "whoami"

	EventIdentified    = "identified"
	EventPeerJoined    = "peer-joined"
	EventPeerLeft      = "peer-left"
	EventChannelState  = "room-channel-state"
	EventRoomApproved  = "room-approved"
	EventRoomRejected  = "room-rejected"
	EventJoinRequested = "join-requested"
	EventRoomRemoved   = "room-removed"
	EventRoomDeleted   = "room-deleted"
	EventSignalAck     = "signal-ack"
	EventPong          = "pong"
	EventError         = "error"
)

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Encode builds the {"type","payload"} frame every outbound event uses.
func Encode(event string, payload any) (core.Frame, error) {
	b, err := json.Marshal(envelope{Type: event, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return b, nil
}

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// ParseSignalKind accepts the SDP types offer/answer and ICE candidates.
func ParseSignalKind(raw string) (SignalKind, error) {
	if raw == string(SignalCandidate) {
		return SignalCandidate, nil
	}
	switch webrtc.NewSDPType(raw) {
	case webrtc.SDPTypeOffer:
		return SignalOffer, nil
	case webrtc.SDPTypeAnswer:
		return SignalAnswer, nil
	}
	return "", fmt.Errorf("signal kind %q: %w", raw, domain.ErrInvalidInput)
}

type PeerPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

type RoomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

type ChannelStatePayload struct {
	RoomID domain.RoomID   `json:"roomId"`
	Peers  []domain.UserID `json:"peers"`
}

type SignalPayload struct {
	RoomID     domain.RoomID   `json:"roomId,omitempty"`
	FromUserID domain.UserID   `json:"fromUserId"`
	Kind       SignalKind      `json:"kind"`
	Body       json.RawMessage `json:"body"`
}

type SignalAckPayload struct {
	TargetUserID domain.UserID `json:"targetUserId,omitempty"`
	RoomID       domain.RoomID `json:"roomId,omitempty"`
	Delivered    int           `json:"delivered"`
}

type MessagePayload struct {
	ID         string        `json:"id"`
	RoomID     domain.RoomID `json:"roomId"`
	FromUserID domain.UserID `json:"fromUserId"`
	Text       string        `json:"text"`
	Ref        string        `json:"ref,omitempty"`
	SentAt     time.Time     `json:"sentAt"`
}

type IdentifiedPayload struct {
	UserID       domain.UserID `json:"userId"`
	ConnectionID core.ConnID   `json:"connectionId"`
}

type WhoAmIPayload struct {
	UserID       domain.UserID   `json:"userId,omitempty"`
	ConnectionID core.ConnID     `json:"connectionId"`
	State        string          `json:"state"`
	Channels     []domain.RoomID `json:"channels"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
