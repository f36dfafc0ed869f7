package signal

import (
	"context"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/domain"
)

func (ctl *SignalWSController) handleJoinChannel(ctx context.Context, s *socket, payload []byte) {
	var p roomRef
	if !ctl.decode(s, app.EventJoinChannel, payload, &p) {
		return
	}
	if err := ctl.Orch.JoinChannel(ctx, s.id, p.RoomID); err != nil {
		ctl.fail(s, app.EventJoinChannel, err)
	}
}

// handleLeaveChannel only drops the relay subscription; room membership is
// left to the management API.
func (ctl *SignalWSController) handleLeaveChannel(s *socket, payload []byte) {
	var p roomRef
	if !ctl.decode(s, app.EventLeaveChannel, payload, &p) {
		return
	}
	if err := ctl.Orch.LeaveChannel(s.id, p.RoomID); err != nil {
		ctl.fail(s, app.EventLeaveChannel, err)
	}
}

func (ctl *SignalWSController) handleRoomMessage(s *socket, payload []byte) {
	var p struct {
		RoomID domain.RoomID `json:"roomId"`
		Text   string        `json:"text"`
		Ref    string        `json:"ref"`
	}
	if !ctl.decode(s, app.EventRoomMessage, payload, &p) {
		return
	}
	if _, err := ctl.Orch.RoomMessage(s.id, p.RoomID, p.Text, p.Ref); err != nil {
		ctl.fail(s, app.EventRoomMessage, err)
	}
}
