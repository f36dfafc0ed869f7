package signal

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/domain"
)

// handleRelaySignal forwards offers, answers and ICE candidates. The body is
// passed through untouched.
func (ctl *SignalWSController) handleRelaySignal(s *socket, payload []byte) {
	var p struct {
		RoomID       domain.RoomID   `json:"roomId"`
		TargetUserID domain.UserID   `json:"targetUserId"`
		Kind         string          `json:"kind"`
		Body         json.RawMessage `json:"body"`
		Ack          bool            `json:"ack"`
	}
	if !ctl.decode(s, app.EventSignal, payload, &p) {
		return
	}
	_, err := ctl.Orch.Signal(s.id, orch.SignalRequest{
		RoomID:       p.RoomID,
		TargetUserID: p.TargetUserID,
		Kind:         p.Kind,
		Body:         p.Body,
		Ack:          p.Ack,
	})
	if err != nil {
		ctl.fail(s, app.EventSignal, err)
	}
}
