package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// socket is the reader side state of one connection.
type socket struct {
	id      core.ConnID
	conn    *WsSignalConn
	limiter *rate.Limiter
	token   string
}

func (ctl *SignalWSController) writePump(ctx context.Context, s *socket) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()

	ws := s.conn.conn
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(s.id)).Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("writePump ping")
				s.conn.Close()
				return
			}
		case data, ok := <-s.conn.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(s.id)).Msg("writePump channel closed")
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				s.conn.Close()
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("writePump write error")
				s.conn.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, s *socket) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(s.id)).Msg("readPump closing")
		cancel()
		ctl.Orch.Disconnect(s.id)
	}()

	ws := s.conn.conn
	ws.SetReadLimit(ctl.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(s.id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, s, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, s *socket, data []byte) {
	if !gjson.ValidBytes(data) {
		log.Warn().Str("module", "signal").Str("conn", string(s.id)).Int("size", len(data)).Msg("bad json")
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		ctl.reject(s.id, orch.CodeRateLimited, "too many events")
		return
	}
	typ := gjson.GetBytes(data, "type").String()
	payload := []byte(gjson.GetBytes(data, "payload").Raw)

	switch typ {
	case app.EventIdentify, app.EventPing, app.EventWhoAmI:
	case app.EventJoinChannel, app.EventLeaveChannel, app.EventSignal, app.EventRoomMessage:
		if !ctl.identified(s.id) {
			ctl.Orch.Fail(s.id, orch.ErrUnidentified)
			return
		}
	default:
		log.Warn().Str("module", "signal").Str("conn", string(s.id)).Str("type", typ).Msg("unknown signal")
		return
	}

	switch typ {
	case app.EventIdentify:
		ctl.handleIdentify(ctx, s, payload)
	case app.EventPing:
		ctl.handlePing(s)
	case app.EventWhoAmI:
		ctl.handleWhoAmI(s)
	case app.EventJoinChannel:
		ctl.handleJoinChannel(ctx, s, payload)
	case app.EventLeaveChannel:
		ctl.handleLeaveChannel(s, payload)
	case app.EventSignal:
		ctl.handleRelaySignal(s, payload)
	case app.EventRoomMessage:
		ctl.handleRoomMessage(s, payload)
	}
}

func (ctl *SignalWSController) identified(cid core.ConnID) bool {
	c, ok := ctl.Orch.Conns.Get(cid)
	if !ok {
		return false
	}
	_, ok = c.User()
	return ok
}

// decode fills v from the payload; on failure the client gets bad_payload.
func (ctl *SignalWSController) decode(s *socket, typ string, payload []byte, v any) bool {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Str("type", typ).Msg("bad payload")
		ctl.reject(s.id, orch.CodeBadPayload, fmt.Sprintf("bad %s payload", typ))
		return false
	}
	return true
}

func (ctl *SignalWSController) reject(cid core.ConnID, code, msg string) {
	ctl.Orch.Relay.SendTo(cid, app.EventError, app.ErrorPayload{Code: code, Message: msg})
}

// fail turns an orchestrator error into an error event; the socket stays open.
func (ctl *SignalWSController) fail(s *socket, typ string, err error) {
	log.Info().Err(err).Str("module", "signal").Str("conn", string(s.id)).Str("type", typ).Msg("event rejected")
	ctl.Orch.Fail(s.id, err)
}

type roomRef struct {
	RoomID domain.RoomID `json:"roomId"`
}
