package signal

import (
	"context"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleIdentify(ctx context.Context, s *socket, payload []byte) {
	var p struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}
	if !ctl.decode(s, app.EventIdentify, payload, &p) {
		return
	}
	token := p.Token
	if token == "" {
		token = s.token
	}
	uid, err := ctl.Orch.Identify(ctx, s.id, domain.UserID(p.UserID), token)
	if err != nil {
		ctl.fail(s, app.EventIdentify, err)
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(s.id)).Str("user", string(uid)).Msg("identified")
}

func (ctl *SignalWSController) handleWhoAmI(s *socket) {
	if err := ctl.Orch.WhoAmI(s.id); err != nil {
		ctl.fail(s, app.EventWhoAmI, err)
	}
}
