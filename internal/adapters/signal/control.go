package signal

func (ctl *SignalWSController) handlePing(s *socket) {
	ctl.Orch.Pong(s.id)
}
