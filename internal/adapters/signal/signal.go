// Package signal is the websocket side of the connection multiplexer: one
// read pump and one write pump per socket, and a dispatcher that turns
// envelopes into orchestrator calls.
package signal

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

type SignalWSController struct {
	Orch *orch.Orchestrator

	cfg      *config.Config
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Orch: o,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// WsSignalConn is the outbound endpoint of one socket. Frames queue in send
// and are written by the write pump in order.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}
	mc := ctl.Orch.Connect(conn)
	log.Info().Str("module", "signal").Str("conn", string(mc.ID)).Str("remote", c.ClientIP()).Msg("new WS connection")

	s := &socket{
		id:      mc.ID,
		conn:    conn,
		limiter: newEventLimiter(ctl.cfg.Rate),
		token:   c.Query("token"),
	}
	ctx, cancel := context.WithCancel(ctx)
	// a blocked read only returns once the socket is closed
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go ctl.writePump(ctx, s)
	go ctl.readPump(ctx, cancel, s)
}
