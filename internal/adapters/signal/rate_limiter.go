package signal

import (
	"github.com/dkeye/Huddle/internal/config"
	"golang.org/x/time/rate"
)

// newEventLimiter bounds inbound events for one connection.
func newEventLimiter(cfg config.RateConfig) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.Burst)
}
