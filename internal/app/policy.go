package app

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a connection whose outbound queue is full.
// The frame itself is always dropped; delivery is at-most-once.
type Policy interface {
	OnBackPressure(c *Conn) BackpressureAction
}

type DropPolicy struct{}

func (DropPolicy) OnBackPressure(*Conn) BackpressureAction { return DropFrame }

type KickPolicy struct{}

func (KickPolicy) OnBackPressure(*Conn) BackpressureAction { return KickMember }

// PolicyByName maps a config value to a Policy; unknown names fall back to dropping.
func PolicyByName(name string) Policy {
	if name == "kick" {
		return KickPolicy{}
	}
	return DropPolicy{}
}
