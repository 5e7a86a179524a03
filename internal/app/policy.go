package app

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	KickSubscriber
)

// Policy decides what happens to a relay subscriber whose outbound buffer is full.
type Policy interface {
	OnBackPressure(key string, dropped int) BackpressureAction
}

// SimplePolicy kicks a subscriber after MaxDrops consecutive drops.
// Dropping relay records breaks ordering for the peer, so the default is 0.
type SimplePolicy struct {
	MaxDrops int
}

func (p SimplePolicy) OnBackPressure(key string, dropped int) BackpressureAction {
	if dropped > p.MaxDrops {
		return KickSubscriber
	}
	return DropEvent
}
