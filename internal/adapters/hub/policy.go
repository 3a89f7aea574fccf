package hub

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickConn
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case MarkSlow:
		return "mark_slow"
	case KickConn:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "none"
}

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(c *Conn) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*Conn) BackpressureAction {
	return KickConn
}

// TolerantPolicy marks a connection slow the first time and kicks it the second.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(c *Conn) BackpressureAction {
	if c.Slow() {
		return KickConn
	}
	return MarkSlow
}
