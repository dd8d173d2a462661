package hwsim

import "time"

// RealClock backs sys_clock() with the real monotonic clock, measured in
// microseconds since the clock was created (i.e. since Boot).
type RealClock struct {
	start time.Time
}

func NewRealClock() *RealClock {
	return &RealClock{start: time.Now()}
}

func (c *RealClock) NowMicros() int64 {
	return time.Since(c.start).Microseconds()
}
