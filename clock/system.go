// A thin wrapper over the system clock which can be implemented for use in tests. Timers
// made through a Clock are expected to honor whatever notion of time that clock has, so
// code holding a Clock never reaches for the time package directly.
package clock

import "time"

type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

type Clock interface {
	CurrentTimeMicro() uint64
	CurrentTimeMs() uint64
	CurrentTimeSec() uint64
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func NewSystemClock() Clock {
	return &systemClock{}
}

func (sc *systemClock) CurrentTimeMicro() uint64 {
	return uint64(time.Now().UnixMicro())
}

func (sc *systemClock) CurrentTimeMs() uint64 {
	return sc.CurrentTimeMicro() / 1000
}

func (sc *systemClock) CurrentTimeSec() uint64 {
	return sc.CurrentTimeMicro() / 1000000
}

func (sc *systemClock) Now() time.Time {
	return time.Now()
}

func (sc *systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
