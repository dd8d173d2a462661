package gokernel

import (
	"fmt"
	"sync"
	"time"

	"github.com/jarrett00/gokernel/internal/interfaces"
)

// FakeClock is a manually advanced implementation of interfaces.Clock,
// used by tests that need deterministic control over sleep/time-slice
// behavior instead of wall-clock time.
type FakeClock struct {
	mu  sync.Mutex
	now int64 // microseconds
}

// NewFakeClock creates a FakeClock starting at the given microsecond time.
func NewFakeClock(startMicros int64) *FakeClock {
	return &FakeClock{now: startMicros}
}

// NowMicros implements interfaces.Clock.
func (c *FakeClock) NowMicros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by the given number of microseconds.
func (c *FakeClock) Advance(micros int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += micros
}

// Set pins the clock to an absolute microsecond time. Tests use this to
// jump directly to a sleeper's wake time rather than advancing in steps.
func (c *FakeClock) Set(micros int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = micros
}

var _ interfaces.Clock = (*FakeClock)(nil)

// RecordingLogger is an interfaces.Logger double that stores every message
// instead of writing it anywhere, so tests can assert on what the kernel
// logged.
type RecordingLogger struct {
	mu     sync.Mutex
	Lines  []string
	Debugs []string
}

// NewRecordingLogger creates an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

// Printf implements interfaces.Logger.
func (l *RecordingLogger) Printf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Lines = append(l.Lines, fmt.Sprintf(format, args...))
}

// Debugf implements interfaces.Logger.
func (l *RecordingLogger) Debugf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, fmt.Sprintf(format, args...))
}

// All returns every Printf and Debugf line recorded so far, in call order
// within each category (Printf lines first, then Debugf lines).
func (l *RecordingLogger) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.Lines)+len(l.Debugs))
	out = append(out, l.Lines...)
	out = append(out, l.Debugs...)
	return out
}

var _ interfaces.Logger = (*RecordingLogger)(nil)

// RecordingObserver is an interfaces.Observer double that records every
// call instead of aggregating into counters, so tests can assert on the
// exact sequence of kernel events (dispatch order, block/wake pairing).
type RecordingObserver struct {
	mu     sync.Mutex
	Events []string
}

// NewRecordingObserver creates an empty RecordingObserver.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{}
}

func (o *RecordingObserver) record(event string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Events = append(o.Events, event)
}

func (o *RecordingObserver) ObserveDispatch(fromPID, toPID int) {
	o.record(fmt.Sprintf("dispatch %d->%d", fromPID, toPID))
}

func (o *RecordingObserver) ObserveContextSwitch() {
	o.record("context_switch")
}

func (o *RecordingObserver) ObserveMailboxSend(mboxID int, blocked bool) {
	o.record(fmt.Sprintf("mbox_send %d blocked=%v", mboxID, blocked))
}

func (o *RecordingObserver) ObserveMailboxReceive(mboxID int, blocked bool) {
	o.record(fmt.Sprintf("mbox_receive %d blocked=%v", mboxID, blocked))
}

func (o *RecordingObserver) ObserveSemaphoreOp(semID int, op string, blocked bool) {
	o.record(fmt.Sprintf("sem_%s %d blocked=%v", op, semID, blocked))
}

func (o *RecordingObserver) ObserveDiskOp(unit int, op string, latency time.Duration) {
	o.record(fmt.Sprintf("disk_%s unit=%d", op, unit))
}

func (o *RecordingObserver) ObserveHalt(code int) {
	o.record(fmt.Sprintf("halt %d", code))
}

// Snapshot returns a copy of every event recorded so far.
func (o *RecordingObserver) Snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.Events))
	copy(out, o.Events)
	return out
}

var _ interfaces.Observer = (*RecordingObserver)(nil)
