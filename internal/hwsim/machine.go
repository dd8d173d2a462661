// Package hwsim is the simulated hardware layer: everything spec §6 lists
// as "consumed" (context_switch, device_output, wait_device, the PSR, the
// interrupt vector, the clock, halt, console) and explicitly out of scope
// as a kernel concern. It is in-process and software-only — there is no
// real block device or timer interrupt underneath it, only goroutines and
// channels standing in for them.
package hwsim

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jarrett00/gokernel/internal/abi"
	"github.com/jarrett00/gokernel/internal/constants"
	"github.com/jarrett00/gokernel/internal/interfaces"
)

// DeviceType enumerates the six interrupt vector slots of spec §6.
type DeviceType int

const (
	DevClock DeviceType = iota
	DevAlarm
	DevDisk
	DevTerm
	DevMMU
	DevSyscall
	numDevices
)

// InterruptHandler is a top-half handler installed into int_vec[dev]. It is
// invoked synchronously on the simulated interrupt-delivery goroutine, so
// handlers must be quick and must take their own locks (the caller is never
// "the current process").
type InterruptHandler func(unit int, status int)

// HaltFunc terminates the process. The default is os.Exit; tests supply a
// recording stub so a halt path can be exercised without killing the test
// binary.
type HaltFunc func(code int, reason string)

// Machine is the simulated hardware: one PSR, one clock, one interrupt
// vector, and per-unit device completion plumbing for the disk.
type Machine struct {
	psr      *Psr
	clock    interfaces.Clock
	logger   interfaces.Logger
	onHalt   HaltFunc
	observer interfaces.Observer

	mu        sync.Mutex
	intVec    [numDevices]InterruptHandler
	clockSubs []chan struct{}

	diskMu         sync.Mutex
	diskCompletion map[int]chan int

	stopTick chan struct{}
	halted   atomic.Bool
}

func NewMachine(clock interfaces.Clock, logger interfaces.Logger, onHalt HaltFunc, observer interfaces.Observer) *Machine {
	if onHalt == nil {
		onHalt = defaultHalt(logger)
	}
	return &Machine{
		psr:            NewPsr(),
		clock:          clock,
		logger:         logger,
		onHalt:         onHalt,
		observer:       observer,
		diskCompletion: make(map[int]chan int),
	}
}

// defaultHalt is what a real machine does: log and exit the process. Tests
// construct a Machine with their own HaltFunc (typically one that records
// the call and runtime.Goexit()s the calling goroutine) so a halt path can
// be exercised without killing the test binary.
func defaultHalt(logger interfaces.Logger) HaltFunc {
	return func(code int, reason string) {
		logger.Printf("HALT code=%d reason=%s", code, reason)
		os.Exit(code)
	}
}

func (m *Machine) Psr() *Psr { return m.psr }

func (m *Machine) Clock() interfaces.Clock { return m.clock }

// Halted reports whether Halt has already fired; Halt is idempotent.
func (m *Machine) Halted() bool { return m.halted.Load() }

// Halt is the hardware halt(code) primitive. Kernel code calls it on a
// non-recoverable condition (for example mail-slot pool exhaustion, an
// illegal syscall number, a boot failure, or nothing left to dispatch) and
// the sentinel calls it on clean shutdown.
func (m *Machine) Halt(code int, reason string) {
	if m.halted.Swap(true) {
		return
	}
	if m.observer != nil {
		m.observer.ObserveHalt(code)
	}
	m.onHalt(code, reason)
}

// InstallHandler registers the top-half handler for a device type. L1 is
// the only caller, per spec §4.2 ("L1 installs six handlers").
func (m *Machine) InstallHandler(dev DeviceType, h InterruptHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intVec[dev] = h
}

func (m *Machine) handler(dev DeviceType) InterruptHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intVec[dev]
}

// StartClock begins firing the clock device's interrupt at
// constants.ClockTickInterval until StopClock is called. Every tick invokes
// the handler currently installed for DevClock and wakes every goroutine
// parked in WaitDevice(DevClock, ...).
func (m *Machine) StartClock() {
	m.stopTick = make(chan struct{})
	ticker := time.NewTicker(constants.ClockTickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-m.stopTick:
				return
			case <-ticker.C:
				m.fireClockTick()
			}
		}
	}()
}

// StopClock halts the simulated clock device. Idempotent.
func (m *Machine) StopClock() {
	if m.stopTick == nil {
		return
	}
	select {
	case <-m.stopTick:
	default:
		close(m.stopTick)
	}
}

func (m *Machine) fireClockTick() {
	h := m.handler(DevClock)
	if h != nil {
		h(0, 0)
	}
	m.mu.Lock()
	subs := append([]chan struct{}{}, m.clockSubs...)
	m.mu.Unlock()
	for _, s := range subs {
		select {
		case s <- struct{}{}:
		default:
		}
	}
}

// subscribeClock registers a channel that receives one pulse per clock
// tick. Used only by WaitDevice(DevClock, ...).
func (m *Machine) subscribeClock() chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.clockSubs = append(m.clockSubs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Machine) unsubscribeClock(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.clockSubs {
		if c == ch {
			m.clockSubs = append(m.clockSubs[:i], m.clockSubs[i+1:]...)
			return
		}
	}
}

func (m *Machine) diskChan(unit int) chan int {
	m.diskMu.Lock()
	defer m.diskMu.Unlock()
	ch, ok := m.diskCompletion[unit]
	if !ok {
		ch = make(chan int, 1)
		m.diskCompletion[unit] = ch
	}
	return ch
}

// DeviceOutput is device_output(type, unit, &request): it submits a
// request to a device and returns immediately. perform is the simulated
// hardware's actual work (e.g. touching the backing byte store); it runs
// on a background goroutine after a latency proportional to the requested
// operation, modeling seek/transfer time, then its return value becomes the
// status posted to the matching WaitDevice call and to the device's
// installed interrupt handler.
func (m *Machine) DeviceOutput(dev DeviceType, unit int, req abi.DeviceRequest, perform func() int) {
	latency := constants.DeviceTransferLatency
	if req.Operation == abi.OpSeek || req.Operation == abi.OpTracks {
		latency = constants.DeviceSeekLatency
	}
	go func() {
		sleepLatency(latency)
		status := perform()
		if h := m.handler(dev); h != nil {
			h(unit, status)
		}
		if dev == DevDisk {
			m.diskChan(unit) <- status
		}
	}()
}

// sleepLatency models the requested operation's seek/transfer delay with a
// raw nanosleep, the same best-effort syscall-level sleep
// internal/queue/runner.go uses for its device-readiness retry loop, instead
// of the higher-level time.Sleep.
func sleepLatency(d time.Duration) {
	ts := unix.NsecToTimespec(d.Nanoseconds())
	_ = unix.Nanosleep(&ts, nil)
}

// WaitDevice is wait_device(type, unit, &status): it blocks the calling
// driver process until the matching DeviceOutput (or, for the clock, the
// next tick) completes, and returns the device status.
func (m *Machine) WaitDevice(dev DeviceType, unit int) int {
	switch dev {
	case DevClock:
		ch := m.subscribeClock()
		defer m.unsubscribeClock(ch)
		<-ch
		return 0
	case DevDisk:
		return <-m.diskChan(unit)
	default:
		return 0
	}
}
