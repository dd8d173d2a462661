// Package driver is L2b: the clock and disk device drivers (spec §4.4,
// §4.5), layered over L2a/L1/L0. Each driver runs as an ordinary forked
// kernel process with its own service loop; user-facing blocking (sleep,
// disk_read, disk_write) is implemented with procmgr.BlockMe/UnblockProc
// directly rather than the private per-process wakeup mailbox
// original_source/CustomOS's syscallManager.c builds, for the same reason
// usyscall's semaphore table doesn't reimplement a mailbox-based mutex:
// BlockMe/UnblockProc already is that exact wakeup primitive one layer
// down, and adding a mailbox hop in front of it would not add fidelity.
package driver

import (
	"sync"

	"github.com/jarrett00/gokernel/internal/hwsim"
	"github.com/jarrett00/gokernel/internal/mailbox"
	"github.com/jarrett00/gokernel/internal/procmgr"
)

const statusBlockedSleep = 14

type sleeper struct {
	pid  int
	wake int64
}

// ClockDriver implements sleep(seconds) (spec §4.4): a priority-2 kernel
// process that services the simulated clock device and wakes sleepers in
// wake-time order.
type ClockDriver struct {
	mu      sync.Mutex
	queue   []sleeper
	procs   *procmgr.Manager
	mboxes  *mailbox.Manager
	machine *hwsim.Machine
	mboxID  int
}

// NewClockDriver creates the driver and the kernel-owned zero-slot mailbox
// its service loop waits on for clock ticks (spec §4.2's per-device
// mailbox bridge).
func NewClockDriver(procs *procmgr.Manager, mboxes *mailbox.Manager, machine *hwsim.Machine) (*ClockDriver, error) {
	mboxID, err := mboxes.Create(0, 4)
	if err != nil {
		return nil, err
	}
	return &ClockDriver{procs: procs, mboxes: mboxes, machine: machine, mboxID: mboxID}, nil
}

// MailboxID exposes the device mailbox so backend.go's New can wire
// it into mailbox.Manager.InstallStandardHandlers before the clock starts
// ticking.
func (d *ClockDriver) MailboxID() int { return d.mboxID }

// Run is the driver's service loop entry point, forked as a kernel process
// at Boot. It loops until a Receive on its device mailbox fails (for
// example once the process is zapped), then returns 0.
func (d *ClockDriver) Run(arg string) int {
	buf := make([]byte, 4)
	for {
		_, err := d.mboxes.Receive(d.mboxID, buf, 4)
		if err != nil {
			return 0
		}
		d.wakeDue()
	}
}

func (d *ClockDriver) wakeDue() {
	now := d.machine.Clock().NowMicros()
	d.mu.Lock()
	due := make([]int, 0)
	i := 0
	for i < len(d.queue) && d.queue[i].wake <= now {
		due = append(due, d.queue[i].pid)
		i++
	}
	d.queue = d.queue[i:]
	d.mu.Unlock()
	for _, pid := range due {
		_ = d.procs.UnblockProc(pid)
	}
}

// Sleep implements the sleep syscall: blocks the calling process until at
// least seconds have elapsed. Insertion keeps the queue sorted by wake
// time, inserting new entries strictly after any existing entries with an
// equal wake time (Open Question 5).
func (d *ClockDriver) Sleep(seconds int) error {
	if seconds < 0 {
		return errNegativeSeconds
	}
	wake := d.machine.Clock().NowMicros() + int64(seconds)*1_000_000

	d.mu.Lock()
	pid := d.procs.Current()
	idx := len(d.queue)
	for i, s := range d.queue {
		if s.wake > wake {
			idx = i
			break
		}
	}
	d.queue = append(d.queue, sleeper{})
	copy(d.queue[idx+1:], d.queue[idx:])
	d.queue[idx] = sleeper{pid: pid, wake: wake}
	d.mu.Unlock()

	d.procs.BlockMe(statusBlockedSleep)
	if d.procs.IsZapped() {
		return errZappedWhileSleeping
	}
	return nil
}
