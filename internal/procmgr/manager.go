package procmgr

import (
	"fmt"
	"sync"

	"github.com/jarrett00/gokernel/internal/constants"
	"github.com/jarrett00/gokernel/internal/hwsim"
	"github.com/jarrett00/gokernel/internal/interfaces"
)

// Manager owns the process table, the priority ready queues, and the
// blocked list. All mutations run with Manager.mu held, standing in for
// "interrupts disabled" (spec §5).
type Manager struct {
	mu sync.Mutex

	table   [constants.MaxProc]*Proc
	nextPid int
	live    int

	current *Proc
	bootCtx *hwsim.Context

	// readyHead/readyTail are indexed by priority 1..6; 0 means empty.
	readyHead [constants.PrioritySentinel + 1]int
	readyTail [constants.PrioritySentinel + 1]int

	blockedHead int
	blockedTail int

	machine  *hwsim.Machine
	logger   interfaces.Logger
	observer interfaces.Observer
}

func NewManager(machine *hwsim.Machine, logger interfaces.Logger, observer interfaces.Observer) *Manager {
	m := &Manager{
		machine:  machine,
		logger:   logger,
		observer: observer,
		nextPid:  constants.SentinelPID,
		bootCtx:  hwsim.NewContext(0),
	}
	machine.InstallHandler(hwsim.DevClock, func(unit, status int) {
		m.clockTick()
	})
	return m
}

func (m *Manager) slot(pid int) int { return pid % constants.MaxProc }

func (m *Manager) procByPid(pid int) *Proc {
	if pid <= 0 {
		return nil
	}
	p := m.table[m.slot(pid)]
	if p != nil && p.Pid == pid {
		return p
	}
	return nil
}

// Current returns the pid of the currently dispatched process, 0 before
// Boot.
func (m *Manager) Current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.Pid
}

func (m *Manager) CurrentProc() *Proc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ---- ready queue helpers (require mu held) ----

func (m *Manager) addReadyTailLocked(p *Proc) {
	p.status = Ready
	p.nextInQueue = 0
	if m.readyHead[p.Priority] == 0 {
		m.readyHead[p.Priority] = p.Pid
	} else {
		m.table[m.slot(m.readyTail[p.Priority])].nextInQueue = p.Pid
	}
	m.readyTail[p.Priority] = p.Pid
}

// removeReadyLocked removes p from its priority's ready queue. O(queue
// length); ready queues are short in a teaching kernel (<= MaxProc).
func (m *Manager) removeReadyLocked(p *Proc) {
	prio := p.Priority
	prev := 0
	cur := m.readyHead[prio]
	for cur != 0 {
		curProc := m.table[m.slot(cur)]
		if cur == p.Pid {
			if prev == 0 {
				m.readyHead[prio] = curProc.nextInQueue
			} else {
				m.table[m.slot(prev)].nextInQueue = curProc.nextInQueue
			}
			if m.readyTail[prio] == cur {
				m.readyTail[prio] = prev
			}
			curProc.nextInQueue = 0
			return
		}
		prev = cur
		cur = curProc.nextInQueue
	}
}

// rotateReadyLocked moves the head of priority's ready queue to its tail.
// Used by time_slice; a no-op if the queue has 0 or 1 members.
func (m *Manager) rotateReadyLocked(priority int) {
	head := m.readyHead[priority]
	if head == 0 {
		return
	}
	p := m.table[m.slot(head)]
	if p.nextInQueue == 0 {
		return
	}
	m.removeReadyLocked(p)
	m.addReadyTailLocked(p)
}

func (m *Manager) pickHighestReadyLocked() *Proc {
	for prio := constants.PriorityHighest; prio <= constants.PrioritySentinel; prio++ {
		if m.readyHead[prio] != 0 {
			return m.table[m.slot(m.readyHead[prio])]
		}
	}
	return nil
}

// ---- blocked list helpers (require mu held) ----

func (m *Manager) addBlockedLocked(p *Proc) {
	p.nextInQueue = 0
	if m.blockedHead == 0 {
		m.blockedHead = p.Pid
	} else {
		m.table[m.slot(m.blockedTail)].nextInQueue = p.Pid
	}
	m.blockedTail = p.Pid
}

func (m *Manager) removeBlockedLocked(p *Proc) {
	prev := 0
	cur := m.blockedHead
	for cur != 0 {
		curProc := m.table[m.slot(cur)]
		if cur == p.Pid {
			if prev == 0 {
				m.blockedHead = curProc.nextInQueue
			} else {
				m.table[m.slot(prev)].nextInQueue = curProc.nextInQueue
			}
			if m.blockedTail == cur {
				m.blockedTail = prev
			}
			curProc.nextInQueue = 0
			return
		}
		prev = cur
		cur = curProc.nextInQueue
	}
}

// ---- dispatcher ----

// dispatchLocked requires mu held on entry and returns with mu held;
// mu is released for the duration of the machine-level context switch so
// the newly current process can itself acquire it, mirroring the hardware
// dispatcher re-enabling interrupts before switching (spec §4.1).
func (m *Manager) dispatchLocked() {
	next := m.pickHighestReadyLocked()
	if next == nil {
		m.mu.Unlock()
		m.machine.Halt(1, "dispatcher: no runnable process")
		m.mu.Lock()
		return
	}
	old := m.current
	now := m.machine.Clock().NowMicros()
	if old != nil {
		old.cpuMicros += now - old.lastDispatch
	}
	m.current = next
	next.lastDispatch = now
	if m.observer != nil {
		m.observer.ObserveDispatch(pidOf(old), next.Pid)
	}
	if old == next {
		return
	}
	oldCtx := m.bootCtx
	if old != nil {
		oldCtx = old.ctx
	}
	m.mu.Unlock()
	if m.observer != nil {
		m.observer.ObserveContextSwitch()
	}
	hwsim.Switch(oldCtx, next.ctx)
	m.mu.Lock()
}

func pidOf(p *Proc) int {
	if p == nil {
		return 0
	}
	return p.Pid
}

// Dispatch runs the dispatcher (spec §4.1). Exported for drivers/syscall
// layer that need to force a redispatch outside of a blocking call.
func (m *Manager) Dispatch() {
	m.mu.Lock()
	m.dispatchLocked()
	m.mu.Unlock()
}

// Checkpoint is called at kernel entry points to apply a pending
// time-slice preemption (see clockTick). Go has no async-preemption
// primitive usable here, so expiry is detected on the clock tick and
// applied cooperatively at the next kernel entry, per DESIGN.md.
func (m *Manager) Checkpoint() {
	m.mu.Lock()
	if m.current != nil && m.current.preempt {
		m.current.preempt = false
		m.dispatchLocked()
	}
	m.mu.Unlock()
}

// clockTick is the installed CLOCK interrupt handler (spec §4.1's
// time_slice, invoked on each tick). It only rotates the ready queue and
// marks the pending preemption; the actual context switch happens at the
// next Checkpoint, since this runs on hwsim's internal ticker goroutine,
// not as the current process.
func (m *Manager) clockTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.current
	if cur == nil {
		return
	}
	now := m.machine.Clock().NowMicros()
	if now-cur.lastDispatch >= constants.TimeSliceMicros {
		m.rotateReadyLocked(cur.Priority)
		cur.preempt = true
	}
}

// CPUTimeMicros returns pid's accumulated CPU time, including time accrued
// since its last dispatch if it is the currently running process. Backs the
// cpu_time syscall (spec §4.3).
func (m *Manager) CPUTimeMicros(pid int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.procByPid(pid)
	if p == nil {
		return 0
	}
	total := p.cpuMicros
	if p == m.current {
		total += m.machine.Clock().NowMicros() - p.lastDispatch
	}
	return total
}

// DumpState renders a human-readable snapshot of the process table (one
// row per slot: pid, ppid, priority, status, name), modeled on dump_processes() from
// processManager.c. Used by cmd/kernel's SIGUSR1 handler.
func (m *Manager) DumpState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := "PID  PPID PRIO STATUS       NAME\n"
	for _, p := range m.table {
		if p == nil || p.status == Free {
			continue
		}
		s += fmt.Sprintf("%-4d %-4d %-4d %-12s %s\n", p.Pid, p.ParentPid, p.Priority, p.status, p.Name)
	}
	return s
}
