package procmgr

import (
	"errors"

	"github.com/jarrett00/gokernel/internal/constants"
	"github.com/jarrett00/gokernel/internal/hwsim"
)

var (
	ErrNoSlots       = errors.New("procmgr: no free process slots")
	ErrStackTooSmall = errors.New("procmgr: stack size below minimum")
	ErrBadPriority   = errors.New("procmgr: priority out of range")
	ErrNoEntry       = errors.New("procmgr: nil entry function")
	ErrNoChildren    = errors.New("procmgr: no children")
	ErrUnknownPid    = errors.New("procmgr: unknown pid")
	ErrNotBlocked    = errors.New("procmgr: target is not user-blocked")
	ErrSelf          = errors.New("procmgr: cannot target self")
)

// ForkSpec bundles fork's arguments (spec §4.1).
type ForkSpec struct {
	Name      string
	Entry     EntryFunc
	Arg       string
	StackSize int
	Priority  int
}

// Fork implements fork(name, fn, arg, stack_size, priority) → pid | error.
func (m *Manager) Fork(spec ForkSpec) (int, error) {
	if spec.Entry == nil {
		return 0, ErrNoEntry
	}
	if spec.StackSize < constants.MinStack {
		return 0, ErrStackTooSmall
	}
	if spec.Priority < constants.PriorityHighest || spec.Priority > constants.PriorityLowestUser {
		return 0, ErrBadPriority
	}

	m.mu.Lock()
	if m.live >= constants.MaxProc {
		m.mu.Unlock()
		return 0, ErrNoSlots
	}

	pid := m.allocPidLocked()
	p := &Proc{
		Pid:       pid,
		Name:      spec.Name,
		Priority:  spec.Priority,
		Arg:       spec.Arg,
		entry:     spec.Entry,
		ctx:       hwsim.NewContext(spec.StackSize),
		ParentPid: pidOf(m.current),
	}
	m.table[m.slot(pid)] = p
	m.live++

	if m.current != nil {
		m.linkChildLocked(m.current, p)
	}
	m.addReadyTailLocked(p)

	go m.runProcess(p)

	m.dispatchLocked()
	m.mu.Unlock()
	return pid, nil
}

func (m *Manager) allocPidLocked() int {
	for {
		pid := m.nextPid
		m.nextPid++
		if m.table[m.slot(pid)] == nil {
			return pid
		}
	}
}

func (m *Manager) linkChildLocked(parent, child *Proc) {
	child.nextSibling = 0
	if parent.childHead == 0 {
		parent.childHead = child.Pid
	} else {
		m.table[m.slot(parent.childTail)].nextSibling = child.Pid
	}
	parent.childTail = child.Pid
}

// runProcess is the goroutine body backing a process's Context: it parks
// until given the turn, runs the entry function to completion, and quits
// with its return value if the function didn't already call Quit.
func (m *Manager) runProcess(p *Proc) {
	pinToSingleCPU(m.logger)
	p.ctx.WaitTurn()
	code := p.entry(p.Arg)
	m.mu.Lock()
	if p.status != Quit {
		m.mu.Unlock()
		m.Quit(code)
		return
	}
	m.mu.Unlock()
}

// Join implements join(&exit_code) → pid | error.
func (m *Manager) Join() (pid int, exitCode int, err error) {
	m.mu.Lock()
	self := m.current
	if self.childHead == 0 && !m.hasQuitChildLocked(self) {
		m.mu.Unlock()
		return 0, 0, ErrNoChildren
	}
	for !m.hasQuitChildLocked(self) {
		self.status = JoinBlocked
		m.removeReadyLocked(self)
		m.addBlockedLocked(self)
		m.dispatchLocked()
		if self.childHead == 0 {
			m.mu.Unlock()
			return 0, 0, ErrNoChildren
		}
	}
	child := m.popQuitChildLocked(self)
	pid, exitCode = child.Pid, child.ExitCode
	m.freeLocked(child)
	m.mu.Unlock()
	return pid, exitCode, nil
}

func (m *Manager) hasQuitChildLocked(p *Proc) bool {
	cur := p.childHead
	for cur != 0 {
		c := m.table[m.slot(cur)]
		if c.status == Quit {
			return true
		}
		cur = c.nextSibling
	}
	return false
}

func (m *Manager) popQuitChildLocked(parent *Proc) *Proc {
	prev := 0
	cur := parent.childHead
	for cur != 0 {
		c := m.table[m.slot(cur)]
		if c.status == Quit {
			if prev == 0 {
				parent.childHead = c.nextSibling
			} else {
				m.table[m.slot(prev)].nextSibling = c.nextSibling
			}
			if parent.childTail == cur {
				parent.childTail = prev
			}
			return c
		}
		prev = cur
		cur = c.nextSibling
	}
	return nil
}

func (m *Manager) freeLocked(p *Proc) {
	m.table[m.slot(p.Pid)] = nil
	m.live--
}

// Quit implements quit(code): marks self QUIT, wakes the parent and any
// zappers, and dispatches away forever. Quitting with live children is a
// programmer error (spec §7 kind 6) and halts the system.
func (m *Manager) Quit(code int) {
	m.mu.Lock()
	self := m.current
	if self.childHead != 0 {
		m.mu.Unlock()
		m.machine.Halt(1, "quit: process has live children")
		return
	}
	self.ExitCode = code
	self.status = Quit
	m.removeReadyLocked(self)

	if parent := m.procByPid(self.ParentPid); parent != nil && parent.status == JoinBlocked {
		m.removeBlockedLocked(parent)
		m.addReadyTailLocked(parent)
	}

	cur := self.zapWaitHead
	for cur != 0 {
		zapper := m.table[m.slot(cur)]
		next := zapper.zapWaitNext
		m.removeBlockedLocked(zapper)
		m.addReadyTailLocked(zapper)
		cur = next
	}
	self.zapWaitHead = 0

	m.dispatchLocked()
	m.mu.Unlock()
}

// BlockMe implements block_me(status): status>=10 is required; a smaller
// value is a programmer error (spec §7 kind 6) and halts.
func (m *Manager) BlockMe(status int) {
	if status < 10 {
		m.machine.Halt(1, "block_me: status below 10")
		return
	}
	m.mu.Lock()
	self := m.current
	self.status = Blocked
	self.blockReason = status
	m.removeReadyLocked(self)
	m.addBlockedLocked(self)
	m.dispatchLocked()
	m.mu.Unlock()
}

// UnblockProc implements unblock_proc(pid).
func (m *Manager) UnblockProc(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pid == pidOf(m.current) {
		return ErrSelf
	}
	p := m.procByPid(pid)
	if p == nil {
		return ErrUnknownPid
	}
	if p.status != Blocked {
		return ErrNotBlocked
	}
	m.removeBlockedLocked(p)
	m.addReadyTailLocked(p)
	return nil
}

// Zap implements zap(pid): marks the target zapped and blocks the caller
// until the target quits. A Blocked target, whatever it is blocked on
// (block_me, mailbox, semaphore), is moved to the ready queue immediately
// so it reaches its next voluntary suspension point and observes
// is_zapped().
func (m *Manager) Zap(pid int) error {
	m.mu.Lock()
	if pid == pidOf(m.current) {
		m.mu.Unlock()
		return ErrSelf
	}
	target := m.procByPid(pid)
	if target == nil {
		m.mu.Unlock()
		return ErrUnknownPid
	}
	target.zapped = true
	if target.status == Quit {
		m.mu.Unlock()
		return nil
	}
	if target.status == Blocked {
		m.removeBlockedLocked(target)
		m.addReadyTailLocked(target)
	}
	self := m.current
	self.zapWaitNext = target.zapWaitHead
	target.zapWaitHead = self.Pid
	self.status = Blocked
	self.blockReason = 10
	m.removeReadyLocked(self)
	m.addBlockedLocked(self)
	m.dispatchLocked()
	m.mu.Unlock()
	return nil
}

// Terminate implements terminate(code) (spec §4.3): zap every live child,
// then quit(code). Zap wakes a child parked in block_me so it can observe
// is_zapped() and quit on its own, and blocks until it does; Terminate then
// reaps each one with join (Zap alone only waits for Quit status, it
// doesn't free the slot or unlink the child, and quit refuses to run with
// any child link still outstanding) before reaping itself.
func (m *Manager) Terminate(code int) {
	m.mu.Lock()
	self := m.current
	var children []int
	cur := self.childHead
	for cur != 0 {
		c := m.table[m.slot(cur)]
		children = append(children, c.Pid)
		cur = c.nextSibling
	}
	m.mu.Unlock()

	for _, pid := range children {
		_ = m.Zap(pid)
	}
	for range children {
		_, _, _ = m.Join()
	}
	m.Quit(code)
}

// IsZapped reports whether the current process has been zapped. Checked by
// the process itself at voluntary suspension points (spec §4.1, §5).
func (m *Manager) IsZapped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.IsZapped()
}

// MarkZapped flags pid as zapped without blocking anyone, unlike Zap (which
// blocks the caller until pid quits). Used by mailbox.Release to mark every
// waiting receiver zapped before waking it, per spec §4.2's release
// contract.
func (m *Manager) MarkZapped(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.procByPid(pid)
	if p == nil {
		return ErrUnknownPid
	}
	p.zapped = true
	return nil
}

// Boot forks the sentinel as the sole root process and init as its child,
// then runs the dispatcher to hand control off the boot goroutine for good,
// mirroring startup() in processManager.c never being resumed. init as
// sentinel's child (rather than a sibling root) is what makes the
// sentinel's join loop (spec §8's deadlock-detection invariant) actually
// track system-wide idleness: once init and everything it forked has quit,
// sentinel's own child list empties out and its next join returns
// ErrNoChildren.
func (m *Manager) Boot(sentinel ForkSpec, init ForkSpec) (sentinelPid, initPid int, err error) {
	sentinelPid, err = m.forkAs(0, sentinel)
	if err != nil {
		return 0, 0, err
	}
	initPid, err = m.forkAs(sentinelPid, init)
	if err != nil {
		return 0, 0, err
	}
	m.mu.Lock()
	m.dispatchLocked()
	m.mu.Unlock()
	m.bootCtx.WaitTurn()
	return sentinelPid, initPid, nil
}

// forkAs creates a process with an explicit parent pid (0 for a root),
// bypassing Fork's "parent is whoever is current" assumption — needed only
// at Boot, before any process is current.
func (m *Manager) forkAs(parentPid int, spec ForkSpec) (int, error) {
	if spec.Entry == nil {
		return 0, ErrNoEntry
	}
	if spec.StackSize < constants.MinStack {
		return 0, ErrStackTooSmall
	}
	if spec.Priority < constants.PriorityHighest || spec.Priority > constants.PrioritySentinel {
		return 0, ErrBadPriority
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live >= constants.MaxProc {
		return 0, ErrNoSlots
	}
	pid := m.allocPidLocked()
	p := &Proc{
		Pid:       pid,
		Name:      spec.Name,
		Priority:  spec.Priority,
		Arg:       spec.Arg,
		entry:     spec.Entry,
		ctx:       hwsim.NewContext(spec.StackSize),
		ParentPid: parentPid,
	}
	m.table[m.slot(pid)] = p
	m.live++
	if parent := m.procByPid(parentPid); parent != nil {
		m.linkChildLocked(parent, p)
	}
	m.addReadyTailLocked(p)
	go m.runProcess(p)
	return pid, nil
}
