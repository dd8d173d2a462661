// Package mailbox is L1, the mailbox manager: fixed-capacity message
// mailboxes, blocking/conditional send and receive, release, and the
// installation of the six hardware interrupt handlers (spec §4.2).
package mailbox

import (
	"errors"
	"sync"

	"github.com/jarrett00/gokernel/internal/constants"
	"github.com/jarrett00/gokernel/internal/hwsim"
	"github.com/jarrett00/gokernel/internal/interfaces"
	"github.com/jarrett00/gokernel/internal/procmgr"
)

var (
	ErrUnknownMailbox = errors.New("mailbox: unknown id")
	ErrTableFull      = errors.New("mailbox: table full")
	ErrInvalidArg     = errors.New("mailbox: invalid slots/slot_size")
	ErrTooLarge       = errors.New("mailbox: message exceeds slot size or buffer")
	ErrReleased       = errors.New("mailbox: released")
	ErrZapped         = errors.New("mailbox: zapped")
	ErrWouldBlock     = errors.New("mailbox: would block")
)

// statusBlockedSender / statusBlockedReceiver are the BLOCKED(k) reason
// codes used by send/receive respectively. Spec §4.2 names 11 for a
// blocked sender explicitly; 12 is this package's consistent, documented
// choice for a blocked receiver (spec is silent on the exact number).
const (
	statusBlockedSender   = 11
	statusBlockedReceiver = 12
)

type pendingSend struct {
	pid     int
	payload []byte
	length  int
}

type delivery struct {
	payload []byte
	length  int
}

// Mailbox is spec §3's Mailbox record.
type Mailbox struct {
	ID       int
	Slots    int
	SlotSize int

	occupied int
	msgHead  int // index into the slot pool, -1 = none
	msgTail  int

	waitingReceivers []int
	blockedSenders   []pendingSend

	released bool
}

// Manager owns the mailbox table and the global mail-slot pool.
type Manager struct {
	mu    sync.Mutex
	table [constants.MaxMbox]*Mailbox

	nextID    int
	pool      *slotPool
	delivered map[int]delivery

	procs    *procmgr.Manager
	machine  *hwsim.Machine
	logger   interfaces.Logger
	observer interfaces.Observer
}

func NewManager(procs *procmgr.Manager, machine *hwsim.Machine, logger interfaces.Logger, observer interfaces.Observer) *Manager {
	return &Manager{
		nextID:    1,
		pool:      newSlotPool(),
		delivered: make(map[int]delivery),
		procs:     procs,
		machine:   machine,
		logger:    logger,
		observer:  observer,
	}
}

func (m *Manager) slotIdx(id int) int { return id % constants.MaxMbox }

func (m *Manager) mboxByID(id int) *Mailbox {
	mb := m.table[m.slotIdx(id)]
	if mb != nil && mb.ID == id {
		return mb
	}
	return nil
}

// Create implements create(slots, slot_size) → id | error.
func (m *Manager) Create(slots, slotSize int) (int, error) {
	if slots < 0 || slotSize < 0 || slotSize > constants.MaxMessage {
		return -1, ErrInvalidArg
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	free := -1
	for i, mb := range m.table {
		if mb == nil {
			free = i
			break
		}
	}
	if free == -1 {
		return -1, ErrTableFull
	}
	id := m.nextID
	m.nextID++
	m.table[m.slotIdx(id)] = &Mailbox{
		ID:       id,
		Slots:    slots,
		SlotSize: slotSize,
		msgHead:  -1,
		msgTail:  -1,
	}
	return id, nil
}

// Release implements release(id) → 0 | -1 | -3 (spec §4.2), expressed as
// Go errors: nil on success, ErrUnknownMailbox, or ErrZapped if the caller
// was itself zapped during release.
func (m *Manager) Release(id int) error {
	m.mu.Lock()
	mb := m.mboxByID(id)
	if mb == nil || mb.released {
		m.mu.Unlock()
		return ErrUnknownMailbox
	}
	mb.released = true
	receivers := mb.waitingReceivers
	senders := mb.blockedSenders
	mb.waitingReceivers = nil
	mb.blockedSenders = nil

	cur := mb.msgHead
	for cur != -1 {
		next := m.pool.slots[cur].next
		m.pool.release(cur)
		cur = next
	}
	m.table[m.slotIdx(id)] = nil
	m.mu.Unlock()

	for _, pid := range receivers {
		_ = m.procs.MarkZapped(pid)
		_ = m.procs.UnblockProc(pid)
	}
	for _, ps := range senders {
		_ = m.procs.UnblockProc(ps.pid)
	}

	if m.procs.IsZapped() {
		return ErrZapped
	}
	return nil
}

// store copies msg into a freshly allocated slot appended to mb's message
// list. Caller must hold m.mu and must have already verified room exists in
// both the mailbox and the global pool.
func (m *Manager) store(mb *Mailbox, msg []byte, length int) {
	idx := m.pool.alloc()
	slot := &m.pool.slots[idx]
	slot.mboxID = mb.ID
	slot.length = length
	copy(slot.payload[:], msg[:length])
	slot.next = -1
	if mb.msgHead == -1 {
		mb.msgHead = idx
	} else {
		m.pool.slots[mb.msgTail].next = idx
	}
	mb.msgTail = idx
	mb.occupied++
}

// Send implements send(id, msg, len) → 0 | -1 | -3 (spec §4.2).
func (m *Manager) Send(id int, msg []byte, length int) (int, error) {
	return m.send(id, msg, length, true)
}

// CondSend implements cond_send: identical but never blocks, returning
// ErrWouldBlock (-2) instead.
func (m *Manager) CondSend(id int, msg []byte, length int) (int, error) {
	return m.send(id, msg, length, false)
}

func (m *Manager) send(id int, msg []byte, length int, blocking bool) (int, error) {
	blockedOnce := false
	for {
		m.mu.Lock()
		mb := m.mboxByID(id)
		if mb == nil {
			m.mu.Unlock()
			return -1, ErrUnknownMailbox
		}
		if mb.released {
			m.mu.Unlock()
			return -3, ErrReleased
		}
		if length > mb.SlotSize {
			m.mu.Unlock()
			return -1, ErrTooLarge
		}

		if len(mb.waitingReceivers) > 0 {
			pid := mb.waitingReceivers[0]
			mb.waitingReceivers = mb.waitingReceivers[1:]
			m.delivered[pid] = delivery{payload: append([]byte(nil), msg[:length]...), length: length}
			m.mu.Unlock()
			_ = m.procs.UnblockProc(pid)
			if m.observer != nil {
				m.observer.ObserveMailboxSend(id, false)
			}
			return 0, nil
		}

		mboxHasRoom := mb.Slots > 0 && mb.occupied < mb.Slots
		poolHasRoom := len(m.pool.free) > 0

		if mboxHasRoom && poolHasRoom {
			m.store(mb, msg, length)
			m.mu.Unlock()
			if m.observer != nil {
				m.observer.ObserveMailboxSend(id, false)
			}
			return 0, nil
		}

		if mboxHasRoom && !poolHasRoom && blockedOnce {
			m.mu.Unlock()
			m.machine.Halt(1, "mailbox send: global mail-slot pool exhausted")
			return -1, ErrTableFull
		}

		if !blocking {
			m.mu.Unlock()
			return -2, ErrWouldBlock
		}

		mb.blockedSenders = append(mb.blockedSenders, pendingSend{
			pid:     m.procs.Current(),
			payload: append([]byte(nil), msg[:length]...),
			length:  length,
		})
		m.mu.Unlock()
		if m.observer != nil {
			m.observer.ObserveMailboxSend(id, true)
		}
		m.procs.BlockMe(statusBlockedSender)
		blockedOnce = true
		if m.procs.IsZapped() {
			return -3, ErrZapped
		}
	}
}

// Receive implements receive(id, buf, cap) → len | -1 | -3 (spec §4.2).
func (m *Manager) Receive(id int, buf []byte, cap int) (int, error) {
	return m.receive(id, buf, cap, true)
}

// CondReceive implements cond_receive: never blocks.
func (m *Manager) CondReceive(id int, buf []byte, cap int) (int, error) {
	return m.receive(id, buf, cap, false)
}

func (m *Manager) receive(id int, buf []byte, cap int, blocking bool) (int, error) {
	for {
		selfPid := m.procs.Current()
		m.mu.Lock()

		if d, ok := m.delivered[selfPid]; ok {
			delete(m.delivered, selfPid)
			m.mu.Unlock()
			if d.length > cap {
				return -1, ErrTooLarge
			}
			copy(buf, d.payload[:d.length])
			if m.observer != nil {
				m.observer.ObserveMailboxReceive(id, false)
			}
			return d.length, nil
		}

		mb := m.mboxByID(id)
		if mb == nil {
			m.mu.Unlock()
			return -1, ErrUnknownMailbox
		}
		if mb.released {
			m.mu.Unlock()
			return -3, ErrReleased
		}

		if mb.msgHead != -1 {
			idx := mb.msgHead
			slot := &m.pool.slots[idx]
			if slot.length > cap {
				m.mu.Unlock()
				return -1, ErrTooLarge
			}
			length := slot.length
			copy(buf, slot.payload[:length])
			mb.msgHead = slot.next
			if mb.msgHead == -1 {
				mb.msgTail = -1
			}
			m.pool.release(idx)
			mb.occupied--

			var wakePid int
			if len(mb.blockedSenders) > 0 {
				wakePid = mb.blockedSenders[0].pid
				mb.blockedSenders = mb.blockedSenders[1:]
			}
			m.mu.Unlock()
			if wakePid != 0 {
				_ = m.procs.UnblockProc(wakePid)
			}
			if m.observer != nil {
				m.observer.ObserveMailboxReceive(id, false)
			}
			return length, nil
		}

		if len(mb.blockedSenders) > 0 {
			ps := mb.blockedSenders[0]
			mb.blockedSenders = mb.blockedSenders[1:]
			m.mu.Unlock()
			if ps.length > cap {
				_ = m.procs.UnblockProc(ps.pid)
				return -1, ErrTooLarge
			}
			copy(buf, ps.payload[:ps.length])
			_ = m.procs.UnblockProc(ps.pid)
			if m.observer != nil {
				m.observer.ObserveMailboxReceive(id, false)
			}
			return ps.length, nil
		}

		if !blocking {
			m.mu.Unlock()
			return -2, ErrWouldBlock
		}

		mb.waitingReceivers = append(mb.waitingReceivers, selfPid)
		m.mu.Unlock()
		if m.observer != nil {
			m.observer.ObserveMailboxReceive(id, true)
		}
		m.procs.BlockMe(statusBlockedReceiver)
		if m.procs.IsZapped() {
			return -3, ErrZapped
		}
	}
}

// SlotPoolOccupied returns total pool usage, for the conservation property
// of spec §8 ("Global mail-slot pool usage equals the sum over mailboxes of
// their occupied counters").
func (m *Manager) SlotPoolOccupied() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.occupied()
}
