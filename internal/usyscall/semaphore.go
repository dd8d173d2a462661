package usyscall

import (
	"errors"
	"sync"

	"github.com/jarrett00/gokernel/internal/constants"
	"github.com/jarrett00/gokernel/internal/interfaces"
	"github.com/jarrett00/gokernel/internal/procmgr"
)

var (
	ErrUnknownSem = errors.New("usyscall: unknown semaphore id")
	ErrSemTable   = errors.New("usyscall: semaphore table full")
	ErrNegValue   = errors.New("usyscall: negative initial value")
	ErrSemZapped  = errors.New("usyscall: zapped while blocked on semaphore")
)

// statusBlockedSem is this package's BLOCKED(k) reason for a process parked
// in sem_p, k>=10 per spec §4.1. Chosen as the next integer above
// mailbox's 11 (send) and 12 (receive).
const statusBlockedSem = 13

// semaphore is one entry of the user-visible semaphore table (spec §4.3).
// Waiters are a plain pid FIFO; table-wide access is serialized by
// semTable.mu rather than the mutex-mailbox choreography
// original_source/CustomOS's syscallManager.c builds out of send/receive on
// a dedicated mailbox, because procmgr.Manager already gives this package
// the identical mutex-protected-table-with-drop-lock-block-retry idiom that
// mailbox.Manager itself uses for send/receive (see DESIGN.md) — adding a
// second, mailbox-based mutex under a sync.Mutex-protected table would only
// reimplement the same primitive. Grounded on the Go runtime's own
// semaphore (runtime/sema.go in the annotated-source example): a FIFO
// waiter list plus block/wake, no condition variable.
type semaphore struct {
	id       int
	value    int
	waiters  []int
	released bool
}

// semTable is the semaphore service (spec §4.3's sem_create/sem_p/sem_v/
// sem_free), embedded in usyscall.Manager.
type semTable struct {
	mu       sync.Mutex
	table    [constants.MaxSemaphores]*semaphore
	nextID   int
	procs    *procmgr.Manager
	observer interfaces.Observer
}

func newSemTable(procs *procmgr.Manager, observer interfaces.Observer) *semTable {
	return &semTable{nextID: 1, procs: procs, observer: observer}
}

func (s *semTable) slot(id int) int { return id % constants.MaxSemaphores }

func (s *semTable) byID(id int) *semaphore {
	sem := s.table[s.slot(id)]
	if sem != nil && sem.id == id {
		return sem
	}
	return nil
}

// SemCreate implements sem_create(value) → id | error.
func (s *semTable) SemCreate(value int) (int, error) {
	if value < 0 {
		return -1, ErrNegValue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	free := -1
	for i, sem := range s.table {
		if sem == nil {
			free = i
			break
		}
	}
	if free == -1 {
		return -1, ErrSemTable
	}
	id := s.nextID
	s.nextID++
	s.table[s.slot(id)] = &semaphore{id: id, value: value}
	return id, nil
}

// SemP implements sem_p(id) (spec §4.3): blocks while the value is zero.
func (s *semTable) SemP(id int) error {
	for {
		s.mu.Lock()
		sem := s.byID(id)
		if sem == nil {
			s.mu.Unlock()
			return ErrUnknownSem
		}
		if sem.released {
			s.mu.Unlock()
			return ErrUnknownSem
		}
		if sem.value > 0 {
			sem.value--
			s.mu.Unlock()
			s.observe(id, "p", false)
			return nil
		}
		sem.waiters = append(sem.waiters, s.procs.Current())
		s.mu.Unlock()
		s.observe(id, "p", true)
		s.procs.BlockMe(statusBlockedSem)
		if s.procs.IsZapped() {
			return ErrSemZapped
		}
		return nil
	}
}

func (s *semTable) observe(id int, op string, blocked bool) {
	if s.observer != nil {
		s.observer.ObserveSemaphoreOp(id, op, blocked)
	}
}

// SemV implements sem_v(id) (spec §4.3): wakes the oldest waiter directly
// if one is parked, otherwise increments the value. Handing the token
// straight to a waiter (rather than incrementing then letting it race to
// decrement) keeps the FIFO order exact.
func (s *semTable) SemV(id int) error {
	s.mu.Lock()
	sem := s.byID(id)
	if sem == nil || sem.released {
		s.mu.Unlock()
		return ErrUnknownSem
	}
	if len(sem.waiters) > 0 {
		pid := sem.waiters[0]
		sem.waiters = sem.waiters[1:]
		s.mu.Unlock()
		_ = s.procs.UnblockProc(pid)
		s.observe(id, "v", false)
		return nil
	}
	sem.value++
	s.mu.Unlock()
	s.observe(id, "v", false)
	return nil
}

// SemFree implements sem_free(id) (spec §4.3): releasing a semaphore with
// blocked waiters wakes them all so they can observe the error.
func (s *semTable) SemFree(id int) error {
	s.mu.Lock()
	sem := s.byID(id)
	if sem == nil || sem.released {
		s.mu.Unlock()
		return ErrUnknownSem
	}
	sem.released = true
	waiters := sem.waiters
	sem.waiters = nil
	s.table[s.slot(id)] = nil
	s.mu.Unlock()
	for _, pid := range waiters {
		_ = s.procs.MarkZapped(pid)
		_ = s.procs.UnblockProc(pid)
	}
	return nil
}
