package procmgr

import (
	"runtime"
	"testing"
	"time"

	"github.com/jarrett00/gokernel/internal/constants"
	"github.com/jarrett00/gokernel/internal/hwsim"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ us int64 }

func (c *fakeClock) NowMicros() int64 { return c.us }

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

type haltRecord struct {
	code   int
	reason string
}

// newBootHarness builds a Manager whose halts are captured on a channel
// instead of calling os.Exit, mirroring the root package's
// TestBootHaltsCleanlyWhenWorkloadReturns pattern: Boot never returns in
// normal operation, so tests synchronize on the halt callback.
func newBootHarness(t *testing.T) (*Manager, chan haltRecord) {
	t.Helper()
	halted := make(chan haltRecord, 1)
	onHalt := func(code int, reason string) {
		halted <- haltRecord{code, reason}
		runtime.Goexit()
	}
	machine := hwsim.NewMachine(&fakeClock{}, nopLogger{}, onHalt, nil)
	return NewManager(machine, nopLogger{}, nil), halted
}

// bootWithInit boots m with a sentinel whose join loop halts(0) once it
// sees no children (spec §8's deadlock-detection invariant) and an init
// running initEntry, asserting Boot itself never returns.
func bootWithInit(m *Manager, initEntry EntryFunc) {
	sentinelEntry := func(arg string) int {
		for {
			if _, _, err := m.Join(); err != nil {
				m.machine.Halt(0, "sentinel: no children, system idle")
				return 0
			}
		}
	}
	go func() {
		_, _, _ = m.Boot(
			ForkSpec{Name: "sentinel", Entry: sentinelEntry, StackSize: constants.MinStack, Priority: constants.PrioritySentinel},
			ForkSpec{Name: "init", Entry: initEntry, StackSize: constants.MinStack, Priority: constants.PriorityLowestUser},
		)
	}()
}

func waitHalt(t *testing.T, halted chan haltRecord) haltRecord {
	t.Helper()
	select {
	case h := <-halted:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("expected a halt within the timeout")
		return haltRecord{}
	}
}

func TestForkValidatesArgs(t *testing.T) {
	m, _ := newBootHarness(t)

	_, err := m.Fork(ForkSpec{Entry: nil, StackSize: constants.MinStack, Priority: 3})
	require.ErrorIs(t, err, ErrNoEntry)

	_, err = m.Fork(ForkSpec{Entry: func(string) int { return 0 }, StackSize: 1, Priority: 3})
	require.ErrorIs(t, err, ErrStackTooSmall)

	_, err = m.Fork(ForkSpec{Entry: func(string) int { return 0 }, StackSize: constants.MinStack, Priority: 99})
	require.ErrorIs(t, err, ErrBadPriority)
}

func TestBootHaltsCleanlyOnEmptyWorkload(t *testing.T) {
	m, halted := newBootHarness(t)
	bootWithInit(m, func(arg string) int { return 0 })

	h := waitHalt(t, halted)
	require.Equal(t, 0, h.code)
}

// TestForkHigherPriorityRunsFirst exercises spec §8's priority invariant:
// whenever several processes are simultaneously ready, the dispatcher always
// picks the highest-priority (lowest-numbered) one first.
func TestForkHigherPriorityRunsFirst(t *testing.T) {
	m, halted := newBootHarness(t)
	order := make(chan int, 3)

	initEntry := func(arg string) int {
		initPid := m.Current()
		spawn := func(prio int) int {
			pid, err := m.Fork(ForkSpec{
				Name: "p",
				Entry: func(arg string) int {
					m.BlockMe(20)
					order <- prio
					_ = m.UnblockProc(initPid)
					return 0
				},
				StackSize: constants.MinStack,
				Priority:  prio,
			})
			require.NoError(t, err)
			return pid
		}
		// Forked in descending-priority (lowest-urgency-first) order; each
		// preempts init and immediately blocks, so none runs to completion
		// yet. All three become ready only once explicitly unblocked below.
		p4 := spawn(4)
		p3 := spawn(3)
		p2 := spawn(2)

		for _, pid := range []int{p4, p3, p2} {
			_ = m.UnblockProc(pid)
		}
		m.BlockMe(21) // let the dispatcher choose among p4/p3/p2 by priority
		for i := 0; i < 3; i++ {
			_, _, _ = m.Join()
		}
		return 0
	}

	bootWithInit(m, initEntry)
	waitHalt(t, halted)
	close(order)

	var got []int
	for v := range order {
		got = append(got, v)
	}
	require.Equal(t, []int{2, 3, 4}, got)
}

func TestBlockMeRejectsStatusBelowTen(t *testing.T) {
	m, halted := newBootHarness(t)
	bootWithInit(m, func(arg string) int {
		m.BlockMe(5)
		return 0
	})

	h := waitHalt(t, halted)
	require.Equal(t, 1, h.code)
	require.Contains(t, h.reason, "below 10")
}

func TestQuitWithLiveChildrenHalts(t *testing.T) {
	m, halted := newBootHarness(t)
	initEntry := func(arg string) int {
		_, err := m.Fork(ForkSpec{
			Name:      "child",
			Entry:     func(arg string) int { m.BlockMe(20); return 0 },
			StackSize: constants.MinStack,
			Priority:  4,
		})
		require.NoError(t, err)
		m.Quit(0) // child still alive: must halt instead of finishing cleanly
		return 99
	}
	bootWithInit(m, initEntry)

	h := waitHalt(t, halted)
	require.Equal(t, 1, h.code)
	require.Contains(t, h.reason, "live children")
}

func TestZapWakesBlockedTargetAndTerminateReapsIt(t *testing.T) {
	m, halted := newBootHarness(t)
	sawZapped := make(chan bool, 1)

	initEntry := func(arg string) int {
		_, err := m.Fork(ForkSpec{
			Name: "child",
			Entry: func(arg string) int {
				m.BlockMe(20)
				sawZapped <- m.IsZapped()
				return 0
			},
			StackSize: constants.MinStack,
			Priority:  4,
		})
		require.NoError(t, err)
		m.Terminate(7) // zaps the child, reaps it, then quits self
		return 0        // unreachable
	}
	bootWithInit(m, initEntry)

	h := waitHalt(t, halted)
	require.Equal(t, 0, h.code) // sentinel's own halt code, not init's exit code
	require.True(t, <-sawZapped)
}

func TestZapOnAlreadyQuitTargetIsNoOp(t *testing.T) {
	m, halted := newBootHarness(t)
	result := make(chan error, 1)

	initEntry := func(arg string) int {
		childPid, err := m.Fork(ForkSpec{
			Name:      "child",
			Entry:     func(arg string) int { return 0 }, // quits immediately, no blocking
			StackSize: constants.MinStack,
			Priority:  4,
		})
		require.NoError(t, err)
		result <- m.Zap(childPid)
		_, _, _ = m.Join()
		return 0
	}
	bootWithInit(m, initEntry)

	waitHalt(t, halted)
	require.NoError(t, <-result)
}

func TestZapRejectsSelfAndUnknownPid(t *testing.T) {
	m, halted := newBootHarness(t)
	type errs struct{ self, unknown error }
	result := make(chan errs, 1)

	initEntry := func(arg string) int {
		result <- errs{
			self:    m.Zap(m.Current()),
			unknown: m.Zap(999999),
		}
		return 0
	}
	bootWithInit(m, initEntry)

	waitHalt(t, halted)
	got := <-result
	require.ErrorIs(t, got.self, ErrSelf)
	require.ErrorIs(t, got.unknown, ErrUnknownPid)
}

// TestCheckpointAppliesPendingPreemption exercises spec §4.1/§5's time_slice
// contract directly: clockTick only rotates the ready queue and marks the
// pending preemption (it runs on hwsim's own ticker goroutine, not as the
// current process), and Checkpoint is what actually redispatches. A
// same-priority sibling forked after init only gets to run once clockTick
// has fired and Checkpoint has been called — without it, it would never be
// picked over init, which never blocks or quits on its own.
func TestCheckpointAppliesPendingPreemption(t *testing.T) {
	halted := make(chan haltRecord, 1)
	onHalt := func(code int, reason string) {
		halted <- haltRecord{code, reason}
		runtime.Goexit()
	}
	clk := &fakeClock{}
	machine := hwsim.NewMachine(clk, nopLogger{}, onHalt, nil)
	m := NewManager(machine, nopLogger{}, nil)
	ran := make(chan struct{}, 1)

	initEntry := func(arg string) int {
		_, err := m.Fork(ForkSpec{
			Name:      "sibling",
			Entry:     func(arg string) int { ran <- struct{}{}; return 0 },
			StackSize: constants.MinStack,
			Priority:  constants.PriorityLowestUser,
		})
		require.NoError(t, err)

		select {
		case <-ran:
			t.Error("sibling ran before any clock tick fired a pending preemption")
		default:
		}

		clk.us += constants.TimeSliceMicros // past budget, as of the next tick
		m.clockTick()                       // simulates the installed CLOCK handler firing
		m.Checkpoint()                      // the kernel-entry point that applies it

		select {
		case <-ran:
		default:
			t.Error("sibling never ran: Checkpoint did not apply the pending preemption")
		}
		_, _, _ = m.Join()
		return 0
	}
	bootWithInit(m, initEntry)
	waitHalt(t, halted)
}

func TestUnblockProcRejectsNonBlockedTarget(t *testing.T) {
	m, halted := newBootHarness(t)
	result := make(chan error, 1)

	initEntry := func(arg string) int {
		childPid, err := m.Fork(ForkSpec{
			Name:      "child",
			Entry:     func(arg string) int { m.BlockMe(20); return 0 },
			StackSize: constants.MinStack,
			Priority:  4,
		})
		require.NoError(t, err)
		// child is blocked; unblock it once (ok), then again (not blocked anymore)
		require.NoError(t, m.UnblockProc(childPid))
		result <- m.UnblockProc(childPid)
		_, _, _ = m.Join()
		return 0
	}
	bootWithInit(m, initEntry)

	waitHalt(t, halted)
	require.ErrorIs(t, <-result, ErrNotBlocked)
}
