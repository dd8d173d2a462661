package mailbox

import (
	"runtime"
	"testing"
	"time"

	"github.com/jarrett00/gokernel/internal/constants"
	"github.com/jarrett00/gokernel/internal/hwsim"
	"github.com/jarrett00/gokernel/internal/procmgr"
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

// harness wires a procmgr.Manager and a mailbox.Manager the way backend.go
// does, with halts captured on a channel instead of exiting the process.
type harness struct {
	procs *procmgr.Manager
	boxes *Manager
}

func newHarness(t *testing.T) (*harness, chan haltRecord) {
	t.Helper()
	halted := make(chan haltRecord, 1)
	onHalt := func(code int, reason string) {
		halted <- haltRecord{code, reason}
		runtime.Goexit()
	}
	machine := hwsim.NewMachine(&fakeClock{}, nopLogger{}, onHalt, nil)
	procs := procmgr.NewManager(machine, nopLogger{}, nil)
	boxes := NewManager(procs, machine, nopLogger{}, nil)
	return &harness{procs: procs, boxes: boxes}, halted
}

// boot runs initEntry as init under a sentinel that halts(0) once no
// children remain, mirroring spec §8's deadlock-detection invariant.
func (h *harness) boot(initEntry procmgr.EntryFunc) {
	sentinelEntry := func(arg string) int {
		for {
			if _, _, err := h.procs.Join(); err != nil {
				h.boxes.machine.Halt(0, "sentinel: no children, system idle")
				return 0
			}
		}
	}
	go func() {
		_, _, _ = h.procs.Boot(
			procmgr.ForkSpec{Name: "sentinel", Entry: sentinelEntry, StackSize: constants.MinStack, Priority: constants.PrioritySentinel},
			procmgr.ForkSpec{Name: "init", Entry: initEntry, StackSize: constants.MinStack, Priority: constants.PriorityLowestUser},
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

func TestCreateValidatesArgs(t *testing.T) {
	h, _ := newHarness(t)
	_, err := h.boxes.Create(-1, 4)
	require.ErrorIs(t, err, ErrInvalidArg)

	_, err = h.boxes.Create(1, constants.MaxMessage+1)
	require.ErrorIs(t, err, ErrInvalidArg)
}

// TestSendReceiveRoundTrip exercises spec §8's round-trip invariant and
// mirrors the mailbox(1,4) seed scenario (cmd/kernel's scenarioMailboxRoundTrip).
func TestSendReceiveRoundTrip(t *testing.T) {
	h, halted := newHarness(t)
	result := make(chan struct {
		n   int
		err error
		buf string
	}, 1)

	initEntry := func(arg string) int {
		id, err := h.boxes.Create(1, 4)
		require.NoError(t, err)
		n, err := h.boxes.Send(id, []byte("ABCD"), 4)
		require.NoError(t, err)
		require.Equal(t, 0, n)

		buf := make([]byte, 4)
		n, err = h.boxes.Receive(id, buf, 4)
		result <- struct {
			n   int
			err error
			buf string
		}{n, err, string(buf)}
		return 0
	}
	h.boot(initEntry)
	waitHalt(t, halted)

	got := <-result
	require.NoError(t, got.err)
	require.Equal(t, 4, got.n)
	require.Equal(t, "ABCD", got.buf)
}

// TestZeroSlotRendezvous mirrors the zero-slot rendezvous seed scenario:
// create(0,0) forces every send to block until a receiver is waiting.
func TestZeroSlotRendezvous(t *testing.T) {
	h, halted := newHarness(t)
	recvResult := make(chan int, 1)
	sendResult := make(chan int, 1)

	initEntry := func(arg string) int {
		id, err := h.boxes.Create(0, 0)
		require.NoError(t, err)

		_, err = h.procs.Fork(procmgr.ForkSpec{
			Name: "receiver",
			Entry: func(arg string) int {
				n, err := h.boxes.Receive(id, nil, 0)
				require.NoError(t, err)
				recvResult <- n
				return 0
			},
			StackSize: constants.MinStack,
			Priority:  3,
		})
		require.NoError(t, err)

		n, err := h.boxes.Send(id, nil, 0)
		require.NoError(t, err)
		sendResult <- n
		_, _, _ = h.procs.Join()
		return 0
	}
	h.boot(initEntry)
	waitHalt(t, halted)

	require.Equal(t, 0, <-recvResult)
	require.Equal(t, 0, <-sendResult)
}

// TestCapacityPressureFIFO mirrors the mailbox(1,1) capacity-pressure seed
// scenario: a second sender blocks until the first message is drained, and
// messages are delivered in send order.
func TestCapacityPressureFIFO(t *testing.T) {
	h, halted := newHarness(t)
	order := make(chan string, 2)

	initEntry := func(arg string) int {
		id, err := h.boxes.Create(1, 1)
		require.NoError(t, err)

		_, err = h.boxes.Send(id, []byte("X"), 1)
		require.NoError(t, err)

		_, err = h.procs.Fork(procmgr.ForkSpec{
			Name: "sender-b",
			Entry: func(arg string) int {
				_, err := h.boxes.Send(id, []byte("Y"), 1)
				require.NoError(t, err)
				return 0
			},
			StackSize: constants.MinStack,
			Priority:  3,
		})
		require.NoError(t, err)

		buf := make([]byte, 1)
		for i := 0; i < 2; i++ {
			n, err := h.boxes.Receive(id, buf, 1)
			require.NoError(t, err)
			require.Equal(t, 1, n)
			order <- string(buf)
		}
		_, _, _ = h.procs.Join()
		return 0
	}
	h.boot(initEntry)
	waitHalt(t, halted)
	close(order)

	var got []string
	for v := range order {
		got = append(got, v)
	}
	require.Equal(t, []string{"X", "Y"}, got)
}

// TestSlotPoolOccupiedConservation checks spec §8's conservation invariant:
// pool usage equals the sum of each mailbox's occupied counter.
func TestSlotPoolOccupiedConservation(t *testing.T) {
	h, halted := newHarness(t)
	result := make(chan int, 1)

	initEntry := func(arg string) int {
		idA, err := h.boxes.Create(2, 4)
		require.NoError(t, err)
		idB, err := h.boxes.Create(2, 4)
		require.NoError(t, err)

		_, err = h.boxes.Send(idA, []byte("hi"), 2)
		require.NoError(t, err)
		_, err = h.boxes.Send(idB, []byte("yo"), 2)
		require.NoError(t, err)
		_, err = h.boxes.Send(idB, []byte("yo"), 2)
		require.NoError(t, err)

		result <- h.boxes.SlotPoolOccupied()
		return 0
	}
	h.boot(initEntry)
	waitHalt(t, halted)
	require.Equal(t, 3, <-result)
}

func TestReleaseIsIdempotent(t *testing.T) {
	h, halted := newHarness(t)
	result := make(chan [2]error, 1)

	initEntry := func(arg string) int {
		id, err := h.boxes.Create(1, 4)
		require.NoError(t, err)
		first := h.boxes.Release(id)
		second := h.boxes.Release(id)
		result <- [2]error{first, second}
		return 0
	}
	h.boot(initEntry)
	waitHalt(t, halted)

	got := <-result
	require.NoError(t, got[0])
	require.ErrorIs(t, got[1], ErrUnknownMailbox)
}

// TestReleaseWakesBlockedReceiver exercises release's wake-up contract for a
// receiver parked with nothing to deliver: it is marked zapped before being
// unblocked and observes ErrZapped.
func TestReleaseWakesBlockedReceiver(t *testing.T) {
	h, halted := newHarness(t)
	recvErr := make(chan error, 1)

	initEntry := func(arg string) int {
		id, err := h.boxes.Create(0, 0) // nobody ever sends, so receive only blocks
		require.NoError(t, err)

		_, err = h.procs.Fork(procmgr.ForkSpec{
			Name: "receiver",
			Entry: func(arg string) int {
				_, err := h.boxes.Receive(id, nil, 0)
				recvErr <- err
				return 0
			},
			StackSize: constants.MinStack,
			Priority:  3,
		})
		require.NoError(t, err)

		require.NoError(t, h.boxes.Release(id))
		_, _, _ = h.procs.Join()
		return 0
	}
	h.boot(initEntry)
	waitHalt(t, halted)

	require.ErrorIs(t, <-recvErr, ErrZapped)
}

// TestReleaseWakesBlockedSender exercises release's wake-up contract for a
// sender blocked purely on capacity: it is unblocked (not zapped) and finds
// the mailbox gone on its next pass through the loop.
func TestReleaseWakesBlockedSender(t *testing.T) {
	h, halted := newHarness(t)
	sendErr := make(chan error, 1)

	initEntry := func(arg string) int {
		id, err := h.boxes.Create(1, 1)
		require.NoError(t, err)
		_, err = h.boxes.Send(id, []byte("X"), 1) // fills the one slot
		require.NoError(t, err)

		_, err = h.procs.Fork(procmgr.ForkSpec{
			Name: "sender-b",
			Entry: func(arg string) int {
				_, err := h.boxes.Send(id, []byte("Y"), 1) // blocks: no room, no waiting receiver
				sendErr <- err
				return 0
			},
			StackSize: constants.MinStack,
			Priority:  3,
		})
		require.NoError(t, err)

		require.NoError(t, h.boxes.Release(id))
		_, _, _ = h.procs.Join()
		return 0
	}
	h.boot(initEntry)
	waitHalt(t, halted)

	require.ErrorIs(t, <-sendErr, ErrUnknownMailbox)
}

func TestCondSendReturnsWouldBlockInsteadOfBlocking(t *testing.T) {
	h, halted := newHarness(t)
	result := make(chan error, 1)

	initEntry := func(arg string) int {
		id, err := h.boxes.Create(0, 0)
		require.NoError(t, err)
		_, err = h.boxes.CondSend(id, nil, 0)
		result <- err
		return 0
	}
	h.boot(initEntry)
	waitHalt(t, halted)
	require.ErrorIs(t, <-result, ErrWouldBlock)
}
