package driver

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jarrett00/gokernel/internal/constants"
	"github.com/jarrett00/gokernel/internal/hwsim"
	"github.com/jarrett00/gokernel/internal/mailbox"
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

// fakeMedium is a byte-slice backed interfaces.DiskMedium sized to the
// default geometry (16 tracks x 16 sectors x 512 bytes), standing in for
// backend.Memory.
type fakeMedium struct {
	mu   sync.Mutex
	data []byte
}

func newFakeMedium() *fakeMedium {
	size := constants.DiskDefaultTracks * constants.DiskSectorsPerTrack * constants.DiskSectorSize
	return &fakeMedium{data: make([]byte, size)}
}

func (f *fakeMedium) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copy(p, f.data[off:]), nil
}

func (f *fakeMedium) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copy(f.data[off:], p), nil
}

func (f *fakeMedium) Size() int64  { return int64(len(f.data)) }
func (f *fakeMedium) Close() error { return nil }

type harness struct {
	clock   *fakeClock
	machine *hwsim.Machine
	procs   *procmgr.Manager
	boxes   *mailbox.Manager
}

func newHarness(t *testing.T) (*harness, chan haltRecord) {
	t.Helper()
	halted := make(chan haltRecord, 1)
	onHalt := func(code int, reason string) {
		halted <- haltRecord{code, reason}
		runtime.Goexit()
	}
	clk := &fakeClock{}
	machine := hwsim.NewMachine(clk, nopLogger{}, onHalt, nil)
	procs := procmgr.NewManager(machine, nopLogger{}, nil)
	boxes := mailbox.NewManager(procs, machine, nopLogger{}, nil)
	return &harness{clock: clk, machine: machine, procs: procs, boxes: boxes}, halted
}

// boot runs initEntry as init under a sentinel that halts(0) once no
// children remain, the same deadlock-detection idiom procmgr's own tests use.
func (h *harness) boot(initEntry procmgr.EntryFunc) {
	sentinelEntry := func(arg string) int {
		for {
			if _, _, err := h.procs.Join(); err != nil {
				h.machine.Halt(0, "sentinel: no children, system idle")
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

func TestSleepRejectsNegativeSeconds(t *testing.T) {
	h, _ := newHarness(t)
	clk, err := NewClockDriver(h.procs, h.boxes, h.machine)
	require.NoError(t, err)
	require.ErrorIs(t, clk.Sleep(-1), errNegativeSeconds)
}

// TestSleepWakesInAscendingWakeTimeOrder mirrors spec §8's sleep seed
// scenario: sleep(3), sleep(1), sleep(2) issued simultaneously wake in
// 1, 2, 3 order. wakeDue is driven directly off the fake clock instead of
// the real ticker, since it's the same function the tick-driven service
// loop calls once a tick's cond_send reaches it.
func TestSleepWakesInAscendingWakeTimeOrder(t *testing.T) {
	h, halted := newHarness(t)
	clk, err := NewClockDriver(h.procs, h.boxes, h.machine)
	require.NoError(t, err)
	woke := make(chan int, 3)

	initEntry := func(arg string) int {
		spawnSleeper := func(seconds int) {
			_, err := h.procs.Fork(procmgr.ForkSpec{
				Name: "sleeper",
				Entry: func(arg string) int {
					require.NoError(t, clk.Sleep(seconds))
					woke <- seconds
					return 0
				},
				StackSize: constants.MinStack,
				Priority:  3,
			})
			require.NoError(t, err)
		}
		spawnSleeper(3)
		spawnSleeper(1)
		spawnSleeper(2)

		h.clock.us += 3_000_000 // jump 3s ahead; all three are now due
		clk.wakeDue()

		for i := 0; i < 3; i++ {
			_, _, _ = h.procs.Join()
		}
		return 0
	}
	h.boot(initEntry)
	waitHalt(t, halted)
	close(woke)

	var got []int
	for v := range woke {
		got = append(got, v)
	}
	require.Equal(t, []int{1, 2, 3}, got)
}

// TestDiskRequestQueueServicesAscendingTrackOrder exercises
// insertSortedLocked/popNextLocked directly against spec §8 scenario 6:
// a read for track 8 is dequeued and in-flight before reads for tracks 5
// and 2 are submitted (5 first, then 2); the remaining two are then
// serviced smallest-track-first, giving the overall order 8, 2, 5.
func TestDiskRequestQueueServicesAscendingTrackOrder(t *testing.T) {
	d := &DiskDriver{}
	d.insertSortedLocked(&diskRequest{track: 8})

	req := d.popNextLocked() // dequeued for service before 2 and 5 ever arrive
	require.Equal(t, 8, req.track)

	d.insertSortedLocked(&diskRequest{track: 5})
	d.insertSortedLocked(&diskRequest{track: 2})

	req = d.popNextLocked()
	require.Equal(t, 2, req.track, "smallest pending track is always serviced next, regardless of the track just serviced")

	req = d.popNextLocked()
	require.Equal(t, 5, req.track)

	require.Nil(t, d.popNextLocked())
}

// TestDiskRequestQueueIgnoresLastServicedTrack is the counter-example a
// head-aware elevator gets wrong: with pending requests for tracks 3 and 20
// both queued at once, the smallest pending track (3) is always serviced
// first, never the one "ahead" of whatever was serviced last.
func TestDiskRequestQueueIgnoresLastServicedTrack(t *testing.T) {
	d := &DiskDriver{}
	d.insertSortedLocked(&diskRequest{track: 20})
	d.insertSortedLocked(&diskRequest{track: 3})

	req := d.popNextLocked()
	require.Equal(t, 3, req.track)

	req = d.popNextLocked()
	require.Equal(t, 20, req.track)
}

func TestDiskValidateRejectsOutOfRangeTrackAndSector(t *testing.T) {
	d := &DiskDriver{tracks: constants.DiskDefaultTracks}
	require.ErrorIs(t, d.validate(-1, 0), ErrBadTrack)
	require.ErrorIs(t, d.validate(constants.DiskDefaultTracks, 0), ErrBadTrack)
	require.ErrorIs(t, d.validate(0, -1), ErrBadSector)
	require.ErrorIs(t, d.validate(0, constants.DiskSectorsPerTrack), ErrBadSector)
	require.NoError(t, d.validate(0, 0))
}

// TestDiskReadRoundTrip exercises spec §4.5's disk_read end to end: driver
// process, device mailbox, and hwsim.DeviceOutput plus the interrupt-to-
// mailbox bridge all wired together the way backend.go's New does.
func TestDiskReadRoundTrip(t *testing.T) {
	h, halted := newHarness(t)
	medium := newFakeMedium()
	copy(medium.data[3*constants.DiskSectorsPerTrack*constants.DiskSectorSize:], []byte("hello from track 3"))

	disk, err := NewDiskDriver(0, medium, h.procs, h.boxes, h.machine, nil)
	require.NoError(t, err)

	// Wires the interrupt top half that bridges DeviceOutput's completion
	// into the driver's device mailbox, the same as backend.go's New does.
	dummyClockMbox, err := h.boxes.Create(0, 4)
	require.NoError(t, err)
	h.boxes.InstallStandardHandlers(h.machine, dummyClockMbox, []int{disk.MailboxID()})

	result := make(chan struct {
		n   int
		err error
		buf string
	}, 1)

	initEntry := func(arg string) int {
		driverPid, err := h.procs.Fork(procmgr.ForkSpec{
			Name:      "disk-driver",
			Entry:     disk.Run,
			StackSize: constants.MinStack,
			Priority:  2,
		})
		require.NoError(t, err)
		disk.SetDriverPid(driverPid)

		buf := make([]byte, 18)
		n, err := disk.Read(3, 0, buf)
		result <- struct {
			n   int
			err error
			buf string
		}{n, err, string(buf)}

		h.procs.Terminate(0) // zaps the still-idle disk-driver process
		return 0
	}
	h.boot(initEntry)
	waitHalt(t, halted)

	got := <-result
	require.NoError(t, got.err)
	require.GreaterOrEqual(t, got.n, 0)
	require.Equal(t, "hello from track 3", got.buf)
}
