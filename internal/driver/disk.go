package driver

import (
	"sync"
	"time"

	"github.com/jarrett00/gokernel/internal/abi"
	"github.com/jarrett00/gokernel/internal/constants"
	"github.com/jarrett00/gokernel/internal/hwsim"
	"github.com/jarrett00/gokernel/internal/interfaces"
	"github.com/jarrett00/gokernel/internal/mailbox"
	"github.com/jarrett00/gokernel/internal/procmgr"
)

const statusBlockedDiskIO = 15

type diskRequest struct {
	pid    int
	write  bool
	track  int
	sector int
	data   []byte // write source, or read destination
	result int
	err    error
}

// DiskDriver implements disk_read/disk_write/disk_size (spec §4.5) for one
// unit: a request queue kept sorted ascending by starting track (Open
// Question 1: per-unit, never a shared global cursor), always servicing the
// smallest pending track next — the literal "insert by ascending track,
// always process the head" algorithm spec §4.5 and
// original_source/CustomOS/driverManager.c describe, not a head-aware
// elevator sweep. Its own "next" linkage is entirely separate from the
// clock driver's sleep queue (Open Question 2: structurally impossible to
// cross-link, since each driver owns a private slice, not a shared arena).
type DiskDriver struct {
	mu            sync.Mutex
	unit          int
	tracks        int
	queue         []*diskRequest
	driverPid     int
	driverWaiting bool

	procs    *procmgr.Manager
	mboxes   *mailbox.Manager
	machine  *hwsim.Machine
	medium   interfaces.DiskMedium
	observer interfaces.Observer
	mboxID   int
}

// blockedDriverIdle is the driver process's own BLOCKED(k) reason while its
// request queue is empty, distinct from statusBlockedDiskIO (which a
// requester blocks under while waiting for the driver to finish its work).
const blockedDriverIdle = 16

// NewDiskDriver creates the driver, its kernel-owned zero-slot device
// mailbox, and queries the unit's real geometry from the backing medium
// (Open Question 3: disk_read/disk_write validate against this, never a
// hardcoded constant).
func NewDiskDriver(unit int, medium interfaces.DiskMedium, procs *procmgr.Manager, mboxes *mailbox.Manager, machine *hwsim.Machine, observer interfaces.Observer) (*DiskDriver, error) {
	mboxID, err := mboxes.Create(0, 4)
	if err != nil {
		return nil, err
	}
	tracks := int(medium.Size() / (constants.DiskSectorSize * constants.DiskSectorsPerTrack))
	if tracks <= 0 {
		tracks = constants.DiskDefaultTracks
	}
	return &DiskDriver{
		unit:     unit,
		tracks:   tracks,
		procs:    procs,
		mboxes:   mboxes,
		machine:  machine,
		medium:   medium,
		observer: observer,
		mboxID:   mboxID,
	}, nil
}

func (d *DiskDriver) MailboxID() int { return d.mboxID }

// SetDriverPid records the pid of the kernel process running Run, forked
// at Boot. Needed because the driver object exists (and can accept
// submit() calls) before the fork that gives it a pid.
func (d *DiskDriver) SetDriverPid(pid int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.driverPid = pid
}

// Run is the driver's service loop entry point, forked as a kernel process
// at Boot. It services its request queue in C-SCAN order for as long as the
// machine runs, and quits cleanly once terminate(code) (spec §4.3) zaps it
// while idle — the only way this loop ever returns, letting the sentinel's
// join loop eventually see "no children".
func (d *DiskDriver) Run(arg string) int {
	for {
		d.mu.Lock()
		req := d.popNextLocked()
		if req == nil {
			d.driverWaiting = true
			d.mu.Unlock()
			d.procs.BlockMe(blockedDriverIdle)
			if d.procs.IsZapped() {
				d.procs.Quit(0)
			}
			continue
		}
		d.mu.Unlock()
		d.service(req)
	}
}

func (d *DiskDriver) service(req *diskRequest) {
	start := time.Now()
	offset := int64(req.track*constants.DiskSectorsPerTrack+req.sector) * constants.DiskSectorSize
	op := abi.OpRead
	opName := "read"
	if req.write {
		op = abi.OpWrite
		opName = "write"
	}
	perform := func() int {
		var n int
		var err error
		if req.write {
			n, err = d.medium.WriteAt(req.data, offset)
		} else {
			n, err = d.medium.ReadAt(req.data, offset)
		}
		if err != nil {
			req.err = err
			return -1
		}
		return n
	}
	d.machine.DeviceOutput(hwsim.DevDisk, d.unit, abi.DeviceRequest{Operation: op, Register1: int64(req.track)}, perform)

	statusBuf := make([]byte, 4)
	_, _ = d.mboxes.Receive(d.mboxID, statusBuf, 4)
	status := mailbox.DecodeStatus(statusBuf)

	req.result = status
	if d.observer != nil {
		if status < 0 || req.err != nil {
			opName += "_error"
		}
		d.observer.ObserveDiskOp(d.unit, opName, time.Since(start))
	}
	_ = d.procs.UnblockProc(req.pid)
}

// Size implements disk_size(unit) → (tracks, sectors_per_track).
func (d *DiskDriver) Size() (tracks, sectorsPerTrack int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracks, constants.DiskSectorsPerTrack
}

func (d *DiskDriver) validate(track, sector int) error {
	d.mu.Lock()
	tracks := d.tracks
	d.mu.Unlock()
	if track < 0 || track >= tracks {
		return ErrBadTrack
	}
	if sector < 0 || sector >= constants.DiskSectorsPerTrack {
		return ErrBadSector
	}
	return nil
}

// Read implements disk_read(unit, track, sector, buf).
func (d *DiskDriver) Read(track, sector int, buf []byte) (int, error) {
	if err := d.validate(track, sector); err != nil {
		return -1, err
	}
	req := &diskRequest{pid: d.procs.Current(), write: false, track: track, sector: sector, data: buf}
	return d.submit(req)
}

// Write implements disk_write(unit, track, sector, buf).
func (d *DiskDriver) Write(track, sector int, buf []byte) (int, error) {
	if err := d.validate(track, sector); err != nil {
		return -1, err
	}
	req := &diskRequest{pid: d.procs.Current(), write: true, track: track, sector: sector, data: buf}
	return d.submit(req)
}

func (d *DiskDriver) submit(req *diskRequest) (int, error) {
	d.mu.Lock()
	d.insertSortedLocked(req)
	wake := d.driverWaiting
	d.driverWaiting = false
	driverPid := d.driverPid
	d.mu.Unlock()
	if wake {
		_ = d.procs.UnblockProc(driverPid)
	}
	d.procs.BlockMe(statusBlockedDiskIO)
	if d.procs.IsZapped() {
		return -1, ErrZappedIO
	}
	return req.result, req.err
}

// insertSortedLocked inserts req keeping d.queue sorted ascending by track,
// after any existing entry with an equal track. Caller must hold d.mu.
func (d *DiskDriver) insertSortedLocked(req *diskRequest) {
	idx := len(d.queue)
	for i, r := range d.queue {
		if r.track > req.track {
			idx = i
			break
		}
	}
	d.queue = append(d.queue, nil)
	copy(d.queue[idx+1:], d.queue[idx:])
	d.queue[idx] = req
}

// popNextLocked removes and returns the smallest-track pending request, or
// nil if the queue is empty. Caller must hold d.mu.
func (d *DiskDriver) popNextLocked() *diskRequest {
	if len(d.queue) == 0 {
		return nil
	}
	req := d.queue[0]
	d.queue = d.queue[1:]
	return req
}

