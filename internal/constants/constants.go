// Package constants holds the fixed table sizes and numeric limits that the
// rest of the kernel is written against. Keeping them in one place mirrors
// the original kernel.h/usloss.h split: every table size is load-bearing for
// the slot = id mod capacity derivation used throughout L0/L1.
package constants

import "time"

// Process table limits.
const (
	// MaxProc is the size of the process descriptor table. Slot = pid % MaxProc.
	MaxProc = 50

	// MaxName is the maximum length of a process or mailbox name.
	MaxName = 50

	// MaxArg is the maximum length of the argument string passed to a forked
	// entry point.
	MaxArg = 100

	// MinStack is the minimum stack size accepted by fork. Requests below
	// this are a programmer error (spec §7 kind 6) and halt the system.
	MinStack = 4 * 1024

	// PriorityHighest and PriorityLowestUser bound the user-assignable
	// priority range; PrioritySentinel is reserved for the sentinel process
	// alone.
	PriorityHighest    = 1
	PriorityLowestUser = 5
	PrioritySentinel   = 6

	// SentinelPID is the pid assigned to the first process created by Boot.
	SentinelPID = 1

	// TimeSliceMicros is the wall-clock budget (80ms) a process may run
	// before time_slice() rotates it to the tail of its ready queue.
	TimeSliceMicros = 80_000
)

// Mailbox / mail-slot limits.
const (
	// MaxMbox is the size of the mailbox table. Slot = id % MaxMbox.
	MaxMbox = 200

	// MaxSlots is the size of the global mail-slot pool shared by every
	// mailbox in the table.
	MaxSlots = 2000

	// MaxMessage is the maximum payload size, in bytes, of a single message.
	MaxMessage = 150
)

// Syscall vector limits.
const (
	// MaxSyscalls is the size of the trap dispatch table.
	MaxSyscalls = 50

	// MaxSemaphores is the size of the user-visible semaphore table.
	MaxSemaphores = 200
)

// Disk geometry defaults. A real unit's geometry is discovered at driver
// start-up via the TRACKS device request and may differ per unit; these are
// the defaults used by the in-process simulated hardware.
const (
	DiskUnits           = 2
	DiskSectorSize      = 512
	DiskSectorsPerTrack = 16
	DiskDefaultTracks   = 16
)

// Simulated hardware timing. There is no real device latency to hide; these
// are small enough to keep tests fast and large enough to make interleaving
// observable when logged at Debug level.
const (
	ClockTickInterval    = 20 * time.Millisecond
	DeviceSeekLatency    = 200 * time.Microsecond
	DeviceTransferLatency = 50 * time.Microsecond
)
