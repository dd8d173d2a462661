package gokernel

import "github.com/jarrett00/gokernel/internal/constants"

// Re-exported constants for embedders who want them without importing
// internal/constants directly (Config.withDefaults uses these same values).
const (
	MaxProc       = constants.MaxProc
	MaxMbox       = constants.MaxMbox
	MaxSlots      = constants.MaxSlots
	MaxMessage    = constants.MaxMessage
	MaxSyscalls   = constants.MaxSyscalls
	MaxSemaphores = constants.MaxSemaphores

	MinStack           = constants.MinStack
	PriorityHighest    = constants.PriorityHighest
	PriorityLowestUser = constants.PriorityLowestUser
	PrioritySentinel   = constants.PrioritySentinel
	SentinelPID        = constants.SentinelPID
	TimeSliceMicros    = constants.TimeSliceMicros

	DiskUnits           = constants.DiskUnits
	DiskSectorSize      = constants.DiskSectorSize
	DiskSectorsPerTrack = constants.DiskSectorsPerTrack
	DiskDefaultTracks   = constants.DiskDefaultTracks
)
