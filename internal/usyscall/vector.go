// Package usyscall is L2a: the syscall trap/dispatch vector, the
// counting-semaphore service built over procmgr's BlockMe/UnblockProc, and the user-mode
// launcher (spec §4.3).
package usyscall

import (
	"github.com/jarrett00/gokernel/internal/abi"
	"github.com/jarrett00/gokernel/internal/constants"
	"github.com/jarrett00/gokernel/internal/hwsim"
	"github.com/jarrett00/gokernel/internal/procmgr"
)

// Syscall numbers. Arg1 carries the primary return value on completion;
// Arg4 carries the error code (0 = ok, negative = failure), the convention
// spec §4.3 documents for the syscall table.
const (
	SysGetPid = iota + 1
	SysGetTimeOfDay
	SysCPUTime
	SysSemCreate
	SysSemP
	SysSemV
	SysSemFree
	SysTerminate
)

// Handler is a trap-vector entry. It mutates a in place with the result.
type Handler func(a *abi.SysArgs)

// Vector is the MAX_SYSCALLS-sized dispatch table (spec §6/§4.3). An
// unregistered slot is an illegal syscall number (spec §7 kind 2, invalid
// argument) and halts the system, the same way trapping through an empty
// int_vec slot would on real hardware.
type Vector struct {
	table   [constants.MaxSyscalls]Handler
	machine *hwsim.Machine
	procs   *procmgr.Manager
}

func NewVector(machine *hwsim.Machine, procs *procmgr.Manager) *Vector {
	return &Vector{machine: machine, procs: procs}
}

func (v *Vector) Install(number int, h Handler) {
	v.table[number] = h
}

// Dispatch is the central syscall handler spec §4.3 describes: it applies
// any pending time-slice preemption (spec §4.1/§5's time_slice contract),
// since a syscall trap is the one kernel entry point every user process is
// guaranteed to pass through, then validates the call number and invokes
// the registered handler, or halts.
func (v *Vector) Dispatch(a *abi.SysArgs) {
	v.procs.Checkpoint()
	if a.Number <= 0 || int(a.Number) >= len(v.table) || v.table[a.Number] == nil {
		v.machine.Halt(1, "illegal syscall number")
		return
	}
	v.table[a.Number](a)
}
