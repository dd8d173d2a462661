package usyscall

import "github.com/jarrett00/gokernel/internal/procmgr"

// SpawnSpec bundles spawn's arguments (spec §4.3's spawn syscall, layered
// over fork).
type SpawnSpec struct {
	Name      string
	Entry     procmgr.EntryFunc
	Arg       string
	StackSize int
	Priority  int
}

// Spawn implements the spawn syscall: fork a process whose entry runs in
// user mode. launchUserMode clears the PSR's kernel-mode bit before handing
// control to the user entry point, mirroring spawn_real's use of
// context_init/USLOSS_PsrSet in the original kernel.
func (m *Manager) Spawn(spec SpawnSpec) (int, error) {
	entry := spec.Entry
	launch := func(arg string) int {
		m.launchUserMode()
		return entry(arg)
	}
	return m.procs.Fork(procmgr.ForkSpec{
		Name:      spec.Name,
		Entry:     launch,
		Arg:       spec.Arg,
		StackSize: spec.StackSize,
		Priority:  spec.Priority,
	})
}

// launchUserMode is the one-time transition out of kernel mode a freshly
// spawned process makes before running its entry point (spec §6).
func (m *Manager) launchUserMode() {
	m.machine.Psr().EnterUserMode()
}

// Wait implements the wait syscall (spec §4.3), layered directly over
// join.
func (m *Manager) Wait() (pid int, exitCode int, err error) {
	return m.procs.Join()
}

// Terminate implements the terminate syscall (spec §4.3): zap every child,
// then quit(code). Exposed as a typed method alongside the vector-installed
// SysTerminate handler, which a process reaches through the generic trap.
func (m *Manager) Terminate(code int) {
	m.procs.Terminate(code)
}

// GetPid implements the get_pid syscall.
func (m *Manager) GetPid() int { return m.procs.Current() }

// GetTimeOfDay implements the get_time_of_day syscall: microseconds since
// boot.
func (m *Manager) GetTimeOfDay() int64 { return m.machine.Clock().NowMicros() }

// CPUTime implements the cpu_time syscall for the calling process.
func (m *Manager) CPUTime() int64 { return m.procs.CPUTimeMicros(m.procs.Current()) }

// SemCreate/SemP/SemV/SemFree implement the semaphore syscalls (spec
// §4.3), delegating to the embedded semaphore service.
func (m *Manager) SemCreate(value int) (int, error) { return m.sem.SemCreate(value) }
func (m *Manager) SemP(id int) error                { return m.sem.SemP(id) }
func (m *Manager) SemV(id int) error                { return m.sem.SemV(id) }
func (m *Manager) SemFree(id int) error             { return m.sem.SemFree(id) }
