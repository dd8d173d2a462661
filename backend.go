// Package gokernel provides the main API for embedding the teaching
// kernel: constructing its layers (L0 process manager, L1 mailboxes, L2a
// syscalls/semaphores, L2b clock/disk drivers), booting them, and
// observing the result.
package gokernel

import (
	"fmt"

	"github.com/jarrett00/gokernel/backend"
	"github.com/jarrett00/gokernel/internal/constants"
	"github.com/jarrett00/gokernel/internal/driver"
	"github.com/jarrett00/gokernel/internal/hwsim"
	"github.com/jarrett00/gokernel/internal/interfaces"
	"github.com/jarrett00/gokernel/internal/logging"
	"github.com/jarrett00/gokernel/internal/mailbox"
	"github.com/jarrett00/gokernel/internal/procmgr"
	"github.com/jarrett00/gokernel/internal/usyscall"
)

// Config configures a Kernel instance. Every field is optional; New fills
// in the same defaults cmd/kernel uses for an unconfigured run.
type Config struct {
	// DiskUnits is the number of disk drivers to construct (spec §6's
	// DISK_UNITS). Defaults to constants.DiskUnits.
	DiskUnits int

	// DiskSize is the backing-medium size, in bytes, for each disk unit.
	// Defaults to one DiskDefaultTracks-sized unit.
	DiskSize int64

	// Logger receives kernel log output. Defaults to logging.Default().
	Logger interfaces.Logger

	// Observer receives kernel events for metrics collection. Defaults to
	// a fresh *Metrics instance, reachable afterward via Kernel.Metrics().
	Observer interfaces.Observer

	// Clock backs sys_clock(). Defaults to hwsim.NewRealClock(). Tests
	// supply a *FakeClock for deterministic sleep/time-slice behavior.
	Clock interfaces.Clock

	// OnHalt overrides hwsim.Machine's halt behavior (default: log and
	// os.Exit). Tests supply a stub that records the call and
	// runtime.Goexit()s the calling goroutine instead.
	OnHalt hwsim.HaltFunc
}

func (c Config) withDefaults() Config {
	if c.DiskUnits <= 0 {
		c.DiskUnits = constants.DiskUnits
	}
	if c.DiskSize <= 0 {
		c.DiskSize = int64(constants.DiskDefaultTracks * constants.DiskSectorsPerTrack * constants.DiskSectorSize)
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.Clock == nil {
		c.Clock = hwsim.NewRealClock()
	}
	return c
}

// Kernel bundles every layer of the teaching kernel (spec §4's L0..L2b)
// plus the metrics/logging it was constructed with.
type Kernel struct {
	Machine   *hwsim.Machine
	Procs     *procmgr.Manager
	Mailboxes *mailbox.Manager
	Syscalls  *usyscall.Manager
	Clock     *driver.ClockDriver
	Disks     []*driver.DiskDriver

	metrics *Metrics
	logger  interfaces.Logger
}

// New constructs every kernel layer and wires the device interrupt bridge
// (spec §4.2), but does not yet fork any process or start the simulated
// clock — that's Boot's job, once a caller has a workload ready to hand
// init.
func New(cfg Config) (*Kernel, error) {
	cfg = cfg.withDefaults()

	var observer interfaces.Observer
	var metrics *Metrics
	if cfg.Observer != nil {
		observer = cfg.Observer
	} else {
		metrics = NewMetrics()
		observer = metrics
	}

	machine := hwsim.NewMachine(cfg.Clock, cfg.Logger, cfg.OnHalt, observer)
	procs := procmgr.NewManager(machine, cfg.Logger, observer)
	mboxes := mailbox.NewManager(procs, machine, cfg.Logger, observer)

	clockDrv, err := driver.NewClockDriver(procs, mboxes, machine)
	if err != nil {
		return nil, fmt.Errorf("gokernel: failed to create clock driver: %w", err)
	}

	disks := make([]*driver.DiskDriver, cfg.DiskUnits)
	diskMboxIDs := make([]int, cfg.DiskUnits)
	for i := 0; i < cfg.DiskUnits; i++ {
		medium := backend.NewMemory(cfg.DiskSize)
		d, err := driver.NewDiskDriver(i, medium, procs, mboxes, machine, observer)
		if err != nil {
			return nil, fmt.Errorf("gokernel: failed to create disk driver %d: %w", i, err)
		}
		disks[i] = d
		diskMboxIDs[i] = d.MailboxID()
	}

	mboxes.InstallStandardHandlers(machine, clockDrv.MailboxID(), diskMboxIDs)
	syscalls := usyscall.NewManager(procs, machine, cfg.Logger, observer)

	return &Kernel{
		Machine:   machine,
		Procs:     procs,
		Mailboxes: mboxes,
		Syscalls:  syscalls,
		Clock:     clockDrv,
		Disks:     disks,
		metrics:   metrics,
		logger:    cfg.Logger,
	}, nil
}

// Boot hands off to procmgr.Manager.Boot with sentinel as the root process
// and init as its child (spec §4.1's startup). init then forks the driver
// service-loop processes as its own children, waits until each has started,
// and starts the simulated clock. The
// sentinel loops joining until it sees "no children" and halts the system
// with code 0 (spec §8's deadlock-detection invariant); workload runs as
// init's body once the drivers are live and the clock is ticking — the
// natural place for a caller to usyscall.Manager.Spawn its own demo
// processes. Once workload returns, init calls terminate(code) (spec
// §4.3): zapping the drivers (and any workload child left running) wakes
// them out of their idle block_me, letting them quit, which is what lets
// the sentinel's join loop ever actually observe "no children" instead of
// blocking forever.
func (k *Kernel) Boot(workload procmgr.EntryFunc) (sentinelPid, initPid int, err error) {
	sentinelEntry := func(arg string) int {
		for {
			if _, _, joinErr := k.Procs.Join(); joinErr != nil {
				k.Machine.Halt(0, "sentinel: no children, system idle")
				return 0
			}
		}
	}

	initEntry := func(arg string) int {
		// running is driverManager.c's start3 boot-readiness semaphore: every
		// driver Vs it once its service loop actually begins running, and
		// init Ps it once per driver before starting the clock or handing
		// control to the workload, so boot never races ahead of a driver
		// that hasn't begun receiving on its device mailbox yet.
		running, serr := k.Syscalls.SemCreate(0)
		if serr != nil {
			k.Machine.Halt(1, "boot: failed to create driver-readiness semaphore: "+serr.Error())
			return 1
		}
		driverCount := 0

		clockEntry := func(a string) int {
			_ = k.Syscalls.SemV(running)
			return k.Clock.Run(a)
		}
		if _, ferr := k.Procs.Fork(procmgr.ForkSpec{
			Name:      "clock_driver",
			Entry:     clockEntry,
			Arg:       "",
			StackSize: constants.MinStack,
			Priority:  2,
		}); ferr != nil {
			k.Machine.Halt(1, "boot: failed to fork clock driver: "+ferr.Error())
			return 1
		}
		driverCount++

		for i, d := range k.Disks {
			diskEntry := func(a string) int {
				_ = k.Syscalls.SemV(running)
				return d.Run(a)
			}
			pid, ferr := k.Procs.Fork(procmgr.ForkSpec{
				Name:      fmt.Sprintf("disk_driver_%d", i),
				Entry:     diskEntry,
				Arg:       "",
				StackSize: constants.MinStack,
				Priority:  constants.PriorityHighest,
			})
			if ferr != nil {
				k.Machine.Halt(1, "boot: failed to fork disk driver: "+ferr.Error())
				return 1
			}
			d.SetDriverPid(pid)
			driverCount++
		}

		for i := 0; i < driverCount; i++ {
			_ = k.Syscalls.SemP(running)
		}
		_ = k.Syscalls.SemFree(running)

		k.Machine.StartClock()
		code := workload(arg)
		k.Procs.Terminate(code)
		return code
	}

	return k.Procs.Boot(
		procmgr.ForkSpec{Name: "sentinel", Entry: sentinelEntry, Arg: "", StackSize: constants.MinStack, Priority: constants.PrioritySentinel},
		procmgr.ForkSpec{Name: "init", Entry: initEntry, Arg: "", StackSize: constants.MinStack, Priority: constants.PriorityLowestUser},
	)
}

// Shutdown stops the simulated clock and marks metrics as stopped. It does
// not halt the machine: a caller that wants to force a halt calls
// k.Machine.Halt directly.
func (k *Kernel) Shutdown() {
	k.Machine.StopClock()
	if k.metrics != nil {
		k.metrics.Stop()
	}
}

// Metrics returns the Kernel's built-in metrics collector, or nil if the
// caller supplied its own Observer in Config.
func (k *Kernel) Metrics() *Metrics {
	return k.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of the kernel's metrics,
// or the zero value if the caller supplied its own Observer.
func (k *Kernel) MetricsSnapshot() MetricsSnapshot {
	if k.metrics == nil {
		return MetricsSnapshot{}
	}
	return k.metrics.Snapshot()
}
