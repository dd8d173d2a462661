package gokernel

import (
	"runtime"
	"testing"
	"time"

	"github.com/jarrett00/gokernel/internal/constants"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.DiskUnits != constants.DiskUnits {
		t.Errorf("DiskUnits = %d, want %d", cfg.DiskUnits, constants.DiskUnits)
	}
	if cfg.DiskSize <= 0 {
		t.Errorf("DiskSize = %d, want > 0", cfg.DiskSize)
	}
	if cfg.Logger == nil {
		t.Error("Logger default is nil")
	}
	if cfg.Clock == nil {
		t.Error("Clock default is nil")
	}
}

func TestConfigWithDefaultsPreservesOverrides(t *testing.T) {
	logger := NewRecordingLogger()
	clock := NewFakeClock(100)
	cfg := Config{DiskUnits: 5, DiskSize: 1 << 20, Logger: logger, Clock: clock}.withDefaults()
	if cfg.DiskUnits != 5 {
		t.Errorf("DiskUnits = %d, want 5", cfg.DiskUnits)
	}
	if cfg.DiskSize != 1<<20 {
		t.Errorf("DiskSize = %d, want %d", cfg.DiskSize, 1<<20)
	}
	if cfg.Logger != logger {
		t.Error("Logger override was not preserved")
	}
	if cfg.Clock != clock {
		t.Error("Clock override was not preserved")
	}
}

func TestNewBuildsEveryLayer(t *testing.T) {
	k, err := New(Config{Logger: NewRecordingLogger(), Clock: NewFakeClock(0)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if k.Machine == nil || k.Procs == nil || k.Mailboxes == nil || k.Syscalls == nil || k.Clock == nil {
		t.Fatal("New left a layer nil")
	}
	if len(k.Disks) != constants.DiskUnits {
		t.Errorf("len(Disks) = %d, want %d", len(k.Disks), constants.DiskUnits)
	}
	if k.Metrics() == nil {
		t.Error("default Config should build a usable Metrics collector")
	}
}

func TestNewWithCustomDiskUnits(t *testing.T) {
	k, err := New(Config{DiskUnits: 3, Logger: NewRecordingLogger(), Clock: NewFakeClock(0)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(k.Disks) != 3 {
		t.Errorf("len(Disks) = %d, want 3", len(k.Disks))
	}
}

func TestNewWithCustomObserverSkipsMetrics(t *testing.T) {
	obs := NewRecordingObserver()
	k, err := New(Config{Observer: obs, Logger: NewRecordingLogger(), Clock: NewFakeClock(0)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if k.Metrics() != nil {
		t.Error("Metrics() should be nil when the caller supplies its own Observer")
	}
	if snap := k.MetricsSnapshot(); snap != (MetricsSnapshot{}) {
		t.Errorf("MetricsSnapshot() = %+v, want the zero value", snap)
	}
}

// TestBootHaltsCleanlyWhenWorkloadReturns exercises spec §8's
// deadlock-detection invariant end to end: a workload that does no work of
// its own still has to propagate through terminate (zap the drivers, reap
// them, quit) before the sentinel's join loop can ever observe "no
// children" and halt with code 0. Boot never returns in normal operation
// (mirrors procmgr.Manager.Boot's bootCtx parking forever), so it's run in
// its own goroutine and the test synchronizes on the halt callback instead
// of on Boot's return.
func TestBootHaltsCleanlyWhenWorkloadReturns(t *testing.T) {
	type haltCall struct {
		code   int
		reason string
	}
	halted := make(chan haltCall, 1)
	onHalt := func(code int, reason string) {
		halted <- haltCall{code, reason}
		runtime.Goexit()
	}

	k, err := New(Config{
		Logger: NewRecordingLogger(),
		Clock:  NewFakeClock(0),
		OnHalt: onHalt,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go func() {
		_, _, _ = k.Boot(func(arg string) int { return 0 })
	}()

	select {
	case h := <-halted:
		if h.code != 0 {
			t.Errorf("halt code = %d, want 0", h.code)
		}
		if h.reason == "" {
			t.Error("expected a non-empty halt reason")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("kernel never halted")
	}
}

// TestBootRunsWorkloadBeforeHalting confirms workload actually executes
// (with the drivers live and the clock ticking) before init terminates.
func TestBootRunsWorkloadBeforeHalting(t *testing.T) {
	halted := make(chan struct{}, 1)
	onHalt := func(code int, reason string) {
		halted <- struct{}{}
		runtime.Goexit()
	}

	k, err := New(Config{
		Logger: NewRecordingLogger(),
		Clock:  NewFakeClock(0),
		OnHalt: onHalt,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ran := make(chan int, 1)
	go func() {
		_, _, _ = k.Boot(func(arg string) int {
			ran <- k.Procs.Current()
			return 0
		})
	}()

	select {
	case pid := <-ran:
		if pid == 0 {
			t.Error("workload ran without a valid current pid")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("workload never ran")
	}

	select {
	case <-halted:
	case <-time.After(5 * time.Second):
		t.Fatal("kernel never halted after workload returned")
	}
}

func TestShutdownIsSafeWithoutBoot(t *testing.T) {
	k, err := New(Config{Logger: NewRecordingLogger(), Clock: NewFakeClock(0)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	k.Shutdown()
	if k.Metrics().StopTime.Load() == 0 {
		t.Error("Shutdown should stop the metrics collector")
	}
}
