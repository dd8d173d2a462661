// Command kernel boots the teaching kernel with one of the spec's seed
// scenarios as its workload (spec §8's "end-to-end scenarios"), the way
// ublk-mem's main.go stands up a device and serves it until told to stop.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	gokernel "github.com/jarrett00/gokernel"
	"github.com/jarrett00/gokernel/internal/logging"
	"github.com/jarrett00/gokernel/internal/procmgr"
	"github.com/jarrett00/gokernel/internal/usyscall"
)

func main() {
	var (
		scenario  = flag.Int("scenario", 1, "seed scenario to run (1-6, see spec §8)")
		diskUnits = flag.Int("disk-units", 0, "number of disk units (0 = default)")
		verbose   = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	workload, err := scenarioByNumber(*scenario)
	if err != nil {
		log.Fatalf("gokernel: %v", err)
	}

	halted := make(chan struct{})
	haltCode := 0
	onHalt := func(code int, reason string) {
		haltCode = code
		logger.Info("machine halted", "code", code, "reason", reason)
		close(halted)
	}

	cfg := gokernel.Config{Logger: logger, OnHalt: onHalt}
	if *diskUnits > 0 {
		cfg.DiskUnits = *diskUnits
	}

	k, err := gokernel.New(cfg)
	if err != nil {
		log.Fatalf("gokernel: failed to construct kernel: %v", err)
	}
	currentKernel = k
	logger.Info("starting scenario", "number", *scenario)

	// SIGUSR1 dumps the process table to stderr, mirroring the teacher's
	// SIGUSR1-triggered goroutine stack dump.
	dumpCh := make(chan os.Signal, 1)
	signal.Notify(dumpCh, syscall.SIGUSR1)
	go func() {
		for range dumpCh {
			fmt.Fprintf(os.Stderr, "\n=== PROCESS TABLE DUMP ===\n%s=== END DUMP ===\n\n", k.Procs.DumpState())
		}
	}()

	go func() {
		if _, _, err := k.Boot(workload); err != nil {
			logger.Error("boot failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-halted:
		logger.Info("scenario completed", "exit_code", haltCode)
	case <-sigCh:
		logger.Info("received shutdown signal")
		k.Shutdown()
		select {
		case <-halted:
		case <-time.After(1 * time.Second):
			logger.Info("halt timeout, forcing exit")
		}
	}

	snap := k.MetricsSnapshot()
	logger.Info("final metrics",
		"dispatches", snap.Dispatches,
		"disk_ops", snap.DiskOps,
		"mailbox_sends", snap.MailboxSends,
		"uptime_ns", snap.UptimeNs,
	)

	os.Exit(haltCode)
}

// scenarioByNumber returns the procmgr.EntryFunc for init to run as
// workload, one per spec §8 seed scenario. Every scenario spawns its own
// processes through k's layered API rather than forking directly, the way
// a real user-mode program would reach the kernel only through syscalls.
func scenarioByNumber(n int) (procmgr.EntryFunc, error) {
	switch n {
	case 1:
		return scenarioPriorityOrder, nil
	case 2:
		return scenarioMailboxRoundTrip, nil
	case 3:
		return scenarioZeroSlotRendezvous, nil
	case 4:
		return scenarioCapacityPressure, nil
	case 5:
		return scenarioSleepOrder, nil
	case 6:
		return scenarioDiskElevator, nil
	default:
		return nil, fmt.Errorf("unknown scenario %d (valid: 1-6)", n)
	}
}

// currentKernel lets the package-level scenario funcs below reach the one
// Kernel this process boots, since procmgr.EntryFunc's signature carries
// only a string argument. cmd/kernel boots at most one kernel per process
// invocation, so a single package var is safe.
var currentKernel *gokernel.Kernel

func scenarioPriorityOrder(arg string) int {
	k := currentKernel
	order := make(chan int, 3)
	spawnPrinter := func(priority int) {
		_, _ = k.Syscalls.Spawn(usyscall.SpawnSpec{
			Name: fmt.Sprintf("printer-%d", priority),
			Entry: func(arg string) int {
				order <- k.Syscalls.GetPid()
				return 0
			},
			StackSize: 4096,
			Priority:  priority,
		})
	}
	spawnPrinter(2)
	spawnPrinter(3)
	spawnPrinter(4)
	for i := 0; i < 3; i++ {
		_, _, _ = k.Syscalls.Wait()
	}
	close(order)
	for pid := range order {
		fmt.Printf("scenario1: pid %d printed\n", pid)
	}
	return 0
}

func scenarioMailboxRoundTrip(arg string) int {
	k := currentKernel
	id, err := k.Mailboxes.Create(1, 4)
	if err != nil {
		fmt.Printf("scenario2: create failed: %v\n", err)
		return 1
	}
	if _, err := k.Mailboxes.Send(id, []byte("ABCD"), 4); err != nil {
		fmt.Printf("scenario2: send failed: %v\n", err)
		return 1
	}
	_, err = k.Syscalls.Spawn(usyscall.SpawnSpec{
		Name: "receiver",
		Entry: func(arg string) int {
			buf := make([]byte, 4)
			n, err := k.Mailboxes.Receive(id, buf, 4)
			if err != nil || n != 4 || string(buf) != "ABCD" {
				fmt.Printf("scenario2: child got %q (n=%d, err=%v), want ABCD\n", buf, n, err)
				return 1
			}
			fmt.Printf("scenario2: child received %q\n", buf)
			return 0
		},
		StackSize: 4096,
		Priority:  3,
	})
	if err != nil {
		fmt.Printf("scenario2: spawn failed: %v\n", err)
		return 1
	}
	_, _, _ = k.Syscalls.Wait()
	return 0
}

func scenarioZeroSlotRendezvous(arg string) int {
	k := currentKernel
	id, err := k.Mailboxes.Create(0, 0)
	if err != nil {
		fmt.Printf("scenario3: create failed: %v\n", err)
		return 1
	}
	_, err = k.Syscalls.Spawn(usyscall.SpawnSpec{
		Name: "child",
		Entry: func(arg string) int {
			n, err := k.Mailboxes.Receive(id, nil, 0)
			fmt.Printf("scenario3: child receive returned n=%d err=%v\n", n, err)
			return 0
		},
		StackSize: 4096,
		Priority:  3,
	})
	if err != nil {
		fmt.Printf("scenario3: spawn failed: %v\n", err)
		return 1
	}
	n, err := k.Mailboxes.Send(id, nil, 0)
	fmt.Printf("scenario3: parent send returned n=%d err=%v\n", n, err)
	_, _, _ = k.Syscalls.Wait()
	return 0
}

func scenarioCapacityPressure(arg string) int {
	k := currentKernel
	id, err := k.Mailboxes.Create(1, 1)
	if err != nil {
		fmt.Printf("scenario4: create failed: %v\n", err)
		return 1
	}
	if _, err := k.Mailboxes.Send(id, []byte("X"), 1); err != nil {
		fmt.Printf("scenario4: sender A failed: %v\n", err)
		return 1
	}
	_, err = k.Syscalls.Spawn(usyscall.SpawnSpec{
		Name: "sender-b",
		Entry: func(arg string) int {
			if _, err := k.Mailboxes.Send(id, []byte("Y"), 1); err != nil {
				fmt.Printf("scenario4: sender B failed: %v\n", err)
				return 1
			}
			fmt.Printf("scenario4: sender B stored Y\n")
			return 0
		},
		StackSize: 4096,
		Priority:  3,
	})
	if err != nil {
		fmt.Printf("scenario4: spawn failed: %v\n", err)
		return 1
	}
	buf := make([]byte, 1)
	n, err := k.Mailboxes.Receive(id, buf, 1)
	fmt.Printf("scenario4: first receive got %q (n=%d, err=%v)\n", buf, n, err)
	n, err = k.Mailboxes.Receive(id, buf, 1)
	fmt.Printf("scenario4: second receive got %q (n=%d, err=%v)\n", buf, n, err)
	_, _, _ = k.Syscalls.Wait()
	return 0
}

func scenarioSleepOrder(arg string) int {
	k := currentKernel
	woke := make(chan int, 3)
	spawnSleeper := func(seconds int) {
		_, _ = k.Syscalls.Spawn(usyscall.SpawnSpec{
			Name: fmt.Sprintf("sleeper-%ds", seconds),
			Entry: func(arg string) int {
				_ = k.Clock.Sleep(seconds)
				woke <- seconds
				return 0
			},
			StackSize: 4096,
			Priority:  3,
		})
	}
	spawnSleeper(3)
	spawnSleeper(1)
	spawnSleeper(2)
	for i := 0; i < 3; i++ {
		_, _, _ = k.Syscalls.Wait()
	}
	close(woke)
	for s := range woke {
		fmt.Printf("scenario5: slept %ds woke\n", s)
	}
	return 0
}

func scenarioDiskElevator(arg string) int {
	k := currentKernel
	disk := k.Disks[0]
	tracks := []int{8, 2, 5}
	done := make(chan int, len(tracks))
	for _, track := range tracks {
		track := track
		_, err := k.Syscalls.Spawn(usyscall.SpawnSpec{
			Name: "reader-" + strconv.Itoa(track),
			Entry: func(arg string) int {
				buf := make([]byte, 512)
				n, err := disk.Read(track, 0, buf)
				if err != nil {
					fmt.Printf("scenario6: read track %d failed: %v\n", track, err)
					return 1
				}
				fmt.Printf("scenario6: read track %d returned %d bytes\n", track, n)
				done <- track
				return 0
			},
			StackSize: 4096,
			Priority:  3,
		})
		if err != nil {
			fmt.Printf("scenario6: spawn failed: %v\n", err)
			return 1
		}
	}
	for range tracks {
		_, _, _ = k.Syscalls.Wait()
	}
	close(done)
	return 0
}

