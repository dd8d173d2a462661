// Package procmgr is L0, the process manager: the process table, priority
// ready queues, blocked list, dispatcher, and the fork/join/quit/block_me/
// unblock_proc/zap/time_slice operations of spec §4.1.
package procmgr

import "github.com/jarrett00/gokernel/internal/hwsim"

// StatusKind is the process status tag of spec §3, modeled as a tagged
// variant rather than a magic integer (spec §9 redesign guidance).
type StatusKind int

const (
	// Free marks an unoccupied table slot.
	Free StatusKind = iota
	Ready
	JoinBlocked
	Zapped
	Quit
	// Blocked carries a caller-supplied reason in Proc.blockReason (k>=10).
	Blocked
)

func (k StatusKind) String() string {
	switch k {
	case Free:
		return "FREE"
	case Ready:
		return "READY"
	case JoinBlocked:
		return "JOIN-BLOCKED"
	case Zapped:
		return "ZAPPED"
	case Quit:
		return "QUIT"
	case Blocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// EntryFunc is the body of a forked process. It returns its own exit code
// if it returns normally without calling Quit explicitly.
type EntryFunc func(arg string) int

// Proc is a process descriptor. Table slot = Pid % MaxProc. "Next" fields
// are pid-valued indices into the table rather than pointers (spec §9:
// arena + stable index), with 0 standing in for "none" since real pids
// start at 1.
type Proc struct {
	Pid      int
	Name     string
	Priority int
	Arg      string
	entry    EntryFunc
	ctx      *hwsim.Context

	status      StatusKind
	blockReason int // valid iff status == Blocked

	ParentPid    int
	childHead    int // first child, insertion order
	childTail    int
	nextSibling  int
	nextInQueue  int // linkage within whichever list (ready/blocked) currently holds this proc
	zapWaitHead  int // pids blocked in zap(), waiting for this proc to quit
	zapWaitNext  int // this proc's own link in some other proc's zapWaitHead list

	zapped bool

	cpuMicros    int64
	lastDispatch int64
	preempt      bool

	ExitCode int
}

func (p *Proc) Status() StatusKind { return p.status }

func (p *Proc) BlockReason() int { return p.blockReason }

func (p *Proc) IsZapped() bool { return p.zapped }
