package hwsim

// Context stands in for context_init/context_switch (spec §6): since Go
// offers no userspace stack-swap primitive, a process's "machine context"
// is represented by the goroutine running its entry point plus a turn
// channel that gates when that goroutine is allowed to run. Exactly one
// Context is ever past its WaitTurn() at a time — that goroutine IS
// "Current" — which is the Go-idiomatic rendering of "a single logical
// CPU, cooperative scheduler" called out in spec §5 and grounded on the
// baton pattern found in the toy-scheduler reference material (a goroutine
// blocks on its own channel; the scheduler wakes it by sending).
type Context struct {
	turn chan struct{}
}

// NewContext allocates a parked context. The stack-size argument mirrors
// context_init(state, psr, stack, size, entry)'s signature for fidelity to
// the hardware interface, but Go goroutines grow their own stacks.
func NewContext(stackSize int) *Context {
	return &Context{turn: make(chan struct{})}
}

// WaitTurn parks the calling goroutine until it is given the turn.
func (c *Context) WaitTurn() { <-c.turn }

// giveTurn wakes the goroutine parked in WaitTurn. Never called on a
// context nobody is waiting on.
func (c *Context) giveTurn() { c.turn <- struct{}{} }

// Switch is context_switch(&old, &new): it hands the CPU to new and parks
// the caller (which must be executing as old) until old is switched back
// in. Called by the dispatcher with interrupts already re-enabled, per
// spec §4.1's dispatcher contract.
func Switch(old, next *Context) {
	if old == next {
		return
	}
	next.giveTurn()
	old.WaitTurn()
}
