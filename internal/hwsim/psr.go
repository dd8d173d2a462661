package hwsim

import "sync/atomic"

// Psr models the processor status register (spec §6). Bit 0 is the
// current-mode bit (1 = kernel mode, 0 = user mode; clearing it enters user
// mode, per spec §6); bit 1 is the interrupt-enable bit. There is exactly
// one PSR because the kernel models a single logical CPU (spec §5).
type Psr struct {
	bits atomic.Uint32
}

const (
	bitKernelMode = 1 << 0
	bitIntEnable  = 1 << 1
)

// NewPsr returns a PSR initialised to kernel mode with interrupts disabled,
// the state the machine boots in.
func NewPsr() *Psr {
	p := &Psr{}
	p.bits.Store(bitKernelMode)
	return p
}

func (p *Psr) Get() uint32 { return p.bits.Load() }

func (p *Psr) Set(v uint32) { p.bits.Store(v) }

func (p *Psr) KernelMode() bool { return p.bits.Load()&bitKernelMode != 0 }

func (p *Psr) IntEnabled() bool { return p.bits.Load()&bitIntEnable != 0 }

// EnterUserMode clears the current-mode bit, per spec §6. Used once, by the
// user-mode launcher, immediately before invoking a spawned entry point.
func (p *Psr) EnterUserMode() {
	for {
		old := p.bits.Load()
		if p.bits.CompareAndSwap(old, old&^bitKernelMode) {
			return
		}
	}
}

// SetIntEnabled sets or clears the interrupt-enable bit.
func (p *Psr) SetIntEnabled(enabled bool) {
	for {
		old := p.bits.Load()
		var next uint32
		if enabled {
			next = old | bitIntEnable
		} else {
			next = old &^ bitIntEnable
		}
		if p.bits.CompareAndSwap(old, next) {
			return
		}
	}
}
