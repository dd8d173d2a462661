package mailbox

import "github.com/jarrett00/gokernel/internal/constants"

// mailSlot is one entry of the global mail-slot pool (spec §3). Slots are a
// fixed array; "next" is an index into the pool, not a pointer (spec §9:
// arena + stable index), and -1 stands in for "none".
type mailSlot struct {
	inUse   bool
	mboxID  int
	length  int
	payload [constants.MaxMessage]byte
	next    int
}

// slotPool is the global mail-slot pool shared by every mailbox in the
// table (spec §3's Mail Slot data model).
type slotPool struct {
	slots [constants.MaxSlots]mailSlot
	free  []int
}

func newSlotPool() *slotPool {
	p := &slotPool{free: make([]int, 0, constants.MaxSlots)}
	for i := constants.MaxSlots - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p
}

// alloc returns a free slot index, or -1 if the pool is exhausted.
func (p *slotPool) alloc() int {
	n := len(p.free)
	if n == 0 {
		return -1
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	p.slots[idx].inUse = true
	return idx
}

func (p *slotPool) release(idx int) {
	p.slots[idx] = mailSlot{}
	p.free = append(p.free, idx)
}

// occupied returns the total number of in-use slots, used by the
// conservation property of spec §8.
func (p *slotPool) occupied() int {
	return constants.MaxSlots - len(p.free)
}
