package mailbox

import "github.com/jarrett00/gokernel/internal/hwsim"

// InstallStandardHandlers wires the six interrupt vector slots of spec §6
// (clock, alarm, disk, terminal, MMU, syscall) the way L1 is described as
// doing in spec §4.2. Clock and disk get a real bridge: their top-half
// handler does a non-blocking send (cond_send) of the device status word
// into a kernel-owned zero-slot mailbox, which the matching L2b driver then
// Receive()s on to learn that its DeviceOutput request completed. Alarm,
// terminal and MMU are outside this spec's scope (§2 Non-goals); their
// slots get a handler that only logs, so the vector is never left empty.
// The syscall slot is a placeholder overwritten by usyscall.NewManager,
// which owns syscall dispatch (spec §4.3).
func (m *Manager) InstallStandardHandlers(machine *hwsim.Machine, clockMboxID int, diskMboxIDs []int) {
	machine.InstallHandler(hwsim.DevClock, func(unit, status int) {
		_, _ = m.CondSend(clockMboxID, encodeStatus(status), 4)
	})
	machine.InstallHandler(hwsim.DevDisk, func(unit, status int) {
		if unit < 0 || unit >= len(diskMboxIDs) {
			return
		}
		_, _ = m.CondSend(diskMboxIDs[unit], encodeStatus(status), 4)
	})
	noop := func(unit, status int) {
		if m.logger != nil {
			m.logger.Debugf("hwsim: unhandled interrupt unit=%d status=%d", unit, status)
		}
	}
	machine.InstallHandler(hwsim.DevAlarm, noop)
	machine.InstallHandler(hwsim.DevTerm, noop)
	machine.InstallHandler(hwsim.DevMMU, noop)
	machine.InstallHandler(hwsim.DevSyscall, noop)
}

func encodeStatus(status int) []byte {
	return []byte{byte(status), byte(status >> 8), byte(status >> 16), byte(status >> 24)}
}

// DecodeStatus reverses encodeStatus. Used by L2b drivers after Receive()ing
// from their device mailbox.
func DecodeStatus(b []byte) int {
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16 | int(b[3])<<24
}
