// Package abi defines the bit-exact wire structures exchanged across the
// hardware boundary (spec §6): the device request record submitted to
// device_output/wait_device, and the sysargs structure carried by the
// syscall trap. Kept bit-exact (fixed-width fields, no pointers) the way the
// teacher's internal/uapi package kept its ublk wire structs bit-exact, and
// for the same reason: these values are traced/logged and must round-trip
// through Marshal/Unmarshal without surprises.
package abi

import "encoding/binary"

// DeviceOp identifies the operation encoded in a DeviceRequest.
type DeviceOp int32

const (
	OpRead DeviceOp = iota
	OpWrite
	OpSeek
	OpTracks
)

func (o DeviceOp) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpSeek:
		return "SEEK"
	case OpTracks:
		return "TRACKS"
	default:
		return "UNKNOWN"
	}
}

// DeviceRequest is the bit-exact request record submitted to a device via
// device_output and completed via wait_device.
//
//   - SEEK:   Register1 holds the target track.
//   - READ/WRITE: Register1 holds a sector index, Register2 a buffer pointer.
//   - TRACKS: Register1 points to an int receiver for the track count.
type DeviceRequest struct {
	Operation DeviceOp
	Register1 int64
	Register2 int64
}

// Marshal encodes a DeviceRequest into its bit-exact 24-byte wire form.
func (r DeviceRequest) Marshal() []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Operation))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.Register1))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.Register2))
	return buf
}

// UnmarshalDeviceRequest decodes a DeviceRequest from its wire form.
func UnmarshalDeviceRequest(buf []byte) DeviceRequest {
	return DeviceRequest{
		Operation: DeviceOp(binary.LittleEndian.Uint32(buf[0:4])),
		Register1: int64(binary.LittleEndian.Uint64(buf[8:16])),
		Register2: int64(binary.LittleEndian.Uint64(buf[16:24])),
	}
}

// SysArgs is the syscall ABI record (spec §6): a call number and five
// argument slots. Per the table in spec §4.3, arg4 conventionally carries
// the error code (0 = ok) and arg1 the return value, but individual
// syscalls document their own slot usage.
type SysArgs struct {
	Number int64
	Arg1   int64
	Arg2   int64
	Arg3   int64
	Arg4   int64
	Arg5   int64
}

// Marshal encodes a SysArgs into its bit-exact 48-byte wire form, used only
// for structured tracing of syscall dispatch at Debug log level.
func (a SysArgs) Marshal() []byte {
	buf := make([]byte, 48)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(a.Number))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(a.Arg1))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(a.Arg2))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(a.Arg3))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(a.Arg4))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(a.Arg5))
	return buf
}

// UnmarshalSysArgs decodes a SysArgs from its wire form.
func UnmarshalSysArgs(buf []byte) SysArgs {
	return SysArgs{
		Number: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Arg1:   int64(binary.LittleEndian.Uint64(buf[8:16])),
		Arg2:   int64(binary.LittleEndian.Uint64(buf[16:24])),
		Arg3:   int64(binary.LittleEndian.Uint64(buf[24:32])),
		Arg4:   int64(binary.LittleEndian.Uint64(buf[32:40])),
		Arg5:   int64(binary.LittleEndian.Uint64(buf[40:48])),
	}
}
