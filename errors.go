package gokernel

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured kernel error with context and kind.
type Error struct {
	Op    string // operation that failed (e.g., "fork", "send", "sem_p")
	Pid   int    // process involved (0 if not applicable)
	Code  Code   // high-level error kind, per spec §7
	Errno syscall.Errno // underlying errno, for device-backed errors (0 if not applicable)
	Msg   string
	Inner error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Pid != 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.Pid))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("gokernel: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("gokernel: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support, matching on Code alone so callers can
// write errors.Is(err, &Error{Code: CodeLifecycle}).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// Code classifies a kernel error into one of the six kinds spec §7 names.
type Code string

const (
	// CodeResourceExhausted: process table, mailbox table, slot pool, or
	// semaphore table full (spec §7 kind 1). Reported as a negative
	// status; fatal only when hit mid-blocking-send with the slot pool
	// exhausted and no back-pressure possible.
	CodeResourceExhausted Code = "resource exhausted"
	// CodeInvalidArgument: bad priority, negative size, unknown id,
	// oversized message, unknown syscall number (spec §7 kind 2).
	CodeInvalidArgument Code = "invalid argument"
	// CodeLifecycle: "no children" on join, "zapped" mid-operation,
	// "released" mailbox (spec §7 kind 3).
	CodeLifecycle Code = "lifecycle"
	// CodeModeViolation: kernel-mode operation invoked from user mode
	// (spec §7 kind 4). Always fatal.
	CodeModeViolation Code = "mode violation"
	// CodeDeviceError: non-OK device status (spec §7 kind 5). Fatal on
	// the initial seek/tracks probe, a per-request error on a sector
	// transfer.
	CodeDeviceError Code = "device error"
	// CodeProgrammerError: quit with live children, block_me(status<10),
	// stack below minimum (spec §7 kind 6). Always fatal.
	CodeProgrammerError Code = "programmer error"
)

// fatalCodes are the kinds spec §7 says the kernel cannot recover from.
var fatalCodes = map[Code]bool{
	CodeModeViolation:   true,
	CodeProgrammerError: true,
}

// Fatal reports whether err's kind is one the kernel halts on rather than
// returning a status for.
func Fatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return fatalCodes[e.Code]
	}
	var h *Halt
	return errors.As(err, &h)
}

// Error constructors

// NewError creates a new structured error.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying an errno, for
// errors originating below the kernel (e.g. a backing medium's I/O).
func NewErrorWithErrno(op string, code Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewProcError creates a new structured error naming the pid involved.
func NewProcError(op string, pid int, code Code, msg string) *Error {
	return &Error{Op: op, Pid: pid, Code: code, Msg: msg}
}

// WrapError wraps an existing error with kernel context, inferring a code
// when the inner error doesn't already carry one.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ue, ok := inner.(*Error); ok {
		return &Error{Op: op, Pid: ue.Pid, Code: ue.Code, Errno: ue.Errno, Msg: ue.Msg, Inner: ue.Inner}
	}

	code := CodeDeviceError
	if errno, ok := inner.(syscall.Errno); ok {
		code = mapErrnoToCode(errno)
		return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps a backing-medium errno to a kernel error kind. Every
// disk-side failure surfaces through CodeDeviceError (spec §7 kind 5); the
// errno is retained on the Error for diagnostics.
func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidArgument
	case syscall.ENOMEM, syscall.ENOSPC:
		return CodeResourceExhausted
	default:
		return CodeDeviceError
	}
}

// IsCode checks if an error matches a specific error kind.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}

// Halt represents the kernel having halted. spec §7 kinds 4 and 6 are
// always fatal, and kind 5 is fatal on the initial seek/tracks probe.
// hwsim.Machine.Halt does not build one of these: it reports a halt
// through the Config.OnHalt callback as a code and a reason string.
type Halt struct {
	Code int
	Msg  string
}

func (h *Halt) Error() string {
	return fmt.Sprintf("gokernel: halted (code=%d): %s", h.Code, h.Msg)
}

// NewHalt builds a Halt from the machine's halt code and diagnostic.
func NewHalt(code int, msg string) *Halt {
	return &Halt{Code: code, Msg: msg}
}

// IsHalt reports whether err represents a kernel halt.
func IsHalt(err error) bool {
	var h *Halt
	return errors.As(err, &h)
}

// Sentinel lifecycle errors, for direct errors.Is comparisons without
// constructing a full *Error (spec §7 kind 3's vocabulary).
var (
	ErrNoChildren = errors.New("gokernel: no children")
	ErrZapped     = errors.New("gokernel: zapped")
	ErrReleased   = errors.New("gokernel: released")
)
