//go:build windows

package table

import (
	"syscall"
	"unsafe"
)

var (
	modkernel32    = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx = modkernel32.NewProc("LockFileEx")
	procUnlockFile = modkernel32.NewProc("UnlockFile")
)

const lockfileExclusive = 0x00000002
const lockfileFailImmediately = 0x00000001

func flockExclusive(fd uintptr) error {
	var overlapped syscall.Overlapped
	r1, _, err := procLockFileEx.Call(fd, lockfileExclusive|lockfileFailImmediately, 0, 0xFFFFFFFF, 0xFFFFFFFF, uintptr(unsafe.Pointer(&overlapped)))
	if r1 == 0 {
		return err
	}
	return nil
}

func funlock(fd uintptr) error {
	r1, _, err := procUnlockFile.Call(fd, 0, 0, 0xFFFFFFFF, 0xFFFFFFFF)
	if r1 == 0 {
		return err
	}
	return nil
}
