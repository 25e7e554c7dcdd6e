package disko

import "syscall"

// Errno aliases used throughout the drivers and the FAT engine. Most of these
// are plain re-exports of the platform's syscall package; EUCLEAN isn't
// defined on every GOOS disko targets, so it gets a dedicated fallback value
// in the same numeric space Linux uses for it.
const (
	EPERM    = syscall.EPERM
	ENOENT   = syscall.ENOENT
	EIO      = syscall.EIO
	EEXIST   = syscall.EEXIST
	ENOTDIR  = syscall.ENOTDIR
	EISDIR   = syscall.EISDIR
	EINVAL   = syscall.EINVAL
	ENOSPC   = syscall.ENOSPC
	ERANGE   = syscall.ERANGE
	ENAMETOOLONG = syscall.ENAMETOOLONG
	ENOTEMPTY    = syscall.ENOTEMPTY
	EALREADY = syscall.EALREADY
	EMLINK   = syscall.EMLINK
	EBUSY    = syscall.EBUSY
	ENODEV   = syscall.ENODEV
	ENOSYS   = syscall.ENOSYS
	EUNATCH  = syscall.Errno(49)
	EUCLEAN  = syscall.Errno(117)
)
