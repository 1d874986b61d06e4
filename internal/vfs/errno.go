package vfs

import "errors"

// Sentinel errors the syscall layer maps to Linux errno values. Kept
// local to this package (rather than importing internal/syslayer, which
// depends on internal/vfs) and translated at the syscall boundary.
var (
	errNoEnt  = errors.New("no such file or directory")
	errExist  = errors.New("file exists")
	errNotDir = ErrNotDirectory
	errIsDir  = errors.New("is a directory")
)

// IsNotExist reports whether err is (or wraps) the VFS's not-found
// sentinel, letting the syscall layer map it to ENOENT without a direct
// dependency on these unexported values.
func IsNotExist(err error) bool { return errors.Is(err, errNoEnt) }

// IsExist reports whether err is (or wraps) the VFS's already-exists
// sentinel (EEXIST).
func IsExist(err error) bool { return errors.Is(err, errExist) }

// IsNotDir reports whether err is (or wraps) the VFS's not-a-directory
// sentinel (ENOTDIR).
func IsNotDir(err error) bool { return errors.Is(err, errNotDir) }

// IsDir reports whether err is (or wraps) the VFS's is-a-directory
// sentinel (EISDIR).
func IsDir(err error) bool { return errors.Is(err, errIsDir) }
