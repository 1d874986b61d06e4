// Package syslayer implements the Linux syscall emulation surface: a
// RISC-V64 "generic" syscall-number enum, per-syscall handlers, a
// cooperative fork/thread scheduler, and futex wait/wake, all driven
// off the shared Arena and VFS.
//
// The Syscall-as-int-enum shape is grounded in the teacher's
// internal/linux/defs/syscall.go (a plain `type Syscall int` with a
// contiguous `iota`-style block); this package numbers its constants
// explicitly instead, because the RISC-V64/generic Linux syscall table
// (shared with arm64) is not in the same order as the teacher's x86-64
// table it was grounded on, and getting the guest-visible numbers right
// matters here in a way it didn't for the teacher's internal dispatch.
package syslayer

import "fmt"

type Syscall int64

const (
	SysGetcwd        Syscall = 17
	SysEventfd2      Syscall = 19
	SysEpollCreate1  Syscall = 20
	SysEpollCtl      Syscall = 21
	SysEpollPwait    Syscall = 22
	SysDup           Syscall = 23
	SysDup3          Syscall = 24
	SysFcntl         Syscall = 25
	SysIoctl         Syscall = 29
	SysMkdirat       Syscall = 34
	SysUnlinkat      Syscall = 35
	SysSymlinkat     Syscall = 36
	SysLinkat        Syscall = 37
	SysRenameat      Syscall = 38
	SysFaccessat     Syscall = 48
	SysChdir         Syscall = 49
	SysFchdir        Syscall = 50
	SysFchmod        Syscall = 52
	SysFchmodat      Syscall = 53
	SysFchownat      Syscall = 54
	SysFchown        Syscall = 55
	SysOpenat        Syscall = 56
	SysClose         Syscall = 57
	SysPipe2         Syscall = 59
	SysGetdents64    Syscall = 61
	SysLseek         Syscall = 62
	SysRead          Syscall = 63
	SysWrite         Syscall = 64
	SysReadv         Syscall = 65
	SysWritev        Syscall = 66
	SysPread64       Syscall = 67
	SysPwrite64      Syscall = 68
	SysReadlinkat    Syscall = 78
	SysNewfstatat    Syscall = 79
	SysFstat         Syscall = 80
	SysExit          Syscall = 93
	SysExitGroup     Syscall = 94
	SysSetTidAddress Syscall = 96
	SysFutex         Syscall = 98
	SysNanosleep     Syscall = 101
	SysClockGettime  Syscall = 113
	SysSchedYield    Syscall = 124
	SysKill          Syscall = 129
	SysTkill         Syscall = 130
	SysTgkill        Syscall = 131
	SysRtSigaction   Syscall = 134
	SysRtSigprocmask Syscall = 135
	SysUname         Syscall = 160
	SysGettimeofday  Syscall = 169
	SysGetpid        Syscall = 172
	SysGetppid       Syscall = 173
	SysGetuid        Syscall = 174
	SysGeteuid       Syscall = 175
	SysGetgid        Syscall = 176
	SysGetegid       Syscall = 177
	SysGettid        Syscall = 178
	SysBrk           Syscall = 214
	SysMunmap        Syscall = 215
	SysClone         Syscall = 220
	SysExecve        Syscall = 221
	SysMmap          Syscall = 222
	SysMprotect      Syscall = 226
	SysMadvise       Syscall = 233
	SysWait4         Syscall = 260
	SysPrlimit64     Syscall = 261
	SysGetrandom     Syscall = 278

	SysSocket      Syscall = 198
	SysSocketpair  Syscall = 199
	SysBind        Syscall = 200
	SysListen      Syscall = 201
	SysAccept      Syscall = 202
	SysConnect     Syscall = 203
	SysGetsockname Syscall = 204
	SysGetpeername Syscall = 205
	SysSendto      Syscall = 206
	SysRecvfrom    Syscall = 207
	SysSetsockopt  Syscall = 208
	SysGetsockopt  Syscall = 209
	SysShutdown    Syscall = 210
	SysSendmsg     Syscall = 211
	SysRecvmsg     Syscall = 212
	SysAccept4     Syscall = 242
	SysPpoll       Syscall = 73
	SysSendfile     Syscall = 71
	SysFsync        Syscall = 82
	SysFlock        Syscall = 32
	SysFtruncate    Syscall = 46
)

func (s Syscall) String() string {
	if name, ok := names[s]; ok {
		return name
	}
	return fmt.Sprintf("SYS_%d", int64(s))
}

var names = map[Syscall]string{
	SysGetcwd: "getcwd", SysEventfd2: "eventfd2", SysEpollCreate1: "epoll_create1",
	SysEpollCtl: "epoll_ctl", SysEpollPwait: "epoll_pwait", SysDup: "dup", SysDup3: "dup3",
	SysFcntl: "fcntl", SysIoctl: "ioctl", SysMkdirat: "mkdirat", SysUnlinkat: "unlinkat",
	SysSymlinkat: "symlinkat", SysLinkat: "linkat", SysRenameat: "renameat",
	SysFaccessat: "faccessat", SysChdir: "chdir", SysFchdir: "fchdir", SysFchmod: "fchmod",
	SysFchmodat: "fchmodat", SysFchownat: "fchownat", SysFchown: "fchown", SysOpenat: "openat",
	SysClose: "close", SysPipe2: "pipe2", SysGetdents64: "getdents64", SysLseek: "lseek",
	SysRead: "read", SysWrite: "write", SysReadv: "readv", SysWritev: "writev",
	SysPread64: "pread64", SysPwrite64: "pwrite64", SysReadlinkat: "readlinkat",
	SysNewfstatat: "newfstatat", SysFstat: "fstat", SysExit: "exit", SysExitGroup: "exit_group",
	SysSetTidAddress: "set_tid_address", SysFutex: "futex", SysNanosleep: "nanosleep",
	SysClockGettime: "clock_gettime", SysSchedYield: "sched_yield", SysKill: "kill",
	SysTkill: "tkill", SysTgkill: "tgkill", SysRtSigaction: "rt_sigaction",
	SysRtSigprocmask: "rt_sigprocmask", SysUname: "uname", SysGettimeofday: "gettimeofday",
	SysGetpid: "getpid", SysGetppid: "getppid", SysGetuid: "getuid", SysGeteuid: "geteuid",
	SysGetgid: "getgid", SysGetegid: "getegid", SysGettid: "gettid", SysBrk: "brk",
	SysMunmap: "munmap", SysClone: "clone", SysExecve: "execve", SysMmap: "mmap",
	SysMprotect: "mprotect", SysMadvise: "madvise", SysWait4: "wait4",
	SysPrlimit64: "prlimit64", SysGetrandom: "getrandom",
	SysSocket: "socket", SysSocketpair: "socketpair", SysBind: "bind", SysListen: "listen",
	SysAccept: "accept", SysConnect: "connect", SysGetsockname: "getsockname",
	SysGetpeername: "getpeername", SysSendto: "sendto", SysRecvfrom: "recvfrom",
	SysSetsockopt: "setsockopt", SysGetsockopt: "getsockopt", SysShutdown: "shutdown",
	SysSendmsg: "sendmsg", SysRecvmsg: "recvmsg", SysAccept4: "accept4", SysPpoll: "ppoll",
	SysSendfile: "sendfile", SysFsync: "fsync", SysFlock: "flock", SysFtruncate: "ftruncate",
}

// Errno is a Linux errno value returned (negated) from a syscall, per
// the RISC-V64 calling convention of returning -errno in a0 rather than
// setting a separate error flag.
type Errno int64

const (
	EPERM   Errno = 1
	ENOENT  Errno = 2
	EIO     Errno = 5
	EBADF   Errno = 9
	EAGAIN  Errno = 11
	ENOMEM  Errno = 12
	EACCES  Errno = 13
	EFAULT  Errno = 14
	EEXIST  Errno = 17
	ENOTDIR Errno = 20
	EISDIR  Errno = 21
	EINVAL  Errno = 22
	ENOSYS  Errno = 38
	ENOTEMPTY Errno = 39
	EINTR      Errno = 4
	ECHILD     Errno = 10
	ERANGE     Errno = 34
	ENOTSUP    Errno = 95
	EINPROGRESS Errno = 115
)

func (e Errno) Error() string { return fmt.Sprintf("errno %d", int64(e)) }
