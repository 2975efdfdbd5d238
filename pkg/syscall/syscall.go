// Copyright 2024 The Ucore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package syscall is the small syscall dispatcher the run-loop consults on
// every syscall trap, kept deliberately minimal: just enough (exit,
// exit_group, write, read, fork, clone, execve, getpid, gettid) to drive the
// end-to-end hello/fork/clone scenarios through real process and thread
// creation rather than a stub.
package syscall

import (
	"context"
	"fmt"

	"ucore.dev/ucore/pkg/kernel"
	"ucore.dev/ucore/pkg/loader"
	"ucore.dev/ucore/pkg/log"
	"ucore.dev/ucore/pkg/platform"
	"ucore.dev/ucore/pkg/vfs"
)

// x86-64 syscall numbers this dispatcher recognizes.
const (
	sysRead      = 0
	sysWrite     = 1
	sysGetpid    = 39
	sysClone     = 56
	sysFork      = 57
	sysExecve    = 59
	sysExit      = 60
	sysGettid    = 186
	sysExitGroup = 231
)

// negErrno converts a positive errno into the two's-complement value the
// syscall-return register carries on failure.
func negErrno(errno int) uintptr {
	return ^uintptr(errno) + 1
}

// Root is the filesystem root execve resolves paths against. cmd/ucore sets
// this once at startup; left nil, execve fails with -ENOEXEC rather than
// panicking.
var Root vfs.INode

func init() {
	kernel.SyscallHandler = Handle
}

// Handle dispatches one syscall trap, mutating cx's return-value register
// and reporting whether t should now terminate.
func Handle(ctx context.Context, t *kernel.Thread, cx *platform.Context) (exit bool) {
	num := cx.SyscallNum()
	args := cx.SyscallArgs()

	switch num {
	case sysExit, sysExitGroup:
		cx.SetSyscallRet(args[0])
		return true

	case sysWrite:
		n, err := doWrite(t, int32(args[0]), args[1], args[2])
		setResult(cx, n, err)
		return false

	case sysRead:
		n, err := doRead(t, int32(args[0]), args[1], args[2])
		setResult(cx, n, err)
		return false

	case sysGetpid:
		cx.SetSyscallRet(uintptr(t.Proc.Pid))
		return false

	case sysGettid:
		cx.SetSyscallRet(uintptr(t.Tid()))
		return false

	case sysFork:
		child, err := t.Fork(cx)
		if err != nil {
			log.Warningf("fork: %v", err)
			cx.SetSyscallRet(negErrno(12)) // ENOMEM
			return false
		}
		if err := kernel.Spawn(child); err != nil {
			log.Warningf("fork: spawning child tid %d: %v", child.Tid(), err)
		}
		cx.SetSyscallRet(uintptr(child.Proc.Pid))
		return false

	case sysClone:
		flags, stack, _, childTid, tls := args[0], args[1], args[2], args[3], args[4]
		_ = flags
		child, err := t.NewClone(cx, stack, tls, childTid)
		if err != nil {
			log.Warningf("clone: %v", err)
			cx.SetSyscallRet(negErrno(12)) // ENOMEM
			return false
		}
		if err := kernel.Spawn(child); err != nil {
			log.Warningf("clone: spawning child tid %d: %v", child.Tid(), err)
		}
		cx.SetSyscallRet(uintptr(child.Tid()))
		return false

	case sysExecve:
		entry, stackTop, err := doExecve(t, cx, args[0], args[1], args[2])
		if err != nil {
			log.Warningf("execve: %v", err)
			cx.SetSyscallRet(negErrno(8)) // ENOEXEC
			return false
		}
		cx.SetIP(entry)
		cx.SetSP(stackTop)
		return false

	default:
		cx.SetSyscallRet(negErrno(38)) // ENOSYS
		return false
	}
}

func setResult(cx *platform.Context, n int, err error) {
	if err != nil {
		cx.SetSyscallRet(negErrno(14)) // EFAULT as a catch-all for user-memory/IO failures
		return
	}
	cx.SetSyscallRet(uintptr(n))
}

func doWrite(t *kernel.Thread, fd int32, addr, count uintptr) (int, error) {
	f, ok := t.Proc.File(fd)
	if !ok {
		return 0, fmt.Errorf("write: no such fd %d", fd)
	}
	buf := make([]byte, count)
	if _, err := t.VM.ReadAt(addr, buf); err != nil {
		return 0, err
	}
	return f.Write(buf)
}

func doRead(t *kernel.Thread, fd int32, addr, count uintptr) (int, error) {
	f, ok := t.Proc.File(fd)
	if !ok {
		return 0, fmt.Errorf("read: no such fd %d", fd)
	}
	buf := make([]byte, count)
	n, err := f.Read(buf)
	if err != nil {
		return 0, err
	}
	if _, err := t.VM.WriteAt(addr, buf[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

// doExecve replaces t's process image in place: read the path and argv from
// user memory, resolve it through Root, and reload the address space. A
// real execve also resets signal dispositions and closes close-on-exec
// descriptors; this dispatcher is minimal and leaves both alone.
func doExecve(t *kernel.Thread, cx *platform.Context, pathAddr, argvAddr, envpAddr uintptr) (entry, stackTop uintptr, err error) {
	if Root == nil {
		return 0, 0, fmt.Errorf("execve: no filesystem root configured")
	}
	path, err := readCString(t, pathAddr)
	if err != nil {
		return 0, 0, fmt.Errorf("execve: reading path: %w", err)
	}
	argv, err := readStringVector(t, argvAddr)
	if err != nil {
		return 0, 0, fmt.Errorf("execve: reading argv: %w", err)
	}
	envp, err := readStringVector(t, envpAddr)
	if err != nil {
		return 0, 0, fmt.Errorf("execve: reading envp: %w", err)
	}
	inode, err := vfs.LookupFollow(Root, path, 40)
	if err != nil {
		return 0, 0, fmt.Errorf("execve: resolving %q: %w", path, err)
	}
	t.PrepareExec()
	return loader.LoadUser(inode, argv, envp, t.VM)
}

func readCString(t *kernel.Thread, addr uintptr) (string, error) {
	var out []byte
	var chunk [64]byte
	for {
		n, err := t.VM.ReadAt(addr+uintptr(len(out)), chunk[:])
		if err != nil {
			return "", err
		}
		for i := 0; i < n; i++ {
			if chunk[i] == 0 {
				return string(append(out, chunk[:i]...)), nil
			}
		}
		out = append(out, chunk[:n]...)
		if n == 0 {
			return string(out), nil
		}
	}
}

func readStringVector(t *kernel.Thread, addr uintptr) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}
	var out []string
	for i := 0; ; i++ {
		var ptrBuf [8]byte
		if _, err := t.VM.ReadAt(addr+uintptr(i)*8, ptrBuf[:]); err != nil {
			return nil, err
		}
		ptr := uintptr(ptrBuf[0]) | uintptr(ptrBuf[1])<<8 | uintptr(ptrBuf[2])<<16 | uintptr(ptrBuf[3])<<24 |
			uintptr(ptrBuf[4])<<32 | uintptr(ptrBuf[5])<<40 | uintptr(ptrBuf[6])<<48 | uintptr(ptrBuf[7])<<56
		if ptr == 0 {
			return out, nil
		}
		s, err := readCString(t, ptr)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}
