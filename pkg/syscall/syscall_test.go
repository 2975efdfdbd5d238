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

package syscall

import (
	"context"
	"encoding/binary"
	"testing"

	"ucore.dev/ucore/pkg/kernel"
	"ucore.dev/ucore/pkg/memset"
	"ucore.dev/ucore/pkg/platform"
	"ucore.dev/ucore/pkg/vfs"
)

const (
	testELFEhdrSize = 64
	testELFPhdrSize = 56
)

// buildStaticELF assembles a minimal, valid ET_EXEC x86-64 image with a
// single executable PT_LOAD segment.
func buildStaticELF(vaddr, entry uint64, code []byte) []byte {
	phoff := uint64(testELFEhdrSize)
	dataOff := testELFEhdrSize + testELFPhdrSize
	buf := make([]byte, dataOff+len(code))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4], buf[5], buf[6] = 2, 1, 1

	le := binary.LittleEndian
	const etExec, emX8664 = 2, 62
	le.PutUint16(buf[16:18], etExec)
	le.PutUint16(buf[18:20], emX8664)
	le.PutUint32(buf[20:24], 1)
	le.PutUint64(buf[24:32], entry)
	le.PutUint64(buf[32:40], phoff)
	le.PutUint16(buf[52:54], testELFEhdrSize)
	le.PutUint16(buf[54:56], testELFPhdrSize)
	le.PutUint16(buf[56:58], 1)

	p := buf[testELFEhdrSize : testELFEhdrSize+testELFPhdrSize]
	const ptLoad, pfX, pfR = 1, 1, 4
	le.PutUint32(p[0:4], ptLoad)
	le.PutUint32(p[4:8], pfR|pfX)
	le.PutUint64(p[8:16], uint64(dataOff))
	le.PutUint64(p[16:24], vaddr)
	le.PutUint64(p[24:32], vaddr)
	le.PutUint64(p[32:40], uint64(len(code)))
	le.PutUint64(p[40:48], uint64(len(code)))
	le.PutUint64(p[48:56], 0x1000)

	copy(buf[dataOff:], code)
	return buf
}

func newTestExecInode() vfs.INode {
	fs := vfs.NewMemFS()
	const vaddr, entry = 0x400000, 0x400000 + 0x10
	code := make([]byte, 0x20)
	copy(code, []byte("\x90\x90\x90\x90hello"))
	fs.AddFile("/bin/test", buildStaticELF(vaddr, entry, code))
	inode, err := vfs.LookupFollow(fs.Root(), "/bin/test", 4)
	if err != nil {
		panic(err)
	}
	return inode
}

func newTestThread(t *testing.T) *kernel.Thread {
	t.Helper()
	th, err := kernel.NewUser(newTestExecInode(), "/bin/test", nil, nil)
	if err != nil {
		t.Fatalf("kernel.NewUser: %v", err)
	}
	return th
}

// scratchRegion pushes a small writable scratch region into th's address
// space, used as a stand-in for a syscall argument buffer.
func scratchRegion(t *testing.T, th *kernel.Thread, addr uintptr, size int) {
	t.Helper()
	if err := th.VM.Push(addr, addr+uintptr(size), memset.Default().User().Write(), memset.ByFrame, "scratch"); err != nil {
		t.Fatalf("pushing scratch region: %v", err)
	}
}

func syscallContext(num uintptr, args [6]uintptr) *platform.Context {
	cx := platform.Default()
	cx.SetSyscallArgs(num, args)
	return cx
}

func TestHandleExitGroupReturnsTrueAndSetsCode(t *testing.T) {
	th := newTestThread(t)
	cx := syscallContext(sysExitGroup, [6]uintptr{7})
	if exit := Handle(context.Background(), th, cx); !exit {
		t.Fatal("exit_group should report exit=true")
	}
	if cx.SyscallRet() != 7 {
		t.Fatalf("SyscallRet() = %d, want 7", cx.SyscallRet())
	}
}

func TestHandleGetpidAndGettid(t *testing.T) {
	th := newTestThread(t)

	cx := syscallContext(sysGetpid, [6]uintptr{})
	Handle(context.Background(), th, cx)
	if cx.SyscallRet() != uintptr(th.Proc.Pid) {
		t.Fatalf("getpid = %d, want %d", cx.SyscallRet(), th.Proc.Pid)
	}

	cx2 := syscallContext(sysGettid, [6]uintptr{})
	Handle(context.Background(), th, cx2)
	if cx2.SyscallRet() != uintptr(th.Tid()) {
		t.Fatalf("gettid = %d, want %d", cx2.SyscallRet(), th.Tid())
	}
}

func TestHandleWriteToStdoutReachesTTY(t *testing.T) {
	th := newTestThread(t)
	const addr = 0x700000
	scratchRegion(t, th, addr, 0x1000)

	msg := []byte("hi there")
	if _, err := th.VM.WriteAt(addr, msg); err != nil {
		t.Fatalf("seeding scratch region: %v", err)
	}

	cx := syscallContext(sysWrite, [6]uintptr{1, addr, uintptr(len(msg))})
	if exit := Handle(context.Background(), th, cx); exit {
		t.Fatal("write should not terminate the thread")
	}
	if cx.SyscallRet() != uintptr(len(msg)) {
		t.Fatalf("write return = %d, want %d", cx.SyscallRet(), len(msg))
	}
}

func TestHandleWriteToBadFDReturnsError(t *testing.T) {
	th := newTestThread(t)
	const addr = 0x700000
	scratchRegion(t, th, addr, 0x1000)

	cx := syscallContext(sysWrite, [6]uintptr{99, addr, 4})
	Handle(context.Background(), th, cx)
	if ret := int64(cx.SyscallRet()); ret >= 0 {
		t.Fatalf("write to a nonexistent fd should return a negative errno, got %d", ret)
	}
}

func TestHandleUnknownSyscallReturnsENOSYS(t *testing.T) {
	th := newTestThread(t)
	cx := syscallContext(9999, [6]uintptr{})
	if exit := Handle(context.Background(), th, cx); exit {
		t.Fatal("an unknown syscall should not terminate the thread")
	}
	want := negErrno(38)
	if cx.SyscallRet() != want {
		t.Fatalf("SyscallRet() = %#x, want -ENOSYS (%#x)", cx.SyscallRet(), want)
	}
}

func TestHandleForkCreatesIndependentChild(t *testing.T) {
	// fork immediately hands the child to kernel.Spawn, whose (empty)
	// scripted backend exits it again on the pool's first poll; a
	// registration check here would race that teardown, so this only
	// asserts what Handle itself guarantees synchronously: a distinct,
	// non-zero child pid.
	kernel.Init(2, 8)
	defer kernel.Shutdown()

	th := newTestThread(t)
	cx := syscallContext(sysFork, [6]uintptr{})
	if exit := Handle(context.Background(), th, cx); exit {
		t.Fatal("fork should not terminate the parent")
	}
	childPid := kernel.Pid(cx.SyscallRet())
	if childPid == 0 || childPid == th.Proc.Pid {
		t.Fatalf("fork should return a distinct non-zero child pid, got %d (parent %d)", childPid, th.Proc.Pid)
	}
}

func TestHandleCloneReturnsDistinctTid(t *testing.T) {
	// Same reasoning as the fork test above: NewClone's result is handed to
	// kernel.Spawn before Handle returns, so only the synchronously
	// guaranteed return value is asserted.
	kernel.Init(2, 8)
	defer kernel.Shutdown()

	th := newTestThread(t)
	const stack, tls, clearTid = 0x7f0000, 0x9000, 0xA000
	cx := syscallContext(sysClone, [6]uintptr{0, stack, 0, clearTid, tls})
	if exit := Handle(context.Background(), th, cx); exit {
		t.Fatal("clone should not terminate the creating thread")
	}
	childTid := kernel.Tid(cx.SyscallRet())
	if childTid == 0 || childTid == th.Tid() {
		t.Fatalf("clone should return a distinct non-zero tid, got %d (creator %d)", childTid, th.Tid())
	}
}

func TestHandleExecveReplacesImage(t *testing.T) {
	oldRoot := Root
	defer func() { Root = oldRoot }()

	fs := vfs.NewMemFS()
	const vaddr, entry = 0x500000, 0x500000 + 0x8
	fs.AddFile("/bin/second", buildStaticELF(vaddr, entry, make([]byte, 0x20)))
	Root = fs.Root()

	th := newTestThread(t)
	const pathAddr = 0x710000
	scratchRegion(t, th, pathAddr, 0x1000)
	path := append([]byte("/bin/second"), 0)
	if _, err := th.VM.WriteAt(pathAddr, path); err != nil {
		t.Fatalf("seeding path buffer: %v", err)
	}

	cx := syscallContext(sysExecve, [6]uintptr{pathAddr, 0, 0})
	if exit := Handle(context.Background(), th, cx); exit {
		t.Fatal("execve should not terminate the thread on success")
	}
	if cx.IP() != entry {
		t.Fatalf("IP() = %#x, want %#x", cx.IP(), entry)
	}
	if cx.SP() == 0 {
		t.Fatal("execve should leave a non-zero stack pointer")
	}
}

func TestHandleExecveWithoutRootFails(t *testing.T) {
	oldRoot := Root
	Root = nil
	defer func() { Root = oldRoot }()

	th := newTestThread(t)
	const pathAddr = 0x710000
	scratchRegion(t, th, pathAddr, 0x1000)

	cx := syscallContext(sysExecve, [6]uintptr{pathAddr, 0, 0})
	Handle(context.Background(), th, cx)
	if ret := int64(cx.SyscallRet()); ret >= 0 {
		t.Fatal("execve without a configured root should return a negative errno")
	}
}
