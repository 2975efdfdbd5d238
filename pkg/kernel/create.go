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

package kernel

import (
	"fmt"

	"ucore.dev/ucore/pkg/loader"
	"ucore.dev/ucore/pkg/memset"
	"ucore.dev/ucore/pkg/platform"
	"ucore.dev/ucore/pkg/vfs"
	"ucore.dev/ucore/pkg/vfs/ttydev"
)

// NewUser builds a fresh process and its single primary thread from an ELF
// executable, the Go analogue of Thread::new_user: load the image, seed a
// Context at its entry point and initial stack, install the default
// stdin/stdout/stderr bound to a TTY, and register both thread and process.
func NewUser(inode vfs.INode, execPath string, args, envs []string) (*Thread, error) {
	vm := memset.New()
	entry, stackTop, err := loader.LoadUser(inode, args, envs, vm)
	if err != nil {
		return nil, fmt.Errorf("loading user image %s: %w", execPath, err)
	}

	cx := platform.Default()
	cx.SetIP(entry)
	cx.SetSP(stackTop)

	proc := newBlankProcess(vm, "/", execPath)
	proc.Parent = ParentLink{Pid: INIT}

	tty := ttydev.New()
	proc.SetFile(0, &FileDescription{Inner: tty, Readable: true})
	proc.SetFile(1, &FileDescription{Inner: tty, Writable: true})
	proc.SetFile(2, &FileDescription{Inner: tty, Writable: true})

	th := &Thread{VM: vm, Proc: proc}
	th.inner.context = cx
	AddToTable(th)
	proc.AddThread(th.tid)
	proc.Pgid = Pid(th.tid)
	AddToProcessTable(proc, Pid(th.tid))

	return th, nil
}

// Fork duplicates t's process: an independently mutable copy of the address
// space (memset.MemorySet.Fork), a file table sharing descriptions but not
// entries, a duplicated semaphore table, and a new primary thread whose
// saved context is tf with the fork return value patched to 0, matching
// Thread::fork.
func (t *Thread) Fork(tf *platform.Context) (*Thread, error) {
	t.mu.Lock()
	proc := t.Proc
	t.mu.Unlock()

	childVM, err := proc.VM.Fork()
	if err != nil {
		return nil, fmt.Errorf("forking address space: %w", err)
	}

	proc.mu.Lock()
	cwd, execPath, pgid := proc.Cwd, proc.ExecPath, proc.Pgid
	dispositions := proc.Dispositions
	proc.mu.Unlock()

	childProc := newBlankProcess(childVM, cwd, execPath)
	childProc.files = proc.cloneFileTable()
	childProc.Semaphores = proc.Semaphores.Clone()
	childProc.Pgid = pgid
	childProc.Dispositions = dispositions
	childProc.Parent = ParentLink{Pid: proc.Pid}

	cx := tf.Clone()
	cx.SetSyscallRet(0)

	child := &Thread{VM: childVM, Proc: childProc, SigMask: t.SigMask}
	child.inner.context = cx
	AddToTable(child)
	childProc.AddThread(child.tid)
	AddToProcessTable(childProc, Pid(child.tid))
	proc.AddChild(ChildLink{Pid: childProc.Pid})

	return child, nil
}

// NewClone creates an additional thread inside t's own process (the
// pthread_create / clone(CLONE_THREAD) path): the address space and process
// record are shared, not copied. ctx is cloned and patched with the
// requested stack/TLS and a zero syscall return value; clearChildTid is
// recorded so terminate can futex-wake it once this thread exits.
func (t *Thread) NewClone(ctx *platform.Context, stackTop, tls, clearChildTid uintptr) (*Thread, error) {
	t.mu.Lock()
	proc := t.Proc
	t.mu.Unlock()

	cx := ctx.Clone()
	cx.SetSP(stackTop)
	cx.SetTLS(tls)
	cx.SetSyscallRet(0)

	child := &Thread{VM: t.VM, Proc: proc, SigMask: t.SigMask}
	child.inner.context = cx
	child.inner.clearChildTid = clearChildTid
	AddToTable(child)
	proc.AddThread(child.tid)

	return child, nil
}
