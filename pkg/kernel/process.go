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
	"io"
	"sync"

	"ucore.dev/ucore/pkg/abi"
	"ucore.dev/ucore/pkg/errors/linuxerr"
	"ucore.dev/ucore/pkg/ipc"
	"ucore.dev/ucore/pkg/memset"
)

// FileDescription is the open-file-description side of a file descriptor,
// shared between a forked parent and child since fork duplicates table
// entries but not the underlying description.
type FileDescription struct {
	Inner    io.ReadWriter
	Readable bool
	Writable bool
}

// Read enforces the readable bit before delegating.
func (f *FileDescription) Read(p []byte) (int, error) {
	if !f.Readable {
		return 0, fmt.Errorf("read: %w", linuxerr.EBADF)
	}
	return f.Inner.Read(p)
}

// Write enforces the writable bit before delegating.
func (f *FileDescription) Write(p []byte) (int, error) {
	if !f.Writable {
		return 0, fmt.Errorf("write: %w", linuxerr.EBADF)
	}
	return f.Inner.Write(p)
}

// ParentLink is a non-owning reference to a parent process: a pid plus a
// weak reference to the parent record. Rather than a real weak pointer (not
// a stdlib concept before go1.24's weak package, which this module doesn't
// require), Upgrade re-resolves through PROCESSES, so an exited parent is
// observed as absent exactly like a failed Weak::upgrade.
type ParentLink struct {
	Pid Pid
}

// Upgrade resolves the link, returning ok=false if the parent has exited.
func (l ParentLink) Upgrade() (*Process, bool) {
	return LookupProcess(l.Pid)
}

// ChildLink is the process-owning analogue: a sequence of (child pid, weak
// reference) entries. children are logically owned downward,
// but since Process itself is long-lived only via PROCESSES, a plain Pid
// plus table lookup serves the same purpose without a second reference
// count to keep consistent.
type ChildLink struct {
	Pid Pid
}

// Upgrade resolves the link, returning ok=false if the child has already
// been reaped.
func (l ChildLink) Upgrade() (*Process, bool) {
	return LookupProcess(l.Pid)
}

// Process is the per-process record.
type Process struct {
	mu sync.Mutex

	VM *memset.MemorySet

	files map[int32]*FileDescription

	Cwd      string
	ExecPath string

	futexes map[uintptr]*sync.Cond

	Semaphores *ipc.SemProc

	Pid     Pid
	Pgid    Pid
	Parent  ParentLink
	Children []ChildLink
	Threads  []Tid

	ExitCode int32

	PendingSigset Sigset
	SigQueue      []Siginfo
	Dispositions  [abi.RTMAX + 1]SignalAction
	SigAltStack   SignalStack
	EventBus      *EventBus
}

// newBlankProcess allocates a Process with every collection initialized and
// defaults set, shared by NewUser and Fork.
func newBlankProcess(vm *memset.MemorySet, cwd, execPath string) *Process {
	return &Process{
		VM:         vm,
		files:      make(map[int32]*FileDescription),
		Cwd:        cwd,
		ExecPath:   execPath,
		futexes:    make(map[uintptr]*sync.Cond),
		Semaphores: ipc.NewSemProc(),
		EventBus:   NewEventBus(),
	}
}

// SetFile installs fd in the process's file table, replacing any existing
// entry (dup2 semantics).
func (p *Process) SetFile(fd int32, f *FileDescription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[fd] = f
}

// File looks up fd in the process's file table.
func (p *Process) File(fd int32) (*FileDescription, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[fd]
	return f, ok
}

// CloseFile removes fd from the table.
func (p *Process) CloseFile(fd int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.files, fd)
}

// cloneFileTable returns a shallow copy: new map, same *FileDescription
// values, i.e. shared description, duplicated table entries.
func (p *Process) cloneFileTable() map[int32]*FileDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int32]*FileDescription, len(p.files))
	for fd, f := range p.files {
		out[fd] = f
	}
	return out
}

// AddThread records tid as belonging to this process.
func (p *Process) AddThread(tid Tid) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Threads = append(p.Threads, tid)
}

// RemoveThread drops tid from this process's thread list, reporting whether
// the process now has no threads left (i.e. has terminated).
func (p *Process) RemoveThread(tid Tid) (empty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.Threads {
		if t == tid {
			p.Threads = append(p.Threads[:i], p.Threads[i+1:]...)
			break
		}
	}
	return len(p.Threads) == 0
}

// AddChild records a new child process.
func (p *Process) AddChild(c ChildLink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Children = append(p.Children, c)
}

// FutexWaitQueue returns (creating if necessary) the wait-queue primitive
// for the futex word at uaddr.
func (p *Process) FutexWaitQueue(uaddr uintptr) *sync.Cond {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.futexes[uaddr]
	if !ok {
		c = sync.NewCond(&sync.Mutex{})
		p.futexes[uaddr] = c
	}
	return c
}

// PROCESSES is the process-wide Pid -> Process table, populated through
// AddToProcessTable.
var (
	processesMu sync.RWMutex
	processes   = make(map[Pid]*Process)
)

// AddToProcessTable registers proc under pid.
func AddToProcessTable(proc *Process, pid Pid) {
	proc.mu.Lock()
	proc.Pid = pid
	proc.mu.Unlock()
	processesMu.Lock()
	processes[pid] = proc
	processesMu.Unlock()
}

// LookupProcess returns the process registered under pid, if any.
func LookupProcess(pid Pid) (*Process, bool) {
	processesMu.RLock()
	defer processesMu.RUnlock()
	p, ok := processes[pid]
	return p, ok
}

// RemoveProcess unregisters pid; called once its last thread exits.
func RemoveProcess(pid Pid) {
	processesMu.Lock()
	delete(processes, pid)
	processesMu.Unlock()
	pidSpace.Release(pid)
}
