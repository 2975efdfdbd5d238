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
	"sync"

	"ucore.dev/ucore/pkg/memset"
	"ucore.dev/ucore/pkg/platform"
)

// threadInner is the mutable part of a Thread, guarded by Thread.mu: the
// saved user context (present iff the thread is not currently executing in
// user mode) and the clear_child_tid address.
type threadInner struct {
	context       *platform.Context
	clearChildTid uintptr
}

// Thread is the per-thread record.
type Thread struct {
	mu    sync.Mutex
	inner threadInner

	// VM aliases Proc.VM; cached here so the run-loop never takes the
	// process lock on every poll.
	VM   *memset.MemorySet
	Proc *Process

	tid Tid // write-once, set by AddToTable

	SigMask Sigset
}

// Tid returns the thread's identifier. Zero until AddToTable runs.
func (t *Thread) Tid() Tid { return t.tid }

// ClearChildTid returns the user address to zero + futex-wake on exit.
func (t *Thread) ClearChildTid() uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.clearChildTid
}

// SetClearChildTid implements set_tid_address(2).
func (t *Thread) SetClearChildTid(addr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inner.clearChildTid = addr
}

// BeginRunning moves the saved context out of the thread record: from this
// point until EndRunning, the run-loop frame owns it exclusively.
func (t *Thread) BeginRunning() *platform.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	cx := t.inner.context
	t.inner.context = nil
	return cx
}

// EndRunning restores the context, making it observable again to anything
// that locks the thread (there is no such reader in this core today, but
// e.g. signal delivery would need one).
func (t *Thread) EndRunning(cx *platform.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inner.context = cx
}

// THREADS is the process-wide Tid -> Thread table.
var (
	threadsMu sync.RWMutex
	threads   = make(map[Tid]*Thread)
)

// AddToTable assigns the smallest unused Tid >= INIT, mutates t.tid, and
// installs t in THREADS, matching Thread::add_to_table.
func AddToTable(t *Thread) *Thread {
	threadsMu.Lock()
	defer threadsMu.Unlock()
	t.tid = tidSpace.Alloc()
	threads[t.tid] = t
	return t
}

// LookupThread returns the thread registered under tid, if any.
func LookupThread(tid Tid) (*Thread, bool) {
	threadsMu.RLock()
	defer threadsMu.RUnlock()
	t, ok := threads[tid]
	return t, ok
}

// removeFromTable drops tid from THREADS and releases the identifier.
func removeFromTable(tid Tid) {
	threadsMu.Lock()
	delete(threads, tid)
	threadsMu.Unlock()
	tidSpace.Release(tid)
}

// ThreadCount reports the number of live threads; test helper for asserting
// THREADS loses the entry after teardown.
func ThreadCount() int {
	threadsMu.RLock()
	defer threadsMu.RUnlock()
	return len(threads)
}
