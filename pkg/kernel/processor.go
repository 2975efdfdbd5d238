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
	"runtime"
	"sync/atomic"

	"ucore.dev/ucore/pkg/executor"
	"ucore.dev/ucore/pkg/log"
	"ucore.dev/ucore/pkg/platform"
)

// Processors holds, for each virtual CPU, the thread currently installed on
// it — nil when the CPU is idle. Populated only for the duration of a
// single Poll, by pollWrapper's Hooks: PROCESSORS[cpu] aliases the running
// thread from BeforePoll, which also installs its page table, until
// AfterPoll.
var Processors []atomic.Pointer[Thread]

var pool *executor.Pool

// Init prepares the run-loop's virtual CPUs: the executor worker pool, the
// per-CPU page-table token slots, and the Processors aliasing table. Must
// run once before the first Spawn.
func Init(numCPU, maxOutstanding int) {
	Processors = make([]atomic.Pointer[Thread], numCPU)
	platform.InitCPUs(numCPU)
	pool = executor.NewPool(numCPU, maxOutstanding)
}

// InitDefault calls Init with one virtual CPU per GOMAXPROCS and a generous
// outstanding-task bound.
func InitDefault() {
	n := runtime.GOMAXPROCS(0)
	Init(n, 4*n+16)
}

// Shutdown stops the executor pool and waits for every worker goroutine to
// exit; threads still queued are not polled again.
func Shutdown() {
	if pool != nil {
		pool.Close()
	}
}

// pollWrapper is the page-table-switch wrapper around a thread's run-loop:
// an executor.Task whose Hooks install the thread's address-space token
// (read from VM.Token at every BeforePoll) and Processors entry before each
// individual Poll, and clear the Processors entry immediately after. The
// installed token stays on that CPU until the next install. Nothing is held
// across polls, so a thread genuinely may move to a different virtual CPU
// between two of its own polls.
type pollWrapper struct {
	thread  *Thread
	runLoop *runLoopTask
}

func (w *pollWrapper) BeforePoll(cpu executor.CPUID) {
	Processors[cpu].Store(w.thread)
	platform.InstallPageTable(int(cpu), w.thread.VM.Token())
}

func (w *pollWrapper) AfterPoll(cpu executor.CPUID) {
	Processors[cpu].Store(nil)
}

func (w *pollWrapper) Poll(cpu executor.CPUID) bool {
	return w.runLoop.Poll(cpu)
}

// Spawn admits thread into the executor pool wrapped in its page-table
// switch wrapper.
func Spawn(thread *Thread) error {
	w := &pollWrapper{thread: thread, runLoop: &runLoopTask{thread: thread}}
	if err := pool.Spawn(w); err != nil {
		log.Warningf("kernel: spawning tid %d: %v", thread.Tid(), err)
		return err
	}
	return nil
}
