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
	"context"
	"sync/atomic"

	"ucore.dev/ucore/pkg/executor"
	"ucore.dev/ucore/pkg/log"
	"ucore.dev/ucore/pkg/platform"
)

// SyscallHandler dispatches one syscall trap and reports whether the thread
// should terminate. pkg/syscall installs this at init time rather than
// being imported directly here, so the dependency runs syscall -> kernel,
// never the reverse: the syscall dispatcher is a consumer of this package,
// not the other way around.
var SyscallHandler func(ctx context.Context, t *Thread, cx *platform.Context) (exit bool)

// irqController and serialDevice are the interrupt controller and UART every
// run-loop shares; there is exactly one of each, mirroring the single local
// APIC and COM1 a real run-loop acknowledges.
var (
	irqController platform.APIC
	serialDevice  = platform.NewSerial()

	// TimerTicks counts external timer IRQs (vector VectorTimer) serviced
	// across every run-loop, the stand-in for a scheduler tick callback.
	TimerTicks atomic.Uint64

	// ConsoleNotify, if set, receives each byte drained off serialDevice on
	// a VectorCOM1 IRQ, the same injection pattern as SyscallHandler. No
	// package in this module installs it; while it is nil the drained byte
	// is discarded.
	ConsoleNotify func(b byte)
)

// IRQController returns the run-loop's shared interrupt controller, for
// tests and device code that need to push interrupts or inspect EOI counts.
func IRQController() *platform.APIC { return &irqController }

// Serial returns the run-loop's shared COM1 stand-in, for tests and device
// code that need to enqueue bytes as if they'd arrived on the wire.
func Serial() *platform.Serial { return serialDevice }

// runLoopTask is one Poll-per-trap iteration of the run-loop: take the
// context out of the thread, run it until it traps back to the kernel,
// dispatch on the trap cause, and (unless the thread is exiting) give the
// context back.
type runLoopTask struct {
	thread *Thread
}

// Poll implements executor.Task. Returning done=true tells the pool never to
// poll this task again; the run-loop uses that exactly when the thread has
// exited.
func (r *runLoopTask) Poll(cpu executor.CPUID) bool {
	t := r.thread
	cx := t.BeginRunning()
	if cx == nil {
		// Another worker is already running this thread's run-loop frame —
		// should never happen since a thread is only ever spawned once, but
		// treat it as done rather than corrupting shared state.
		return true
	}

	cx.Run()

	switch {
	case cx.TrapNum() == platform.VectorPageFault:
		if err := t.VM.HandlePageFault(cx.FaultAddr()); err != nil {
			log.Warningf("tid %d: unresolved page fault at %#x: %v", t.Tid(), cx.FaultAddr(), err)
			r.terminate(t, 139) // matches a SIGSEGV-killed process's wait status convention
			return true
		}
		t.EndRunning(cx)
		return false

	case platform.IsIRQ(cx.TrapNum()):
		r.handleIRQ(cx.TrapNum())
		t.EndRunning(cx)
		return false

	case cx.TrapNum() == platform.VectorSyscall:
		exit := dispatchSyscall(t, cx)
		if exit {
			r.terminate(t, int32(cx.SyscallRet()))
			return true
		}
		t.EndRunning(cx)
		return false

	default:
		log.Debugf("tid %d: ignoring unrecognized trap %#x", t.Tid(), cx.TrapNum())
		t.EndRunning(cx)
		return false
	}
}

// handleIRQ services an external interrupt: EOI the local APIC first, always,
// then dispatch on the vector — VectorTimer ticks the scheduler clock,
// VectorCOM1 drains one byte off the UART and hands it to ConsoleNotify.
// Every other IRQ in the range is acknowledged and otherwise ignored.
func (r *runLoopTask) handleIRQ(trapNum uint64) {
	log.Debugf("tid %d: servicing IRQ %#x", r.thread.Tid(), trapNum)
	irqController.EOI()

	switch trapNum {
	case platform.VectorTimer:
		TimerTicks.Add(1)
	case platform.VectorCOM1:
		b := serialDevice.Receive()
		if ConsoleNotify != nil {
			ConsoleNotify(b)
		}
	}
}

// dispatchSyscall hands a syscall trap to SyscallHandler, defaulting to
// -ENOSYS without terminating the thread if nothing registered a handler
// (e.g. a unit test exercising the run-loop in isolation).
func dispatchSyscall(t *Thread, cx *platform.Context) bool {
	if SyscallHandler == nil {
		cx.SetSyscallRet(^uintptr(38) + 1) // -ENOSYS (errno 38), two's complement
		return false
	}
	return SyscallHandler(context.Background(), t, cx)
}

// terminate tears down a thread that has exited: clear_child_tid
// futex-wake, deregistration from THREADS, and — once the process's last
// thread is gone — from PROCESSES too.
func (r *runLoopTask) terminate(t *Thread, exitCode int32) {
	if addr := t.ClearChildTid(); addr != 0 {
		var zero [8]byte
		if _, err := t.VM.WriteAt(addr, zero[:]); err != nil {
			log.Debugf("tid %d: clear_child_tid write failed: %v", t.Tid(), err)
		}
		t.Proc.FutexWaitQueue(addr).Broadcast()
	}

	proc := t.Proc
	empty := proc.RemoveThread(t.Tid())
	removeFromTable(t.Tid())

	if empty {
		proc.mu.Lock()
		proc.ExitCode = exitCode
		proc.mu.Unlock()
		if parent, ok := proc.Parent.Upgrade(); ok {
			parent.EventBus.Notify()
		}
		proc.EventBus.Notify()
		RemoveProcess(proc.Pid)
	}
}
