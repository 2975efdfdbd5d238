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

// Package platform defines UserContext (the saved architectural state of a
// user thread) and the handful of "architectural store" operations the
// kernel core treats as consumed, external interfaces: Run, TrapNum,
// InstallPageTable, and the interrupt-controller/serial stand-ins.
//
// The actual act of executing user instructions (a real ptrace/KVM/systrap
// backend, in gVisor's terms) is out of scope here; Context.Run delegates to
// a pluggable Backend so the run-loop, creation, and loader logic can be
// exercised deterministically without a real ring-3 transition.
package platform

import "sync"

// DefaultRFlags is the x86-64 rflags value new contexts start with: IF set,
// reserved bit 1 set, matching thread.rs's `context.general.rflags = 0x3202`.
const DefaultRFlags = 0x3202

// Backend performs one "return to user mode" step, mutating cx's trap fields
// to describe why control returned to the kernel.
type Backend interface {
	RunUser(cx *Context)
}

// Context is the saved register/state block of a user thread: the Go
// analogue of trapframe::UserContext.
type Context struct {
	ip, sp, tls, syscallRet uintptr
	syscallNum              uintptr
	args                    [6]uintptr
	flags                   uint64

	trapNum   uint64
	faultAddr uintptr

	backend Backend
}

// Default returns a zeroed context with DefaultRFlags set and the default
// scripted backend, matching UserContext::default plus the rflags
// initialization new_user performs.
func Default() *Context {
	return &Context{flags: DefaultRFlags, backend: NewScriptedBackend()}
}

// Clone returns a deep copy, used by Thread.Fork and Thread.NewClone to
// duplicate a trap frame before mutating the copy.
func (c *Context) Clone() *Context {
	cp := *c
	if sb, ok := c.backend.(*ScriptedBackend); ok {
		cp.backend = sb.clone()
	}
	return &cp
}

func (c *Context) SetIP(ip uintptr)       { c.ip = ip }
func (c *Context) SetSP(sp uintptr)       { c.sp = sp }
func (c *Context) SetTLS(tls uintptr)     { c.tls = tls }
func (c *Context) SetSyscallRet(v uintptr) { c.syscallRet = v }
func (c *Context) IP() uintptr            { return c.ip }
func (c *Context) SP() uintptr            { return c.sp }
func (c *Context) TLS() uintptr           { return c.tls }
func (c *Context) SyscallRet() uintptr    { return c.syscallRet }
func (c *Context) Flags() uint64          { return c.flags }
func (c *Context) SetFlags(f uint64)      { c.flags = f }

// SyscallNum is the syscall number staged in the syscall-ABI number register
// (RAX on entry, on x86-64) for the most recent syscall trap.
func (c *Context) SyscallNum() uintptr { return c.syscallNum }

// SyscallArgs returns the six syscall-ABI argument registers.
func (c *Context) SyscallArgs() [6]uintptr { return c.args }

// SetSyscallArgs sets the syscall number and argument registers, used by
// tests and the scripted backend to stage a syscall trap.
func (c *Context) SetSyscallArgs(num uintptr, args [6]uintptr) {
	c.syscallNum = num
	c.args = args
}

// SetBackend overrides the execution backend, e.g. to attach a test's
// scripted trap sequence or (eventually) a real ptrace/KVM backend.
func (c *Context) SetBackend(b Backend) { c.backend = b }

// Backend returns the context's current execution backend.
func (c *Context) Backend() Backend { return c.backend }

// Run performs a synchronous "return to user" step: control returns only
// once the architectural backend has trapped back into the kernel, at which
// point TrapNum and, if applicable, FaultAddr describe the cause.
func (c *Context) Run() {
	c.backend.RunUser(c)
}

// TrapNum is the architecture-defined cause of the most recent trap.
func (c *Context) TrapNum() uint64 { return c.trapNum }

// FaultAddr is the faulting address of the most recent page-fault trap.
func (c *Context) FaultAddr() uintptr { return c.faultAddr }

// Trap is a single scripted trap event consumed by ScriptedBackend.
type Trap struct {
	Num        uint64
	FaultAddr  uintptr
	SyscallNum uintptr
	Args       [6]uintptr
}

// ScriptedBackend drives a Context through an experimenter-supplied sequence
// of traps, standing in for a real CPU backend in tests and in the reference
// cmd/ucore binary. When the script is exhausted it synthesizes an
// exit_group(0) syscall trap rather than looping forever.
type ScriptedBackend struct {
	mu     sync.Mutex
	script []Trap
	pos    int
}

// NewScriptedBackend returns an empty scripted backend.
func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{}
}

// Enqueue appends traps to the end of the script.
func (b *ScriptedBackend) Enqueue(traps ...Trap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script, traps...)
}

func (b *ScriptedBackend) clone() *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := &ScriptedBackend{script: append([]Trap(nil), b.script...), pos: b.pos}
	return cp
}

// RunUser implements Backend.
func (b *ScriptedBackend) RunUser(cx *Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pos >= len(b.script) {
		// Exhausted script: behave like a program that falls off the end and
		// exits cleanly, rather than trapping forever.
		cx.trapNum = VectorSyscall
		cx.syscallNum = 231 // exit_group
		cx.args = [6]uintptr{}
		return
	}
	t := b.script[b.pos]
	b.pos++
	cx.trapNum = t.Num
	cx.faultAddr = t.FaultAddr
	cx.syscallNum = t.SyscallNum
	cx.args = t.Args
}
