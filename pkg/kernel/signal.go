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

import "sync"

// Sigset is a signal mask/pending-set; bit (n-1) represents signal n, up to
// RTMAX.
type Sigset uint64

// Empty returns the empty set.
func Empty() Sigset { return 0 }

func (s Sigset) Has(sig int) bool   { return s&(1<<uint(sig-1)) != 0 }
func (s Sigset) Add(sig int) Sigset { return s | (1 << uint(sig-1)) }
func (s Sigset) Del(sig int) Sigset { return s &^ (1 << uint(sig-1)) }

// SignalAction is one entry of a process's dispositions table.
type SignalAction struct {
	// Handler is 0 (SIG_DFL), 1 (SIG_IGN), or a user-space handler address.
	Handler uintptr
	Flags   uint64
	Mask    Sigset
}

// SignalStack describes an alternate signal stack (sigaltstack(2)).
type SignalStack struct {
	SP       uintptr
	Size     uintptr
	Disabled bool
}

// Siginfo is one queued signal, the Go analogue of siginfo_t's subset this
// core cares about.
type Siginfo struct {
	Signo int32
	Code  int32
	Pid   Pid
}

// EventBus notifies waiters (wait/waitpid/signal delivery) of process-level
// events without handing them a typed payload — callers re-check whatever
// condition they were waiting on after waking.
type EventBus struct {
	mu   sync.Mutex
	cond *sync.Cond
	gen  uint64
}

// NewEventBus returns a ready-to-use event bus.
func NewEventBus() *EventBus {
	b := &EventBus{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until the next Notify.
func (b *EventBus) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	for gen == b.gen {
		b.cond.Wait()
	}
}

// Notify wakes every current waiter.
func (b *EventBus) Notify() {
	b.mu.Lock()
	b.gen++
	b.mu.Unlock()
	b.cond.Broadcast()
}
