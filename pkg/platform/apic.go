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

package platform

import "sync/atomic"

// APIC stands in for the interrupt controller the run-loop must acknowledge
// on every external IRQ. The interrupt controller's real hardware behavior
// is out of this core's scope; this type only counts EOIs so tests can
// assert the run-loop never forgets one.
type APIC struct {
	eois atomic.Uint64
}

// EOI acknowledges the current interrupt at the local APIC.
func (a *APIC) EOI() { a.eois.Add(1) }

// EOICount reports how many EOIs have been issued; test helper only.
func (a *APIC) EOICount() uint64 { return a.eois.Load() }

// Serial stands in for the COM1 UART driver: Receive yields the next queued
// byte (0 if none queued), matching the run-loop's "reads a byte from the
// UART" contract.
type Serial struct {
	queue chan byte
}

// NewSerial returns an empty serial device with reasonable buffering.
func NewSerial() *Serial {
	return &Serial{queue: make(chan byte, 256)}
}

// Push enqueues a byte as if it had arrived on the wire; used by tests
// driving a timer/serial interrupt scenario.
func (s *Serial) Push(b byte) {
	select {
	case s.queue <- b:
	default:
	}
}

// Receive dequeues the next byte, or 0 if none is pending.
func (s *Serial) Receive() byte {
	select {
	case b := <-s.queue:
		return b
	default:
		return 0
	}
}
