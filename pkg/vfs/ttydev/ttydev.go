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

// Package ttydev implements /dev/tty, the device the default file table's
// fd 0/1/2 are bound to, grounded on gVisor's own pkg/sentry/devices/ttydev
// (a vfs.Device for /dev/tty).
package ttydev

import (
	"bytes"
	"sync"
)

// TTY is a trivial terminal device: Write appends to an in-memory
// transcript (what a test or cmd/ucore's console prints), Read drains a
// byte queue fed by the host terminal.
type TTY struct {
	mu         sync.Mutex
	transcript bytes.Buffer
	input      chan byte
}

// New returns a fresh TTY with no pending input.
func New() *TTY {
	return &TTY{input: make(chan byte, 4096)}
}

// Write implements the write-only fd 1/2 path: append to the transcript.
func (t *TTY) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transcript.Write(p)
}

// Read implements the read-only fd 0 path: drain queued input bytes,
// blocking the caller's goroutine until at least one byte is available —
// the kernel-core's only real suspension point outside syscall dispatch is
// intentionally pushed down here, as the "awaiting I/O" state.
func (t *TTY) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = <-t.input
	n := 1
	for n < len(p) {
		select {
		case b := <-t.input:
			p[n] = b
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Feed enqueues bytes as if typed at the host terminal.
func (t *TTY) Feed(p []byte) {
	for _, b := range p {
		t.input <- b
	}
}

// Transcript returns everything written to the TTY so far; test helper.
func (t *TTY) Transcript() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.transcript.Bytes()...)
}
