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

package memset

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
	"ucore.dev/ucore/pkg/platform"
)

// Frame is a single physical page, backed by a real anonymous mapping
// (golang.org/x/sys/unix.Mmap) rather than a plain make([]byte, …) slice, so
// that a frame leak is visible to the OS the way a real physical-frame leak
// would be.
type Frame struct {
	Bytes []byte
}

// FrameAllocator hands out zeroed, page-sized frames and reclaims them.
type FrameAllocator struct {
	mu     sync.Mutex
	live   int
}

// GlobalFrameAlloc is the process-wide frame allocator, the Go analogue of
// rcore_memory::GlobalFrameAlloc.
var GlobalFrameAlloc = &FrameAllocator{}

// Alloc returns one zeroed page-sized frame.
func (a *FrameAllocator) Alloc() (*Frame, error) {
	b, err := unix.Mmap(-1, 0, platform.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("frame alloc: %w", err)
	}
	a.mu.Lock()
	a.live++
	a.mu.Unlock()
	return &Frame{Bytes: b}, nil
}

// Free releases a frame back to the OS.
func (a *FrameAllocator) Free(f *Frame) {
	if f == nil || f.Bytes == nil {
		return
	}
	unix.Munmap(f.Bytes)
	a.mu.Lock()
	a.live--
	a.mu.Unlock()
}

// Live reports the number of frames currently outstanding; test helper for
// catching leaks across Clear/Fork.
func (a *FrameAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}
