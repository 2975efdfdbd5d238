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

// Package memset implements MemorySet, the address-space primitive the
// kernel core treats as an external collaborator: region push, page-fault
// resolver, address-space token, activation. It is a real, if simplified,
// implementation: each MemorySet owns a set of
// page-aligned regions, each backed by real anonymous frames
// (pkg/memset.GlobalFrameAlloc), so the loader and run-loop packages have
// something genuine to drive rather than a mock.
package memset

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"ucore.dev/ucore/pkg/errors/linuxerr"
	"ucore.dev/ucore/pkg/platform"
)

// Backing names how a region's frames come into existence: Delay, ByFrame,
// File, Read.
type Backing int

const (
	// Delay: demand-paged, zero-filled on first access.
	Delay Backing = iota
	// ByFrame: backed by frames allocated eagerly at Push time, zero-filled.
	ByFrame
	// File: backed by frames allocated eagerly at Push time and filled from
	// Source at PushOffset.
	File
	// Read: like File, but the region is never written back (used for
	// read-only mappings such as ELF text/rodata).
	Read
)

// Attr is a builder for MemoryAttr: User/Execute/Writable toggle
// the page protection bits a real page-table entry would carry. This
// simulation never enforces them (there is no MMU to fault on a protection
// violation), but they are threaded through so a future real backend has
// somewhere to read them from.
type Attr struct {
	UserAttr    bool
	ExecuteAttr bool
	WritableAttr bool
}

// Default returns the zero Attr (kernel-only, non-executable, read-only).
func Default() Attr { return Attr{} }

func (a Attr) User() Attr    { a.UserAttr = true; return a }
func (a Attr) Execute() Attr { a.ExecuteAttr = true; return a }
func (a Attr) Write() Attr   { a.WritableAttr = true; return a }

// region is one pushed mapping.
type region struct {
	start, end uintptr
	attr       Attr
	backing    Backing
	label      string

	source       io.ReaderAt
	sourceOffset int64

	mu     sync.Mutex
	frames map[uintptr]*Frame // keyed by page-aligned address
}

func pageAlign(addr uintptr) uintptr {
	return addr &^ (platform.PageSize - 1)
}

// tokenCounter hands out unique, never-reused address-space tokens —
// MemorySet.Token's analogue of a page-table root physical address.
var tokenCounter atomic.Uint64

// MemorySet is one process's address space.
type MemorySet struct {
	mu      sync.Mutex
	regions []*region
	token   uintptr
}

// New returns an empty address space with a freshly minted token.
func New() *MemorySet {
	return &MemorySet{token: uintptr(tokenCounter.Add(1))}
}

// Clear drops every region, freeing their frames. Mints a new token: a
// cleared space is architecturally a different page table.
func (m *MemorySet) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regions {
		r.mu.Lock()
		for _, f := range r.frames {
			GlobalFrameAlloc.Free(f)
		}
		r.mu.Unlock()
	}
	m.regions = nil
	m.token = uintptr(tokenCounter.Add(1))
}

// Push installs a new region. For ByFrame/File/Read backings, frames are
// allocated (and, for File/Read, filled from source at sourceOffset) before
// Push returns; for Delay, frames come into existence only via
// HandlePageFault.
func (m *MemorySet) Push(start, end uintptr, attr Attr, backing Backing, label string) error {
	return m.pushFrom(start, end, attr, backing, label, nil, 0)
}

// PushFrom is Push for File/Read backings, additionally eager-reading from
// source starting at sourceOffset — the loader's equivalent of
// ElfFile::make_memory_set mapping a PT_LOAD segment's file bytes.
func (m *MemorySet) PushFrom(start, end uintptr, attr Attr, backing Backing, label string, source io.ReaderAt, sourceOffset int64) error {
	return m.pushFrom(start, end, attr, backing, label, source, sourceOffset)
}

func (m *MemorySet) pushFrom(start, end uintptr, attr Attr, backing Backing, label string, source io.ReaderAt, sourceOffset int64) error {
	if end <= start {
		return fmt.Errorf("memset: empty or inverted region [%#x, %#x)", start, end)
	}
	start, end = pageAlign(start), pageAlign(end-1)+platform.PageSize
	r := &region{
		start: start, end: end, attr: attr, backing: backing, label: label,
		source: source, sourceOffset: sourceOffset,
		frames: make(map[uintptr]*Frame),
	}
	if backing != Delay {
		for addr := start; addr < end; addr += platform.PageSize {
			f, err := m.materialize(r, addr)
			if err != nil {
				for _, f := range r.frames {
					GlobalFrameAlloc.Free(f)
				}
				return err
			}
			r.frames[addr] = f
		}
	}
	m.mu.Lock()
	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].start < m.regions[j].start })
	m.mu.Unlock()
	return nil
}

func (m *MemorySet) materialize(r *region, pageAddr uintptr) (*Frame, error) {
	f, err := GlobalFrameAlloc.Alloc()
	if err != nil {
		return nil, err
	}
	if r.source != nil {
		off := r.sourceOffset + int64(pageAddr-r.start)
		n, err := r.source.ReadAt(f.Bytes, off)
		if err != nil && err != io.EOF {
			GlobalFrameAlloc.Free(f)
			return nil, fmt.Errorf("memset: reading backing source for %q: %w", r.label, err)
		}
		for i := n; i < len(f.Bytes); i++ {
			f.Bytes[i] = 0
		}
	}
	return f, nil
}

// findRegion returns the region containing addr, or nil.
func (m *MemorySet) findRegion(addr uintptr) *region {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regions {
		if addr >= r.start && addr < r.end {
			return r
		}
	}
	return nil
}

// HandlePageFault resolves a fault at addr by installing a frame for the
// faulting page of whichever region contains it (zero-filled, or filled
// from the region's source if it has one); a page that already has a frame
// is left as is. A fault outside any region is an error; the run-loop
// terminates the faulting thread on it rather than delivering a signal.
func (m *MemorySet) HandlePageFault(addr uintptr) error {
	r := m.findRegion(addr)
	if r == nil {
		return fmt.Errorf("page fault at %#x: %w", addr, linuxerr.EINVAL)
	}
	page := pageAlign(addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.frames[page]; ok {
		return nil // raced with another resolution; already installed
	}
	f, err := m.materialize(r, page)
	if err != nil {
		return err
	}
	r.frames[page] = f
	return nil
}

// With runs f with the address space active. There is no real MMU to
// activate here; With exists so callers (the loader writing the initial
// stack) express "temporarily become this address space" as a single call,
// and a future real backend has one place to hook page-table activation
// into.
func (m *MemorySet) With(f func()) {
	f()
}

// Token returns the opaque page-table-root handle installed by
// platform.InstallPageTable at every run-loop poll.
func (m *MemorySet) Token() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// ReadAt copies len(p) bytes starting at virtual address addr into p,
// resolving page faults (materializing Delay frames) as it goes — the
// access pattern of a copy_from_user.
func (m *MemorySet) ReadAt(addr uintptr, p []byte) (int, error) {
	return m.access(addr, p, false)
}

// WriteAt copies p into the address space starting at virtual address addr,
// the copy_to_user equivalent. Returns an error if the target region was
// pushed as Read (read-only).
func (m *MemorySet) WriteAt(addr uintptr, p []byte) (int, error) {
	return m.access(addr, p, true)
}

func (m *MemorySet) access(addr uintptr, p []byte, write bool) (int, error) {
	n := 0
	for n < len(p) {
		page := pageAlign(addr)
		r := m.findRegion(addr)
		if r == nil {
			return n, fmt.Errorf("access at %#x: %w", addr, linuxerr.EINVAL)
		}
		if write && r.backing == Read {
			return n, fmt.Errorf("write to read-only region %q at %#x: %w", r.label, addr, linuxerr.EINVAL)
		}
		r.mu.Lock()
		f, ok := r.frames[page]
		r.mu.Unlock()
		if !ok {
			if err := m.HandlePageFault(addr); err != nil {
				return n, err
			}
			r.mu.Lock()
			f = r.frames[page]
			r.mu.Unlock()
		}
		off := int(addr - page)
		avail := platform.PageSize - off
		want := len(p) - n
		if want > avail {
			want = avail
		}
		if write {
			copy(f.Bytes[off:off+want], p[n:n+want])
		} else {
			copy(p[n:n+want], f.Bytes[off:off+want])
		}
		n += want
		addr += uintptr(want)
	}
	return n, nil
}

// Fork returns an independently mutable copy of m: every frame is
// deep-copied so mutations in either space are invisible to the other.
// Copy-on-write is left to a future real backend; a fork only needs to be
// independently mutable, and an eager copy satisfies that without the extra
// bookkeeping real COW would require.
func (m *MemorySet) Fork() (*MemorySet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := New()
	for _, r := range m.regions {
		r.mu.Lock()
		nr := &region{
			start: r.start, end: r.end, attr: r.attr, backing: r.backing, label: r.label,
			frames: make(map[uintptr]*Frame, len(r.frames)),
		}
		for addr, f := range r.frames {
			nf, err := GlobalFrameAlloc.Alloc()
			if err != nil {
				r.mu.Unlock()
				return nil, err
			}
			copy(nf.Bytes, f.Bytes)
			nr.frames[addr] = nf
		}
		r.mu.Unlock()
		out.regions = append(out.regions, nr)
	}
	return out, nil
}
