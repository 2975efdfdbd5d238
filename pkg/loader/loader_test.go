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

package loader

import (
	"encoding/binary"
	"fmt"
	"testing"

	"ucore.dev/ucore/pkg/memset"
	"ucore.dev/ucore/pkg/vfs"
)

// fakeInode is a flat, Lookup-less vfs.INode backed by an in-memory buffer,
// enough to exercise the loader against a hand-built ELF image.
type fakeInode struct {
	data []byte
}

func (f *fakeInode) ReadAt(offset int64, buf []byte) (int, error) {
	if offset >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (f *fakeInode) Lookup(string) (vfs.INode, error) {
	return nil, fmt.Errorf("no children")
}

func (f *fakeInode) Symlink() (string, bool) { return "", false }

const (
	etExec   = 2
	emX8664  = 62
	ptLoad   = 1
	pfX      = 1
	pfW      = 2
	pfR      = 4
	ehdrSize = 64
	phdrSize = 56
)

// buildStaticELF assembles a minimal, valid ET_EXEC x86-64 image with a
// single PT_LOAD segment containing code, entering at entry (an address
// inside that segment).
func buildStaticELF(vaddr, entry uint64, code []byte, flags uint32) []byte {
	phoff := uint64(ehdrSize)
	dataOff := ehdrSize + phdrSize

	buf := make([]byte, dataOff+len(code))

	// e_ident
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:18], etExec)
	le.PutUint16(buf[18:20], emX8664)
	le.PutUint32(buf[20:24], 1) // e_version
	le.PutUint64(buf[24:32], entry)
	le.PutUint64(buf[32:40], phoff)
	le.PutUint64(buf[40:48], 0) // e_shoff
	le.PutUint32(buf[48:52], 0) // e_flags
	le.PutUint16(buf[52:54], ehdrSize)
	le.PutUint16(buf[54:56], phdrSize)
	le.PutUint16(buf[56:58], 1) // e_phnum
	le.PutUint16(buf[58:60], 0) // e_shentsize
	le.PutUint16(buf[60:62], 0) // e_shnum
	le.PutUint16(buf[62:64], 0) // e_shstrndx

	p := buf[ehdrSize : ehdrSize+phdrSize]
	le.PutUint32(p[0:4], ptLoad)
	le.PutUint32(p[4:8], flags)
	le.PutUint64(p[8:16], uint64(dataOff)) // p_offset
	le.PutUint64(p[16:24], vaddr)          // p_vaddr
	le.PutUint64(p[24:32], vaddr)          // p_paddr
	le.PutUint64(p[32:40], uint64(len(code))) // p_filesz
	le.PutUint64(p[40:48], uint64(len(code))) // p_memsz
	le.PutUint64(p[48:56], 0x1000)            // p_align

	copy(buf[dataOff:], code)
	return buf
}

func TestLoadUserStaticExecutable(t *testing.T) {
	const vaddr = 0x400000
	const entry = vaddr + 0x10
	code := make([]byte, 0x20)
	copy(code, []byte("\x90\x90\x90\x90code"))

	inode := &fakeInode{data: buildStaticELF(vaddr, entry, code, pfR|pfX)}
	vm := memset.New()

	gotEntry, stackTop, err := LoadUser(inode, nil, nil, vm)
	if err != nil {
		t.Fatalf("LoadUser: %v", err)
	}
	if gotEntry != entry {
		t.Fatalf("entry = %#x, want %#x", gotEntry, entry)
	}
	if stackTop == 0 {
		t.Fatal("stackTop should not be zero")
	}
	if stackTop%16 != 0 {
		t.Fatalf("stackTop %#x is not 16-byte aligned", stackTop)
	}

	got := make([]byte, len(code))
	if _, err := vm.ReadAt(vaddr, got); err != nil {
		t.Fatalf("ReadAt mapped segment: %v", err)
	}
	if string(got) != string(code) {
		t.Fatalf("mapped segment content = %q, want %q", got, code)
	}
}

func TestLoadUserRejectsWrongMachine(t *testing.T) {
	code := []byte{0x90}
	buf := buildStaticELF(0x400000, 0x400000, code, pfR|pfX)
	// Corrupt e_machine to something no build of this loader accepts.
	binary.LittleEndian.PutUint16(buf[18:20], 0xFFFF)
	inode := &fakeInode{data: buf}
	vm := memset.New()

	if _, _, err := LoadUser(inode, nil, nil, vm); err == nil {
		t.Fatal("expected an error loading an image for an unrecognized machine")
	}
}
