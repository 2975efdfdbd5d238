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
	"encoding/binary"
	"fmt"

	"ucore.dev/ucore/pkg/vfs"
)

// fakeExecInode is a flat, Lookup-less vfs.INode backed by an in-memory
// buffer, used to drive NewUser/Fork/NewClone against a hand-built static
// ELF image without needing a real filesystem.
type fakeExecInode struct {
	data []byte
}

func (f *fakeExecInode) ReadAt(offset int64, buf []byte) (int, error) {
	if offset >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (f *fakeExecInode) Lookup(string) (vfs.INode, error) {
	return nil, fmt.Errorf("no children")
}

func (f *fakeExecInode) Symlink() (string, bool) { return "", false }

const (
	testELFEhdrSize = 64
	testELFPhdrSize = 56
)

// buildStaticELF assembles a minimal, valid ET_EXEC x86-64 image with a
// single executable PT_LOAD segment, entering at entry.
func buildStaticELF(vaddr, entry uint64, code []byte) []byte {
	phoff := uint64(testELFEhdrSize)
	dataOff := testELFEhdrSize + testELFPhdrSize

	buf := make([]byte, dataOff+len(code))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	const etExec, emX8664 = 2, 62
	le.PutUint16(buf[16:18], etExec)
	le.PutUint16(buf[18:20], emX8664)
	le.PutUint32(buf[20:24], 1)
	le.PutUint64(buf[24:32], entry)
	le.PutUint64(buf[32:40], phoff)
	le.PutUint16(buf[52:54], testELFEhdrSize)
	le.PutUint16(buf[54:56], testELFPhdrSize)
	le.PutUint16(buf[56:58], 1)

	p := buf[testELFEhdrSize : testELFEhdrSize+testELFPhdrSize]
	const ptLoad, pfX, pfR = 1, 1, 4
	le.PutUint32(p[0:4], ptLoad)
	le.PutUint32(p[4:8], pfR|pfX)
	le.PutUint64(p[8:16], uint64(dataOff))
	le.PutUint64(p[16:24], vaddr)
	le.PutUint64(p[24:32], vaddr)
	le.PutUint64(p[32:40], uint64(len(code)))
	le.PutUint64(p[40:48], uint64(len(code)))
	le.PutUint64(p[48:56], 0x1000)

	copy(buf[dataOff:], code)
	return buf
}

func newTestExecInode() vfs.INode {
	const vaddr, entry = 0x400000, 0x400000 + 0x10
	code := make([]byte, 0x20)
	copy(code, []byte("\x90\x90\x90\x90code"))
	return &fakeExecInode{data: buildStaticELF(vaddr, entry, code)}
}
