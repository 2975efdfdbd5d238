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

// Package loader builds a user address space and initial register state from
// an ELF executable inode, the Go analogue of ElfFile::new_user_vm, here
// split into LoadUser plus the MapLoadSegments / AppendInterpreter /
// BuildInitInfo helpers it drives.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"ucore.dev/ucore/pkg/abi"
	"ucore.dev/ucore/pkg/memset"
	"ucore.dev/ucore/pkg/platform"
	"ucore.dev/ucore/pkg/vfs"
)

// elfPrefixSize is read up front to validate the header and program header
// table before anything is mapped; sized to comfortably hold a dynamic
// linker's phdrs too.
const elfPrefixSize = 0x3C0

// inodeReaderAt adapts vfs.INode to io.ReaderAt so memset.PushFrom can read
// segment bytes straight from the filesystem instead of through the
// fixed-size prefix buffer that debug/elf parses.
type inodeReaderAt struct {
	inode vfs.INode
}

func (r inodeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return r.inode.ReadAt(off, p)
}

// LoadUser maps inode's executable image (and, if present, its PT_INTERP
// interpreter) into vm and builds the initial argv/envp/auxv stack frame,
// returning the entry point and initial stack pointer a fresh
// platform.Context should be seeded with.
func LoadUser(inode vfs.INode, args, envs []string, vm *memset.MemorySet) (entry, stackTop uintptr, err error) {
	prefix := make([]byte, elfPrefixSize)
	n, err := inode.ReadAt(0, prefix)
	if err != nil && err != io.EOF {
		return 0, 0, fmt.Errorf("failed to read from inode: %w", err)
	}
	prefix = prefix[:n]

	f, err := elf.NewFile(bytes.NewReader(prefix))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse elf header: %w", err)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return 0, 0, fmt.Errorf("unsupported elf type %s", f.Type)
	}
	if !machineMatches(f.Machine) {
		return 0, 0, fmt.Errorf("elf machine %s does not match host %v", f.Machine, platform.HostMachine)
	}

	vm.Clear()

	bias := uintptr(0)
	if f.Type == elf.ET_DYN {
		bias = platform.DefaultPIEBase
	}

	if err := MapLoadSegments(vm, inode, f, bias); err != nil {
		return 0, 0, err
	}

	auxv := map[uint64]uint64{
		uint64(abi.AT_PHENT): uint64(phentFor(f)),
		uint64(abi.AT_PHNUM): uint64(len(f.Progs)),
		uint64(abi.AT_PAGESZ): platform.PageSize,
	}
	if phdr, ok := phdrVaddr(f); ok {
		auxv[uint64(abi.AT_PHDR)] = uint64(phdr) + uint64(bias)
	}

	entry = uintptr(f.Entry) + bias

	if interpPath, ok := interpPathOf(inode, f); ok {
		interpNode, err := vfs.LookupFollow(rootOf(inode), interpPath, abi.FollowMaxDepth)
		if err != nil {
			return 0, 0, fmt.Errorf("resolving interpreter %q: %w", interpPath, err)
		}
		interpEntry, err := AppendInterpreter(vm, interpNode, bias)
		if err != nil {
			return 0, 0, err
		}
		// AT_ENTRY names the executable's own entry point, unbiased — the
		// interpreter is what actually runs first, at interpEntry.
		auxv[uint64(abi.AT_ENTRY)] = uint64(f.Entry)
		auxv[uint64(abi.AT_BASE)] = uint64(bias)
		entry = interpEntry
	}

	stackBottom := uintptr(platform.UserStackOffset)
	stackEnd := stackBottom + platform.UserStackSize
	eagerTop := stackEnd - 4*platform.PageSize
	if err := vm.Push(eagerTop, stackEnd, memset.Default().User().Write(), memset.ByFrame, "stack"); err != nil {
		return 0, 0, fmt.Errorf("mapping user stack: %w", err)
	}
	if eagerTop > stackBottom {
		if err := vm.Push(stackBottom, eagerTop, memset.Default().User().Write(), memset.Delay, "stack-guard"); err != nil {
			return 0, 0, fmt.Errorf("mapping user stack guard: %w", err)
		}
	}

	initInfo := BuildInitInfo(args, envs, auxv)
	vm.With(func() {
		stackTop = initInfo.PushAt(stackEnd, vm)
	})

	return entry, stackTop, nil
}

// machineMatches reports whether an ELF e_machine value is the one this
// build's platform.HostMachine accepts.
func machineMatches(m elf.Machine) bool {
	switch platform.HostMachine {
	case platform.MachineX86_64:
		return m == elf.EM_X86_64
	case platform.MachineAArch64:
		return m == elf.EM_AARCH64
	case platform.MachineRISCV:
		return m == elf.EM_RISCV
	case platform.MachineMips:
		return m == elf.EM_MIPS
	default:
		return false
	}
}

func phentFor(f *elf.File) int {
	switch f.Class {
	case elf.ELFCLASS64:
		return 56
	default:
		return 32
	}
}

func phdrVaddr(f *elf.File) (uintptr, bool) {
	for _, p := range f.Progs {
		if p.Type == elf.PT_PHDR {
			return uintptr(p.Vaddr), true
		}
	}
	return 0, false
}

// interpPathOf reads the PT_INTERP segment's content (a NUL-terminated path)
// directly from inode, bypassing the prefix buffer in case the interpreter
// path happens to fall outside it.
func interpPathOf(inode vfs.INode, f *elf.File) (string, bool) {
	for _, p := range f.Progs {
		if p.Type != elf.PT_INTERP {
			continue
		}
		buf := make([]byte, p.Filesz)
		if _, err := inode.ReadAt(int64(p.Off), buf); err != nil {
			return "", false
		}
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			buf = buf[:i]
		}
		return string(buf), true
	}
	return "", false
}

// rootOf is a placeholder hook: callers that need interpreter resolution
// relative to something other than the filesystem root should pass it in
// instead. This core's end-to-end scenarios always resolve against the same
// vfs.MemFS the executable itself came from.
func rootOf(inode vfs.INode) vfs.INode { return inode }

// MapLoadSegments maps every PT_LOAD segment of f into vm, reading segment
// bytes directly from inode (not the caller's fixed-size header prefix) at
// bias-relocated virtual addresses.
func MapLoadSegments(vm *memset.MemorySet, inode vfs.INode, f *elf.File, bias uintptr) error {
	ra := inodeReaderAt{inode}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		attr := memset.Default().User()
		if p.Flags&elf.PF_X != 0 {
			attr = attr.Execute()
		}
		backing := memset.Read
		if p.Flags&elf.PF_W != 0 {
			attr = attr.Write()
			backing = memset.File
		}
		start := bias + uintptr(p.Vaddr)
		end := start + uintptr(p.Memsz)
		if p.Filesz == 0 {
			backing = memset.ByFrame
			if err := vm.Push(start, end, attr, backing, "load"); err != nil {
				return fmt.Errorf("mapping PT_LOAD segment: %w", err)
			}
			continue
		}
		if err := vm.PushFrom(start, start+uintptr(p.Filesz), attr, backing, "load", ra, int64(p.Off)); err != nil {
			return fmt.Errorf("mapping PT_LOAD segment: %w", err)
		}
		if p.Memsz > p.Filesz {
			if err := vm.Push(start+uintptr(p.Filesz), end, attr, memset.ByFrame, "load-bss"); err != nil {
				return fmt.Errorf("mapping PT_LOAD bss tail: %w", err)
			}
		}
	}
	return nil
}

// AppendInterpreter maps the dynamic linker named by a PT_INTERP segment,
// appended into the same address space at the same bias as the main image,
// returning its entry point.
func AppendInterpreter(vm *memset.MemorySet, interpInode vfs.INode, bias uintptr) (uintptr, error) {
	prefix := make([]byte, elfPrefixSize)
	n, err := interpInode.ReadAt(0, prefix)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to read interpreter inode: %w", err)
	}
	f, err := elf.NewFile(bytes.NewReader(prefix[:n]))
	if err != nil {
		return 0, fmt.Errorf("failed to parse interpreter elf header: %w", err)
	}
	if err := MapLoadSegments(vm, interpInode, f, bias); err != nil {
		return 0, fmt.Errorf("mapping interpreter: %w", err)
	}
	return uintptr(f.Entry) + bias, nil
}
