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

	"ucore.dev/ucore/pkg/abi"
	"ucore.dev/ucore/pkg/memset"
)

// ProcInitInfo holds everything BuildInitInfo needs to lay out the initial
// user stack: argv/envp strings and the auxiliary vector.
type ProcInitInfo struct {
	Args []string
	Envs []string
	Auxv map[uint64]uint64
}

// BuildInitInfo packages args, envs and auxv for PushAt.
func BuildInitInfo(args, envs []string, auxv map[uint64]uint64) *ProcInitInfo {
	return &ProcInitInfo{Args: args, Envs: envs, Auxv: auxv}
}

// auxPair is one (type, value) entry of the auxiliary vector.
type auxPair struct{ key, val uint64 }

// PushAt writes the SysV x86-64 initial stack frame below top: argc, argv
// pointers, NULL, envp pointers, NULL, auxv pairs terminated by AT_NULL, then
// the string bodies above all of that, 16-byte aligned. Returns the new
// stack pointer (the address of argc).
func (info *ProcInitInfo) PushAt(top uintptr, vm *memset.MemorySet) uintptr {
	addr := top

	writeStr := func(s string) uintptr {
		b := make([]byte, len(s)+1)
		copy(b, s)
		addr -= uintptr(len(b))
		vm.WriteAt(addr, b)
		return addr
	}

	argAddrs := make([]uintptr, len(info.Args))
	for i := len(info.Args) - 1; i >= 0; i-- {
		argAddrs[i] = writeStr(info.Args[i])
	}
	envAddrs := make([]uintptr, len(info.Envs))
	for i := len(info.Envs) - 1; i >= 0; i-- {
		envAddrs[i] = writeStr(info.Envs[i])
	}

	pairs := make([]auxPair, 0, len(info.Auxv)+1)
	for k, v := range info.Auxv {
		pairs = append(pairs, auxPair{k, v})
	}
	pairs = append(pairs, auxPair{abi.AT_NULL, 0})

	vecLen := 1 + len(argAddrs) + 1 + len(envAddrs) + 1 + len(pairs)*2
	addr -= uintptr(vecLen) * 8
	addr &^= 15 // 16-byte align the base of the vector

	stackTop := addr
	write := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		vm.WriteAt(addr, b[:])
		addr += 8
	}

	write(uint64(len(argAddrs)))
	for _, a := range argAddrs {
		write(uint64(a))
	}
	write(0)
	for _, a := range envAddrs {
		write(uint64(a))
	}
	write(0)
	for _, p := range pairs {
		write(p.key)
		write(p.val)
	}

	return stackTop
}
