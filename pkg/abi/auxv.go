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

// Package abi defines the small set of ELF auxiliary-vector keys and process
// layout constants the loader needs, the Go-side analogue of gVisor's
// pkg/abi/linux constants package.
package abi

// Auxiliary vector keys written to the initial user stack. Values match the
// Linux/glibc <elf.h> AT_* constants.
const (
	AT_NULL   = 0
	AT_PHDR   = 3
	AT_PHENT  = 4
	AT_PHNUM  = 5
	AT_PAGESZ = 6
	AT_BASE   = 7
	AT_ENTRY  = 9
)

// RTMAX bounds the signal-disposition table; signal numbers run 1..RTMAX.
const RTMAX = 64

// FollowMaxDepth bounds interpreter/symlink resolution, matching Linux's
// MAXSYMLINKS.
const FollowMaxDepth = 40
