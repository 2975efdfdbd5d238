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

// Package ipc implements the per-process SysV semaphore state
// (Process.Semaphores), duplicated on fork.
package ipc

import "sync"

// semSet is one SysV semaphore set: a fixed array of counters plus the
// waiters blocked on them.
type semSet struct {
	values []int32
	cond   *sync.Cond
}

// SemProc is the per-process table of SysV semaphore sets, keyed by key_t.
type SemProc struct {
	mu   sync.Mutex
	sets map[int32]*semSet
}

// NewSemProc returns an empty semaphore table, the starting state of every
// fresh process record (NewUser's). Fork replaces it with Clone of the
// parent's table, and NewClone shares the creating process's table.
func NewSemProc() *SemProc {
	return &SemProc{sets: make(map[int32]*semSet)}
}

// Get returns (creating if needed) the semaphore set for key with nsems
// counters.
func (s *SemProc) Get(key int32, nsems int) *semSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = &semSet{values: make([]int32, nsems)}
		set.cond = sync.NewCond(&sync.Mutex{})
		s.sets[key] = set
	}
	return set
}

// Clone returns a deep copy, used by Thread.Fork to duplicate semaphores: a
// forked child inherits the parent's existing sets (and their current
// values) but not their waiters.
func (s *SemProc) Clone() *SemProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := NewSemProc()
	for k, set := range s.sets {
		ns := &semSet{values: append([]int32(nil), set.values...)}
		ns.cond = sync.NewCond(&sync.Mutex{})
		out.sets[k] = ns
	}
	return out
}
