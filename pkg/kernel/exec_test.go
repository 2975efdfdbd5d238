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
	"testing"

	"ucore.dev/ucore/pkg/platform"
)

func TestPrepareExecReapsIdleSiblingsOnly(t *testing.T) {
	leader, err := NewUser(newTestExecInode(), "/bin/hello", nil, nil)
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	defer func() {
		removeFromTable(leader.Tid())
		RemoveProcess(leader.Proc.Pid)
	}()

	sibling, err := leader.NewClone(platform.Default(), 0, 0, 0)
	if err != nil {
		t.Fatalf("NewClone: %v", err)
	}
	sibTid := sibling.Tid()

	leader.PrepareExec()

	if _, ok := LookupThread(sibTid); ok {
		t.Fatal("PrepareExec should reap an idle sibling thread")
	}
	if _, ok := LookupThread(leader.Tid()); !ok {
		t.Fatal("PrepareExec must not reap the execing thread itself")
	}

	leader.Proc.mu.Lock()
	defer leader.Proc.mu.Unlock()
	for _, tid := range leader.Proc.Threads {
		if tid == sibTid {
			t.Fatal("reaped sibling should be dropped from the process thread list")
		}
	}
	if len(leader.Proc.Threads) != 1 || leader.Proc.Threads[0] != leader.Tid() {
		t.Fatalf("process thread list = %v, want only [%d]", leader.Proc.Threads, leader.Tid())
	}
}

func TestPrepareExecOnSoleThreadIsNoop(t *testing.T) {
	leader, err := NewUser(newTestExecInode(), "/bin/hello", nil, nil)
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	defer func() {
		removeFromTable(leader.Tid())
		RemoveProcess(leader.Proc.Pid)
	}()

	leader.PrepareExec()

	if _, ok := LookupThread(leader.Tid()); !ok {
		t.Fatal("PrepareExec must not reap the only thread in the process")
	}
}
