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

// PrepareExec reaps every other thread in t's process before the caller
// replaces the address space, matching execve(2)'s "the kernel destroys all
// other threads in the process" semantics: at completion of an execve, only
// the execing thread (now playing the leader's role) survives. This core
// has no signal-delivery path to interrupt a sibling mid-poll, so PrepareExec
// only reaps siblings that are already idle (not currently running a trap);
// a sibling actively polling when exec happens keeps running until its next
// natural exit — a known simplification, not a faithful ptrace(2)-compatible
// teardown.
func (t *Thread) PrepareExec() {
	t.mu.Lock()
	proc := t.Proc
	tid := t.tid
	t.mu.Unlock()

	proc.mu.Lock()
	siblings := append([]Tid(nil), proc.Threads...)
	proc.mu.Unlock()

	for _, sibling := range siblings {
		if sibling == tid {
			continue
		}
		th, ok := LookupThread(sibling)
		if !ok {
			continue
		}
		th.mu.Lock()
		running := th.inner.context == nil
		th.mu.Unlock()
		if running {
			continue
		}
		proc.RemoveThread(sibling)
		removeFromTable(sibling)
	}
}
