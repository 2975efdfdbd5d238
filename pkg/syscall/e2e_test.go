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

// End-to-end scenarios driving a full hello/fork/clone path through
// kernel.NewUser, the run-loop, and this package's dispatcher together —
// the things a unit test scoped to a single package can't exercise.
package syscall

import (
	"testing"
	"time"

	"ucore.dev/ucore/pkg/kernel"
	"ucore.dev/ucore/pkg/memset"
	"ucore.dev/ucore/pkg/platform"
	"ucore.dev/ucore/pkg/vfs/ttydev"
)

func scriptedBackendOf(t *testing.T, th *kernel.Thread) *platform.ScriptedBackend {
	t.Helper()
	cx := th.BeginRunning()
	if cx == nil {
		t.Fatal("thread should have a context to script before spawning")
	}
	sb, ok := cx.Backend().(*platform.ScriptedBackend)
	if !ok {
		t.Fatal("a freshly created thread should start with a ScriptedBackend")
	}
	th.EndRunning(cx)
	return sb
}

func waitForExit(t *testing.T, pid kernel.Pid) {
	t.Helper()
	proc, ok := kernel.LookupProcess(pid)
	if !ok {
		return // already gone
	}
	done := make(chan struct{})
	go func() {
		for {
			if _, ok := kernel.LookupProcess(pid); !ok {
				close(done)
				return
			}
			proc.EventBus.Wait()
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process never exited")
	}
}

func TestStaticHelloWritesToStdoutThenExits(t *testing.T) {
	kernel.Init(2, 8)
	defer kernel.Shutdown()

	th := newTestThread(t)
	pid := th.Proc.Pid

	const bufAddr = 0x720000
	if err := th.VM.Push(bufAddr, bufAddr+0x1000, memset.Default().User().Write(), memset.ByFrame, "msg"); err != nil {
		t.Fatalf("pushing message buffer: %v", err)
	}
	msg := []byte("hello, ucore\n")
	if _, err := th.VM.WriteAt(bufAddr, msg); err != nil {
		t.Fatalf("seeding message buffer: %v", err)
	}

	scriptedBackendOf(t, th).Enqueue(platform.Trap{
		Num:        platform.VectorSyscall,
		SyscallNum: sysWrite,
		Args:       [6]uintptr{1, bufAddr, uintptr(len(msg))},
	})
	// No exit_group trap enqueued: the scripted backend synthesizes one
	// once the script is exhausted, exercising the same fall-off-the-end
	// path a real program's _exit eventually takes.

	if err := kernel.Spawn(th); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitForExit(t, pid)

	f, ok := th.Proc.File(1)
	if !ok {
		t.Fatal("stdout fd should still resolve after the process has exited")
	}
	tty, ok := f.Inner.(*ttydev.TTY)
	if !ok {
		t.Fatal("stdout should be backed by a TTY")
	}
	if got := string(tty.Transcript()); got != string(msg) {
		t.Fatalf("tty transcript = %q, want %q", got, msg)
	}
}

func TestForkedChildRunsIndependentlyToExit(t *testing.T) {
	kernel.Init(2, 8)
	defer kernel.Shutdown()

	th := newTestThread(t)
	parentPid := th.Proc.Pid

	// Parent's script: fork, then fall off the end (synthesized exit_group).
	scriptedBackendOf(t, th).Enqueue(platform.Trap{Num: platform.VectorSyscall, SyscallNum: sysFork})

	if err := kernel.Spawn(th); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitForExit(t, parentPid)

	if len(th.Proc.Children) != 1 {
		t.Fatalf("parent recorded %d children, want 1", len(th.Proc.Children))
	}
	waitForExit(t, th.Proc.Children[0].Pid)
}
