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

package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"ucore.dev/ucore/pkg/kernel"
	"ucore.dev/ucore/runsc/config"
)

// Wait implements subcommands.Command for the "wait" command: block until a
// pid (as seen in PROCESSES) has exited, then report its exit code. The Go
// analogue of runsc's own wait, minus container/checkpoint/restore, which
// don't exist in this core.
type Wait struct {
	pid int
}

// Name implements subcommands.Command.Name.
func (*Wait) Name() string { return "wait" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Wait) Synopsis() string { return "wait on a process to exit" }

// Usage implements subcommands.Command.Usage.
func (*Wait) Usage() string { return "wait -pid=<pid>\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (wt *Wait) SetFlags(f *flag.FlagSet) {
	f.IntVar(&wt.pid, "pid", 0, "pid to wait on")
}

// Execute implements subcommands.Command.Execute.
func (wt *Wait) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	_ = args[0].(*config.Config)

	if wt.pid <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	proc, ok := kernel.LookupProcess(kernel.Pid(wt.pid))
	if !ok {
		fmt.Printf("pid %d has already exited or never existed\n", wt.pid)
		return subcommands.ExitSuccess
	}
	for {
		if _, ok := kernel.LookupProcess(kernel.Pid(wt.pid)); !ok {
			break
		}
		proc.EventBus.Wait()
	}
	fmt.Printf("pid %d exited, status %d\n", wt.pid, proc.ExitCode)
	return subcommands.ExitSuccess
}
