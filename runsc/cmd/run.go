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

// Package cmd implements cmd/ucore's subcommands (the Go analogue of
// runsc/cmd), each a subcommands.Command taking a *config.Config as its
// first Execute argument.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/subcommands"

	"ucore.dev/ucore/pkg/kernel"
	"ucore.dev/ucore/pkg/log"
	"ucore.dev/ucore/pkg/syscall"
	"ucore.dev/ucore/pkg/vfs"
	"ucore.dev/ucore/pkg/vfs/ttydev"
	"ucore.dev/ucore/runsc/config"
)

// Run implements subcommands.Command for the "run" command: load an ELF
// binary from the host filesystem, start it as the initial process, and
// block until it exits. This is cmd/ucore's entire reason to exist — there
// is no container, no OCI spec, no network to set up, unlike runsc's own
// "do"/"run".
type Run struct {
	root string
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string { return "run" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string { return "load and run an ELF executable as the initial process" }

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return "run [-root=<dir>] <path-to-elf> [args...]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.root, "root", "", "directory whose contents are staged into the in-memory filesystem alongside the executable, for interpreter resolution")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	conf.ApplyLogLevel()
	if err := conf.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return subcommands.ExitFailure
	}

	path := f.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %q: %v\n", path, err)
		return subcommands.ExitFailure
	}

	fs := vfs.NewMemFS()
	fs.AddFile("/"+filepath.Base(path), data)
	if r.root != "" {
		if err := stageDir(fs, r.root); err != nil {
			fmt.Fprintf(os.Stderr, "staging %q: %v\n", r.root, err)
			return subcommands.ExitFailure
		}
	}
	syscall.Root = fs.Root()

	inode, err := vfs.LookupFollow(fs.Root(), "/"+filepath.Base(path), conf.FollowMaxDepth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving %q: %v\n", path, err)
		return subcommands.ExitFailure
	}

	numCPU := conf.NumCPU
	if numCPU <= 0 {
		kernel.InitDefault()
	} else {
		kernel.Init(numCPU, conf.MaxThreads)
	}
	defer kernel.Shutdown()

	th, err := kernel.NewUser(inode, path, f.Args(), os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading %q: %v\n", path, err)
		return subcommands.ExitFailure
	}
	pid := th.Proc.Pid
	log.Infof("started pid %d from %q", pid, path)

	if err := kernel.Spawn(th); err != nil {
		fmt.Fprintf(os.Stderr, "spawning pid %d: %v\n", pid, err)
		return subcommands.ExitFailure
	}

	proc, _ := kernel.LookupProcess(pid)
	for {
		if _, ok := kernel.LookupProcess(pid); !ok {
			break
		}
		proc.EventBus.Wait()
	}

	if tty, ok := firstTTY(th); ok {
		os.Stdout.Write(tty.Transcript())
	}
	return subcommands.ExitSuccess
}

// stageDir copies a host directory tree into fs, rooted at the same path,
// so a dynamically linked executable's interpreter and shared objects can
// be resolved.
func stageDir(fs *vfs.MemFS, root string) error {
	return filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		fs.AddFile(p, data)
		return nil
	})
}

// firstTTY retrieves the TTY backing the new process's stdout, so Run can
// flush its transcript to the real terminal once the process has exited.
func firstTTY(th *kernel.Thread) (*ttydev.TTY, bool) {
	f, ok := th.Proc.File(1)
	if !ok {
		return nil, false
	}
	tty, ok := f.Inner.(*ttydev.TTY)
	return tty, ok
}
