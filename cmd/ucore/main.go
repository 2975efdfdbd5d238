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

// Command ucore loads an ELF executable and runs it as the initial process
// of a minimal, hosted Unix-like kernel core — the reference binary driving
// pkg/kernel, the Go analogue of runsc's own cmd/runsc entrypoint.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"ucore.dev/ucore/runsc/cmd"
	"ucore.dev/ucore/runsc/config"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&cmd.Run{}, "")
	subcommands.Register(&cmd.Wait{}, "")

	conf := config.Default()
	config.RegisterFlags(conf, flag.CommandLine)
	flag.Parse()

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}
