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

// Package config holds the settings cmd/ucore's subcommands share, the Go
// analogue of runsc's own runsc/config.Config: a plain struct populated by
// RegisterFlags and passed down to each subcommands.Command.Execute as an
// args[0].
package config

import (
	"flag"
	"fmt"

	"ucore.dev/ucore/pkg/log"
	"ucore.dev/ucore/pkg/platform"
)

// Config holds the process-layout and scheduling parameters the loader,
// memset and executor packages are built against.
type Config struct {
	// PageSize is the page size assumed by the loader and memset packages.
	PageSize int

	// UserStackSize is the size of the stack region mapped for a new user
	// process, topped at platform.UserStackOffset+UserStackSize.
	UserStackSize uintptr

	// MaxThreads bounds the executor pool's outstanding-task semaphore when
	// NumCPU is set; with NumCPU 0, kernel.InitDefault's own bound applies.
	MaxThreads int

	// FollowMaxDepth bounds symlink/interpreter-path resolution.
	FollowMaxDepth int

	// NumCPU is the number of virtual CPUs (executor workers) to start.
	NumCPU int

	// Debug enables debug-level logging.
	Debug bool
}

// Default returns the configuration cmd/ucore starts from absent any flags.
func Default() *Config {
	return &Config{
		PageSize:       platform.PageSize,
		UserStackSize:  platform.UserStackSize,
		MaxThreads:     1024,
		FollowMaxDepth: 40,
		NumCPU:         0, // 0 means "use runtime.GOMAXPROCS(0)"
	}
}

// RegisterFlags registers the flags that populate a Config, mirroring
// runsc's RegisterFlags/Config split between flag wiring and the struct
// flags are copied into.
func RegisterFlags(c *Config, fs *flag.FlagSet) {
	fs.IntVar(&c.MaxThreads, "max-threads", c.MaxThreads, "maximum number of concurrently outstanding threads")
	fs.IntVar(&c.FollowMaxDepth, "follow-max-depth", c.FollowMaxDepth, "maximum symlink/interpreter resolution depth")
	fs.IntVar(&c.NumCPU, "num-cpu", c.NumCPU, "number of virtual CPUs to run; 0 selects GOMAXPROCS")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging")
}

// Validate checks the struct for nonsensical combinations RegisterFlags
// can't enforce at parse time.
func (c *Config) Validate() error {
	if c.PageSize <= 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page size %d is not a positive power of two", c.PageSize)
	}
	if c.MaxThreads <= 0 {
		return fmt.Errorf("max-threads must be positive, got %d", c.MaxThreads)
	}
	return nil
}

// ApplyLogLevel sets the global log level this Config requests.
func (c *Config) ApplyLogLevel() {
	if c.Debug {
		log.SetLevel(log.Debug)
	}
}
