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

// Package log implements a simple leveled logger, in the style gVisor's own
// pkg/log uses throughout the sentry: a small set of named levels, a
// pluggable Emitter, and package-level Infof/Warningf/Debugf helpers so call
// sites never construct a *log.Logger directly.
package log

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Level is a verbosity level, lowest to highest.
type Level int32

const (
	Warning Level = iota
	Info
	Debug
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "W"
	case Info:
		return "I"
	case Debug:
		return "D"
	default:
		return "?"
	}
}

// Emitter receives one already-formatted log line per call.
type Emitter interface {
	Emit(level Level, line string)
}

// writerEmitter writes lines to an underlying io.Writer, one per call.
type writerEmitter struct {
	mu sync.Mutex
	w  *os.File
}

func (e *writerEmitter) Emit(level Level, line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.w, "%s %s %s\n", time.Now().UTC().Format("15:04:05.000000"), level, line)
}

var (
	current atomic.Value // Emitter
	level   atomic.Int32
)

func init() {
	current.Store(Emitter(&writerEmitter{w: os.Stderr}))
	level.Store(int32(Info))
}

// SetLevel adjusts the minimum level that reaches the Emitter.
func SetLevel(l Level) { level.Store(int32(l)) }

// SetEmitter replaces the default stderr emitter, e.g. for tests that want to
// capture output.
func SetEmitter(e Emitter) { current.Store(e) }

// IsLogging reports whether l would currently be emitted.
func IsLogging(l Level) bool { return l <= Level(level.Load()) }

func emit(l Level, format string, v ...any) {
	if !IsLogging(l) {
		return
	}
	current.Load().(Emitter).Emit(l, fmt.Sprintf(format, v...))
}

// Warningf logs at Warning level. Always emitted.
func Warningf(format string, v ...any) { emit(Warning, format, v...) }

// Infof logs at Info level.
func Infof(format string, v ...any) { emit(Info, format, v...) }

// Debugf logs at Debug level.
func Debugf(format string, v ...any) { emit(Debug, format, v...) }
