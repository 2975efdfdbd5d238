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

// Package linuxerr defines the small set of POSIX-style sentinel errors the
// kernel core needs, compared with errors.Is rather than string matching —
// mirrors gvisor.dev/gvisor/pkg/errors/linuxerr, as imported by ttydev.go and
// task_exec.go.
package linuxerr

import "errors"

var (
	// EINTR: a racing group-exit/exec interrupted the call.
	EINTR = errors.New("interrupted system call")
	// ESRCH: no such process or thread.
	ESRCH = errors.New("no such process")
	// ENOENT: no such file or directory.
	ENOENT = errors.New("no such file or directory")
	// EINVAL: invalid argument.
	EINVAL = errors.New("invalid argument")
	// ENOEXEC: exec format error.
	ENOEXEC = errors.New("exec format error")
	// ELOOP: too many levels of symbolic links.
	ELOOP = errors.New("too many levels of symbolic links")
	// ENOSYS: function not implemented.
	ENOSYS = errors.New("function not implemented")
	// EBADF: bad file descriptor.
	EBADF = errors.New("bad file descriptor")
	// EAGAIN: resource temporarily unavailable.
	EAGAIN = errors.New("resource temporarily unavailable")
	// ENOMEM: out of memory.
	ENOMEM = errors.New("cannot allocate memory")
)
