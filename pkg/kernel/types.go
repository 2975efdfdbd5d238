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

// Package kernel implements the user-thread core: process and thread
// records, the global THREADS/PROCESSES tables, creation operations
// (new_user/fork/new_clone), the run-loop task, and the page-table-switch
// wrapper around it.
package kernel

import "ucore.dev/ucore/pkg/kernel/ids"

// Pid and Tid are drawn from a single identifier namespace starting at
// INIT.
type (
	Pid = ids.ID
	Tid = ids.ID
)

// INIT is the first identifier ever assigned; a new primary thread reuses
// its Tid as the Pid of the process it heads.
const INIT = ids.INIT

// tidSpace backs THREADS. A process's Pid is its leader thread's Tid
// (NewUser/Fork register the process under Pid(newThread.tid)), so Pids
// come out of tidSpace as well. pidSpace is never allocated from;
// RemoveProcess releases into it, which its Release ignores because no id
// was ever handed out.
var (
	tidSpace = ids.NewSpace()
	pidSpace = ids.NewSpace()
)
