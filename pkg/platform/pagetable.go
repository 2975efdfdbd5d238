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

package platform

import "sync/atomic"

// perCPUTokens holds the page-table token most recently installed on each
// virtual CPU: a real page-table-root register simulated per CPU rather
// than as one global register, so concurrently running workers never
// observe each other's installs. Exposed for tests that verify the
// page-table-switch wrapper installs the right token on every poll.
var perCPUTokens []atomic.Uintptr

// InitCPUs sizes the per-CPU token table. Called once at kernel.Init time;
// safe to call again in tests that want a fresh table.
func InitCPUs(n int) {
	perCPUTokens = make([]atomic.Uintptr, n)
}

// InstallPageTable performs the single architectural store that activates
// token as cpu's current page-table root.
func InstallPageTable(cpu int, token uintptr) {
	perCPUTokens[cpu].Store(token)
}

// CurrentToken returns the token most recently installed on cpu. Test helper
// only; production code never needs to read back its own store.
func CurrentToken(cpu int) uintptr {
	return perCPUTokens[cpu].Load()
}
