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

import (
	"testing"

	"ucore.dev/ucore/pkg/platform"
)

func TestAddToTableAssignsSmallestUnusedTid(t *testing.T) {
	before := ThreadCount()

	t1 := &Thread{inner: threadInner{context: platform.Default()}}
	AddToTable(t1)
	defer removeFromTable(t1.Tid())

	if t1.Tid() == 0 {
		t.Fatal("AddToTable should assign a non-zero tid")
	}
	if got := ThreadCount(); got != before+1 {
		t.Fatalf("ThreadCount() = %d, want %d", got, before+1)
	}

	got, ok := LookupThread(t1.Tid())
	if !ok || got != t1 {
		t.Fatalf("LookupThread(%d) = (%v, %v), want (%v, true)", t1.Tid(), got, ok, t1)
	}
}

func TestRemoveFromTableDropsEntry(t *testing.T) {
	th := &Thread{inner: threadInner{context: platform.Default()}}
	AddToTable(th)
	tid := th.Tid()

	removeFromTable(tid)
	if _, ok := LookupThread(tid); ok {
		t.Fatal("thread still present after removeFromTable")
	}
}

func TestBeginEndRunningExclusivity(t *testing.T) {
	th := &Thread{inner: threadInner{context: platform.Default()}}

	cx := th.BeginRunning()
	if cx == nil {
		t.Fatal("BeginRunning should return the context the first time")
	}
	if got := th.BeginRunning(); got != nil {
		t.Fatal("a second BeginRunning before EndRunning should observe no context")
	}

	th.EndRunning(cx)
	if got := th.BeginRunning(); got != cx {
		t.Fatal("BeginRunning after EndRunning should return the same context")
	}
}

func TestClearChildTidRoundTrip(t *testing.T) {
	th := &Thread{inner: threadInner{context: platform.Default()}}
	th.SetClearChildTid(0xABCD)
	if got := th.ClearChildTid(); got != 0xABCD {
		t.Fatalf("ClearChildTid() = %#x, want %#x", got, 0xABCD)
	}
}
