// Copyright 2026 The gVisor Authors.
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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	if !b.IsEmpty() {
		t.Fatalf("new bitmap is not empty")
	}
	for _, i := range []uint64{0, 63, 64, 129} {
		if !b.Add(i) {
			t.Errorf("Add(%d) = false on a clear bit", i)
		}
	}
	if b.Add(64) {
		t.Errorf("Add(64) = true on a set bit")
	}
	if got := b.Count(); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
	if diff := cmp.Diff([]uint64{0, 63, 64, 129}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice mismatch (-want +got):\n%s", diff)
	}
	if !b.Remove(63) || b.Remove(63) {
		t.Errorf("Remove(63) did not report the previous state")
	}
	if b.Contains(63) || !b.Contains(129) {
		t.Errorf("Contains mismatch after Remove")
	}
	if b.Contains(1000) {
		t.Errorf("Contains(1000) = true beyond Size")
	}
	if got := b.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
}

func TestForEachStops(t *testing.T) {
	b := New(256)
	for i := uint64(0); i < 256; i += 10 {
		b.Add(i)
	}
	var seen []uint64
	b.ForEach(func(i uint64) bool {
		seen = append(seen, i)
		return len(seen) < 3
	})
	if diff := cmp.Diff([]uint64{0, 10, 20}, seen); diff != "" {
		t.Errorf("ForEach mismatch (-want +got):\n%s", diff)
	}
}
