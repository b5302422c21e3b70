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

package fault

import (
	"fmt"

	"github.com/google/btree"
	"gvisor.dev/rvmm/pkg/riscv"
)

// Region is a user range in which page faults are satisfied by mapping a
// fresh zeroed page, such as a heap or a stack.
type Region struct {
	// Range is the page-aligned extent of the region.
	Range riscv.AddrRange

	// Name identifies the region in logs.
	Name string
}

// String implements fmt.Stringer.String.
func (r Region) String() string {
	return fmt.Sprintf("%s%v", r.Name, r.Range)
}

// btreeDegree is the branching factor of the region index.
const btreeDegree = 8

func regionLess(a, b Region) bool {
	return a.Range.Start < b.Range.Start
}

// RegionSet is an ordered set of non-overlapping regions.
type RegionSet struct {
	tree *btree.BTreeG[Region]
}

// NewRegionSet returns an empty set.
func NewRegionSet() *RegionSet {
	return &RegionSet{tree: btree.NewG(btreeDegree, regionLess)}
}

// Add inserts r. It fails if r is empty, not page aligned, or overlaps a
// region already in the set.
func (s *RegionSet) Add(r Region) error {
	if r.Range.Start >= r.Range.End || !r.Range.IsPageAligned() {
		return fmt.Errorf("region %v is empty or not page aligned", r)
	}
	if prev, ok := s.floor(r.Range.End - 1); ok && prev.Range.Overlaps(r.Range) {
		return fmt.Errorf("region %v overlaps %v", r, prev)
	}
	s.tree.ReplaceOrInsert(r)
	return nil
}

// Remove deletes the region starting at start. It returns false if there is
// none.
func (s *RegionSet) Remove(start riscv.Addr) bool {
	_, ok := s.tree.Delete(Region{Range: riscv.AddrRange{Start: start}})
	return ok
}

// Find returns the region containing addr.
func (s *RegionSet) Find(addr riscv.Addr) (Region, bool) {
	r, ok := s.floor(addr)
	if !ok || !r.Range.Contains(addr) {
		return Region{}, false
	}
	return r, true
}

// floor returns the region with the greatest start not above addr.
func (s *RegionSet) floor(addr riscv.Addr) (Region, bool) {
	var (
		found Region
		ok    bool
	)
	s.tree.DescendLessOrEqual(Region{Range: riscv.AddrRange{Start: addr}}, func(r Region) bool {
		found, ok = r, true
		return false
	})
	return found, ok
}

// Clone returns an independent copy of the set.
func (s *RegionSet) Clone() *RegionSet {
	return &RegionSet{tree: s.tree.Clone()}
}

// Len returns the number of regions.
func (s *RegionSet) Len() int {
	return s.tree.Len()
}

// ForEach calls fn for each region in address order until fn returns false.
func (s *RegionSet) ForEach(fn func(Region) bool) {
	s.tree.Ascend(fn)
}
