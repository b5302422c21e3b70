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

package proc

import (
	"fmt"

	"gvisor.dev/rvmm/pkg/fault"
	"gvisor.dev/rvmm/pkg/halt"
	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/riscv"
)

// Segment is a loadable piece of a program image.
type Segment struct {
	// VA is the page-aligned load address.
	VA riscv.Addr

	// Data is copied to VA. The rest of the segment is zero.
	Data []byte

	// Size is the size of the segment in memory. It must be at least
	// len(Data).
	Size uint64

	// Flags are the final permissions of the segment. U is implied.
	Flags pagetables.Flags
}

// Image is a program to load into a process.
type Image struct {
	// Segments are loaded in order and must not overlap.
	Segments []Segment

	// Regions are the growable regions, such as the heap and stack.
	Regions []fault.Region
}

// segmentFlags are the flags a segment may request.
const segmentFlags = pagetables.Read | pagetables.Write | pagetables.Execute | pagetables.User

// loadFlags are the permissions of segment pages while they are filled.
const loadFlags = pagetables.User | pagetables.Read | pagetables.Write

func (t *Table) checkImage(img *Image) error {
	user := t.mm.Layout().User
	var loaded []riscv.AddrRange
	for i, seg := range img.Segments {
		if !seg.VA.IsPageAligned() {
			return fmt.Errorf("segment %d at %v: not page aligned", i, seg.VA)
		}
		if uint64(len(seg.Data)) > seg.Size {
			return fmt.Errorf("segment %d at %v: %d bytes of data exceed size %#x", i, seg.VA, len(seg.Data), seg.Size)
		}
		if !seg.Flags.WellFormed() || !seg.Flags.Grants() || seg.Flags&^segmentFlags != 0 {
			return fmt.Errorf("segment %d at %v: invalid flags %v", i, seg.VA, seg.Flags)
		}
		r, ok := seg.VA.ToRange(seg.Size)
		if !ok || seg.Size == 0 || !user.IsSupersetOf(r) {
			return fmt.Errorf("segment %d %v+%#x: outside user range %v", i, seg.VA, seg.Size, user)
		}
		r.End = r.End.MustRoundUp()
		for _, other := range loaded {
			if other.Overlaps(r) {
				return fmt.Errorf("segment %d %v overlaps %v", i, r, other)
			}
		}
		loaded = append(loaded, r)
	}
	for _, reg := range img.Regions {
		if !user.IsSupersetOf(reg.Range) {
			return fmt.Errorf("region %v: outside user range %v", reg, user)
		}
		for _, r := range loaded {
			if r.Overlaps(reg.Range) {
				return fmt.Errorf("region %v overlaps segment %v", reg, r)
			}
		}
	}
	return nil
}

// Exec replaces p's memory with img. Every user page of p is freed first;
// each segment is then mapped writable, filled and set to its final
// permissions.
//
// An image that fails validation leaves p untouched.
func (t *Table) Exec(p *Process, img *Image) error {
	if p.exited {
		return fmt.Errorf("exec %v: %w", p, ErrExited)
	}
	if err := t.checkImage(img); err != nil {
		return fmt.Errorf("exec %v: %w", p, err)
	}
	regions := fault.NewRegionSet()
	for _, r := range img.Regions {
		if err := regions.Add(r); err != nil {
			return fmt.Errorf("exec %v: %w", p, err)
		}
	}

	st := t.mm.UnmapUser(p.as)
	log.Debugf("proc: exec %v dropped %d pages and %d tables", p, st.Pages, st.Tables)
	for _, seg := range img.Segments {
		t.mm.MapRange(p.as, seg.VA, seg.Size, loadFlags)
		if err := t.mm.CopyOut(p.as, seg.VA, seg.Data); err != nil {
			halt.Halt("proc", "copying segment to %v in %v: %v", seg.VA, p.as, err)
		}
		t.mm.SetRangeFlags(p.as, seg.VA, seg.Size, seg.Flags|pagetables.User)
	}
	p.regions = regions
	log.Debugf("proc: exec %v: %d segments, %d regions", p, len(img.Segments), regions.Len())
	return nil
}
