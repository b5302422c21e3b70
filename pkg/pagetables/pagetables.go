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

// Package pagetables builds and walks Sv39 page tables.
//
// Tables live in simulated physical memory in the hardware format, one
// 512-entry node per frame. A PageTables owns its root and every
// intermediate node it allocates; the frames that leaves point at belong to
// whoever requested the mapping.
package pagetables

import (
	"errors"

	"gvisor.dev/rvmm/pkg/physmem"
	"gvisor.dev/rvmm/pkg/riscv"
)

// Allocator provides frames for table nodes and data pages.
type Allocator interface {
	// Allocate returns a zero-filled frame. It does not return on
	// exhaustion.
	Allocate() physmem.FrameNumber

	// Free releases a frame returned by Allocate.
	Free(physmem.FrameNumber)
}

var (
	// ErrNonCanonical is returned for addresses whose bits 63:39 do not all
	// equal bit 38.
	ErrNonCanonical = errors.New("non-canonical virtual address")

	// ErrSuperPage is returned when a walk meets a leaf above the last level.
	ErrSuperPage = errors.New("address covered by a superpage")

	// ErrMalformed is returned when a walk meets an entry granting write
	// without read, or a pointer outside RAM.
	ErrMalformed = errors.New("malformed page table entry")
)

// level describes one step of the walk.
type level struct {
	// shift is the position of this level's index in the address.
	shift uint

	// span is the size of the region one entry covers.
	span uint64
}

// levels is ordered root first.
var levels = [...]level{
	{shift: riscv.GigaPageShift, span: riscv.GigaPageSize},
	{shift: riscv.MegaPageShift, span: riscv.MegaPageSize},
	{shift: riscv.PageShift, span: riscv.PageSize},
}

// lastLevel is the index of the level holding 4 KiB leaves.
const lastLevel = len(levels) - 1

func (l level) index(addr riscv.Addr) int {
	return int(uint64(addr)>>l.shift) & (EntriesPerTable - 1)
}

// VPN returns the table index of addr at the given hardware level: 2 for the
// root, 0 for the last level.
func VPN(hwLevel int, addr riscv.Addr) int {
	return levels[lastLevel-hwLevel].index(addr)
}

// PageTables is an Sv39 page table.
type PageTables struct {
	mem   *physmem.Memory
	alloc Allocator
	root  physmem.FrameNumber
}

// New allocates an empty root.
func New(mem *physmem.Memory, alloc Allocator) *PageTables {
	return FromRoot(mem, alloc, alloc.Allocate())
}

// FromRoot wraps an existing root frame.
func FromRoot(mem *physmem.Memory, alloc Allocator, root physmem.FrameNumber) *PageTables {
	return &PageTables{mem: mem, alloc: alloc, root: root}
}

// Root returns the root frame.
func (p *PageTables) Root() physmem.FrameNumber {
	return p.root
}

// Tag returns the satp value activating this table.
func (p *PageTables) Tag() Tag {
	return MakeTag(p.root)
}

// Node returns the table stored in frame f.
func (p *PageTables) Node(f physmem.FrameNumber) *PTEs {
	return nodeAt(p.mem, f)
}

// RootNode returns the root table.
func (p *PageTables) RootNode() *PTEs {
	return p.Node(p.root)
}

// Slot returns the last-level entry for addr without creating a leaf.
//
// A missing intermediate node is allocated, zeroed and linked in if create is
// true; otherwise Slot returns (nil, nil). The returned entry may be invalid.
func (p *PageTables) Slot(addr riscv.Addr, create bool) (*PTE, error) {
	if !addr.IsCanonical() {
		return nil, ErrNonCanonical
	}
	node := p.root
	for i, l := range levels {
		pte := &p.Node(node)[l.index(addr)]
		if i == lastLevel {
			return pte, nil
		}
		switch {
		case !pte.Valid():
			if !create {
				return nil, nil
			}
			*pte = PointerPTE(p.alloc.Allocate(), false)
		case pte.Malformed():
			return nil, ErrMalformed
		case pte.IsLeaf():
			return nil, ErrSuperPage
		case !p.mem.ContainsFrame(pte.PPN()):
			return nil, ErrMalformed
		}
		node = pte.PPN()
	}
	panic("unreachable")
}

// Walk is Slot, except that with create set an invalid last-level entry is
// filled with a fresh data frame mapped with perms.
func (p *PageTables) Walk(addr riscv.Addr, create bool, perms Flags) (*PTE, error) {
	pte, err := p.Slot(addr, create)
	if err != nil || pte == nil {
		return pte, err
	}
	if create && !pte.Valid() {
		*pte = LeafPTE(p.alloc.Allocate(), perms&PermMask)
	}
	return pte, nil
}

// Lookup returns the leaf mapping addr at whatever level it sits, along with
// the size of the region it maps. ok is false if addr is not mapped or the
// path to it is malformed.
func (p *PageTables) Lookup(addr riscv.Addr) (pte PTE, size uint64, ok bool) {
	if !addr.IsCanonical() {
		return 0, 0, false
	}
	node := p.root
	for i, l := range levels {
		e := p.Node(node)[l.index(addr)]
		switch {
		case !e.Valid() || e.Malformed():
			return 0, 0, false
		case e.IsLeaf():
			return e, l.span, true
		case i == lastLevel || !p.mem.ContainsFrame(e.PPN()):
			return 0, 0, false
		}
		node = e.PPN()
	}
	return 0, 0, false
}

// Translate returns the physical address addr maps to.
func (p *PageTables) Translate(addr riscv.Addr) (uint64, bool) {
	pte, size, ok := p.Lookup(addr)
	if !ok {
		return 0, false
	}
	return pte.PPN().Addr() | uint64(addr)&(size-1), true
}

// Release frees the root frame. The caller must already have removed every
// mapping whose intermediate nodes this table owns.
func (p *PageTables) Release() {
	p.alloc.Free(p.root)
	p.root = 0
}
