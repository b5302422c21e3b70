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

package pagetables

import (
	"gvisor.dev/rvmm/pkg/physmem"
	"gvisor.dev/rvmm/pkg/riscv"
)

// addrEnd returns the next boundary of a size-aligned region after addr, or
// end if that comes earlier. size is a power of two.
func addrEnd(addr, end riscv.Addr, size uint64) riscv.Addr {
	next := (addr + riscv.Addr(size)) &^ riscv.Addr(size-1)
	if next < addr || next > end {
		return end
	}
	return next
}

// Visitor is called by ForEachLeaf for each valid leaf entry. va is the first
// address the entry maps and size the length of the region. Returning false
// stops the walk.
type Visitor func(va riscv.Addr, size uint64, pte *PTE) bool

// ForEachLeaf calls fn for every valid leaf entry that maps part of r, in
// ascending address order. Absent subtrees are skipped in one step. r must be
// page aligned and must not wrap.
func (p *PageTables) ForEachLeaf(r riscv.AddrRange, fn Visitor) {
	if r.Start >= r.End {
		return
	}
	p.iterate(p.root, 0, r.Start, r.End, fn)
}

func (p *PageTables) iterate(node physmem.FrameNumber, li int, start, end riscv.Addr, fn Visitor) bool {
	l := levels[li]
	entries := p.Node(node)
	for start < end {
		next := addrEnd(start, end, l.span)
		pte := &entries[l.index(start)]
		switch {
		case !pte.Valid():
			// Nothing here.
		case pte.IsLeaf() || li == lastLevel:
			if !fn(start&^riscv.Addr(l.span-1), l.span, pte) {
				return false
			}
		case pte.Malformed() || !p.mem.ContainsFrame(pte.PPN()):
			// Not descended into.
		default:
			if !p.iterate(pte.PPN(), li+1, start, next, fn) {
				return false
			}
		}
		start = next
	}
	return true
}

// PruneTables frees every intermediate node that lies wholly inside r and
// holds no valid entries, clearing the entry that pointed to it. The root is
// never freed. It returns the number of frames freed.
func (p *PageTables) PruneTables(r riscv.AddrRange) int {
	if r.Start >= r.End {
		return 0
	}
	return p.prune(p.root, 0, r.Start, r.End)
}

func (p *PageTables) prune(node physmem.FrameNumber, li int, start, end riscv.Addr) int {
	if li == lastLevel {
		return 0
	}
	l := levels[li]
	entries := p.Node(node)
	freed := 0
	for start < end {
		next := addrEnd(start, end, l.span)
		pte := &entries[l.index(start)]
		if pte.IsPointer() && p.mem.ContainsFrame(pte.PPN()) {
			child := pte.PPN()
			freed += p.prune(child, li+1, start, next)

			// Check if we no longer need this table.
			base := start &^ riscv.Addr(l.span-1)
			if start == base && uint64(next-base) == l.span && p.empty(child) {
				pte.Clear()
				p.alloc.Free(child)
				freed++
			}
		}
		start = next
	}
	return freed
}

func (p *PageTables) empty(f physmem.FrameNumber) bool {
	for _, pte := range p.Node(f) {
		if pte.Valid() {
			return false
		}
	}
	return true
}

// CountTables returns the number of intermediate nodes reachable through the
// part of the table covering r, not counting the root.
func (p *PageTables) CountTables(r riscv.AddrRange) int {
	if r.Start >= r.End {
		return 0
	}
	return p.count(p.root, 0, r.Start, r.End)
}

func (p *PageTables) count(node physmem.FrameNumber, li int, start, end riscv.Addr) int {
	if li == lastLevel {
		return 0
	}
	l := levels[li]
	entries := p.Node(node)
	n := 0
	for start < end {
		next := addrEnd(start, end, l.span)
		pte := entries[l.index(start)]
		if pte.IsPointer() && p.mem.ContainsFrame(pte.PPN()) {
			n += 1 + p.count(pte.PPN(), li+1, start, next)
		}
		start = next
	}
	return n
}
