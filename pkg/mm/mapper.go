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

package mm

import (
	"gvisor.dev/rvmm/pkg/halt"
	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/physmem"
	"gvisor.dev/rvmm/pkg/riscv"
)

// UnmapStats counts what UnmapUser released.
type UnmapStats struct {
	// Pages is the number of data frames freed.
	Pages int

	// Tables is the number of intermediate table frames freed.
	Tables int
}

// checkFlags halts on a permission set no mapping may carry.
func checkFlags(flags pagetables.Flags) {
	if !flags.WellFormed() {
		halt.Halt("mm", "mapping flags %v grant write without read", flags)
	}
	if !flags.Grants() {
		halt.Halt("mm", "mapping flags %v grant no access", flags)
	}
}

// slot returns the last-level entry for va, creating intermediate tables. A
// superpage or malformed table on the way is an invariant violation.
func (m *Manager) slot(as *AddressSpace, va riscv.Addr) *pagetables.PTE {
	pte, err := as.pt.Slot(va, true)
	if err != nil {
		halt.Halt("mm", "mapping %v in %v: %v", va, as, err)
	}
	return pte
}

// install writes a leaf for frame at va without flushing.
func (m *Manager) install(as *AddressSpace, va riscv.Addr, frame physmem.FrameNumber, flags pagetables.Flags) {
	pte := m.slot(as, va)
	if pte.Malformed() || pte.IsPointer() {
		halt.Halt("mm", "malformed page table entry %v at %v in %v", *pte, va, as)
	}
	if pte.Valid() {
		log.Warningf("mm: remapping %v in %v drops %v", va, as, *pte)
	}
	*pte = pagetables.LeafPTE(frame, flags&pagetables.PermMask)
}

// MapPage allocates a frame and maps it at the page containing va with the
// given flags, then flushes the translation for va. It returns the frame.
//
// Mapping over an existing page replaces it, and the old frame is not freed.
func (m *Manager) MapPage(as *AddressSpace, va riscv.Addr, flags pagetables.Flags) physmem.FrameNumber {
	m.check(as)
	checkFlags(flags)
	va = va.RoundDown()
	log.Debugf("mm: map page %v %v in %v", va, flags, as)

	// Create intermediate tables before taking the data frame, so a
	// malformed path halts without leaking it.
	m.slot(as, va)
	f := m.alloc.Allocate()
	m.install(as, va, f, flags)
	m.hart.FlushPage(va)
	return f
}

// MapRange maps a fresh frame at every page overlapping [va, va+size).
func (m *Manager) MapRange(as *AddressSpace, va riscv.Addr, size uint64, flags pagetables.Flags) {
	m.check(as)
	checkFlags(flags)
	r, ok := va.ToRange(size)
	if !ok {
		halt.Halt("mm", "map range %v+%#x wraps", va, size)
	}
	log.Debugf("mm: map range %v %v in %v", r, flags, as)
	p := va.RoundDown()
	for i := uint64(0); i < r.NumPages(); i++ {
		m.MapPage(as, p, flags)
		p += riscv.PageSize
	}
}

// MapFrame maps frame at the page containing va and flushes the translation.
// The frame stays owned by the caller unless the mapping carries U, in which
// case UnmapUser frees it.
func (m *Manager) MapFrame(as *AddressSpace, va riscv.Addr, frame physmem.FrameNumber, flags pagetables.Flags) {
	m.check(as)
	checkFlags(flags)
	va = va.RoundDown()
	log.Debugf("mm: map frame %v at %v %v in %v", frame, va, flags, as)
	m.install(as, va, frame, flags)
	m.hart.FlushPage(va)
}

// SetRangeFlags replaces the R, W, X, U and G bits of every page overlapping
// [va, va+size). Every page must already be mapped by a 4 KiB leaf.
func (m *Manager) SetRangeFlags(as *AddressSpace, va riscv.Addr, size uint64, flags pagetables.Flags) {
	m.check(as)
	checkFlags(flags)
	r, ok := va.ToRange(size)
	if !ok {
		halt.Halt("mm", "set flags on %v+%#x wraps", va, size)
	}
	log.Debugf("mm: set flags %v on %v in %v", flags, r, as)
	p := va.RoundDown()
	for i := uint64(0); i < r.NumPages(); i++ {
		pte, err := as.pt.Slot(p, false)
		if err != nil || pte == nil || !pte.Usable() {
			halt.Halt("mm", "invalid page table entry at %v in %v", p, as)
		}
		pte.SetPerms(flags)
		m.hart.FlushPage(p)
		p += riscv.PageSize
	}
}

// Lookup returns the leaf mapping va in as.
func (m *Manager) Lookup(as *AddressSpace, va riscv.Addr) (pagetables.PTE, bool) {
	m.check(as)
	pte, _, ok := as.pt.Lookup(va)
	return pte, ok
}

// UnmapUser frees the frame behind every U leaf in the user range, clears the
// leaf, frees intermediate tables left empty and flushes the TLB.
func (m *Manager) UnmapUser(as *AddressSpace) UnmapStats {
	m.check(as)
	var st UnmapStats
	as.pt.ForEachLeaf(m.layout.User, func(va riscv.Addr, size uint64, pte *pagetables.PTE) bool {
		if !pte.User() {
			return true
		}
		if size != riscv.PageSize {
			halt.Halt("mm", "user superpage at %v in %v", va, as)
		}
		m.alloc.Free(pte.PPN())
		pte.Clear()
		st.Pages++
		return true
	})
	st.Tables = as.pt.PruneTables(m.layout.User)
	m.hart.FlushAll()
	log.Debugf("mm: unmapped %d user pages and %d tables from %v", st.Pages, st.Tables, as)
	return st
}
