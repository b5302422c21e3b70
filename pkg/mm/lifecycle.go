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
	"gvisor.dev/rvmm/pkg/riscv"
)

// ReclaimStats counts the frames Reclaim returned to the allocator.
type ReclaimStats struct {
	// Pages is the number of user data frames freed.
	Pages int

	// Tables is the number of page table frames freed, root included.
	Tables int
}

// userRootSlots returns the root indices covering the user range.
func (m *Manager) userRootSlots() (first, last int) {
	u := m.layout.User
	return pagetables.VPN(2, u.Start), pagetables.VPN(2, u.End-1)
}

// newSpace allocates a root that shares every non-user root entry with the
// kernel space.
func (m *Manager) newSpace() *AddressSpace {
	if m.kernel == nil {
		halt.Halt("mm", "address space created before the kernel space")
	}
	pt := pagetables.New(m.mem, m.alloc)
	src, dst := m.kernel.pt.RootNode(), pt.RootNode()
	first, last := m.userRootSlots()
	for i := range src {
		if i < first || i > last {
			dst[i] = src[i]
		}
	}
	return m.register(pt, false)
}

// NewSpace returns an empty user address space.
func (m *Manager) NewSpace() *AddressSpace {
	as := m.newSpace()
	log.Debugf("mm: new space %v", as)
	return as
}

// Switch activates the space with the given tag, flushes the TLB and returns
// the previous tag.
func (m *Manager) Switch(tag pagetables.Tag) pagetables.Tag {
	as, ok := m.spaces[tag]
	if !ok {
		halt.Halt("mm", "switch to unknown address space %v", tag)
	}
	m.check(as)
	prev := m.hart.SATP()
	m.hart.SetSATP(tag)
	m.hart.FlushAll()
	log.Debugf("mm: switch %v -> %v", prev, tag)
	return prev
}

// Clone returns a new space with a private copy of every U leaf of src in
// the user range. Copies keep the source's flags.
func (m *Manager) Clone(src *AddressSpace) *AddressSpace {
	m.check(src)
	dst := m.newSpace()
	pages := 0
	src.pt.ForEachLeaf(m.layout.User, func(va riscv.Addr, size uint64, pte *pagetables.PTE) bool {
		if !pte.User() {
			return true
		}
		if size != riscv.PageSize {
			halt.Halt("mm", "user superpage at %v in %v", va, src)
		}
		f := m.alloc.Allocate()
		m.mem.CopyFrame(f, pte.PPN())
		m.install(dst, va, f, pte.Flags())
		pages++
		return true
	})
	log.Debugf("mm: cloned %v into %v (%d pages)", src, dst, pages)
	return dst
}

// Reclaim tears down as: it switches to the kernel space if as is active,
// frees every user page and table, and frees the root. as must not be used
// afterwards.
func (m *Manager) Reclaim(as *AddressSpace) ReclaimStats {
	m.check(as)
	if as.kernel {
		halt.Halt("mm", "reclaim of the kernel space")
	}
	if m.hart.SATP() == as.tag {
		m.Switch(m.kernel.tag)
	}
	st := m.UnmapUser(as)
	as.pt.Release()
	as.released = true
	delete(m.spaces, as.tag)

	rs := ReclaimStats{Pages: st.Pages, Tables: st.Tables + 1}
	log.Debugf("mm: reclaimed %v: %d pages, %d tables", as, rs.Pages, rs.Tables)
	return rs
}
