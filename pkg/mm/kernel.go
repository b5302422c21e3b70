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

// InitKernelSpace builds the kernel page table in the boot table frames,
// activates it, hands the frames after the heap to the allocator and enables
// supervisor access to user memory. It may be called only once.
//
// The kernel space is an identity map:
//
//	0 to RAM base:                  RW gigapages (MMIO)
//	RAM base to image end:          pages with the section's permissions
//	image end to first megapage end: RW pages (heap and free frames)
//	rest of RAM:                    RW megapages
func (m *Manager) InitKernelSpace() *AddressSpace {
	if m.kernel != nil {
		halt.Halt("mm", "kernel space already initialized")
	}
	l := m.layout
	rootF, midF, leafF := l.BootTables()
	for _, f := range []physmem.FrameNumber{rootF, midF, leafF} {
		m.mem.Zero(f)
	}
	pt := pagetables.FromRoot(m.mem, m.alloc, rootF)
	root, mid, leaf := pt.Node(rootF), pt.Node(midF), pt.Node(leafF)

	const global = pagetables.Global
	for pa := uint64(0); pa < l.RAMBase; pa += riscv.GigaPageSize {
		root[pagetables.VPN(2, riscv.Addr(pa))] = pagetables.LeafPTE(physmem.FrameOf(pa), pagetables.Read|pagetables.Write|global)
	}

	ram := riscv.Addr(l.RAMBase)
	root[pagetables.VPN(2, ram)] = pagetables.PointerPTE(midF, true)
	mid[pagetables.VPN(1, ram)] = pagetables.PointerPTE(leafF, true)

	mapPages := func(r riscv.AddrRange, flags pagetables.Flags) {
		for va := r.Start; va < r.End; va += riscv.PageSize {
			leaf[pagetables.VPN(0, va)] = pagetables.LeafPTE(m.mem.AddrToFrame(uint64(va)), flags|global)
		}
	}
	mapPages(l.Text(), pagetables.Read|pagetables.Execute)
	mapPages(l.ROData(), pagetables.Read)
	mapPages(riscv.AddrRange{Start: l.Data().Start, End: ram + riscv.MegaPageSize}, pagetables.Read|pagetables.Write)

	for pa := l.RAMBase + riscv.MegaPageSize; pa < l.RAMEnd(); pa += riscv.MegaPageSize {
		mid[pagetables.VPN(1, riscv.Addr(pa))] = pagetables.LeafPTE(m.mem.AddrToFrame(pa), pagetables.Read|pagetables.Write|global)
	}

	as := m.register(pt, true)
	m.kernel = as
	m.hart.SetSATP(as.tag)
	m.hart.FlushAll()

	heap := l.Heap()
	start, end := l.FreeFrames()
	log.Infof("           RAM: [%#x, %#x): %d MB", l.RAMBase, l.RAMEnd(), l.RAMSize>>20)
	log.Infof("  Kernel image: %v", riscv.AddrRange{Start: ram, End: l.ImageEnd()})
	log.Infof("Heap allocator: %v: %d KB", heap, heap.Length()>>10)
	log.Infof("Page allocator: [%#x, %#x): %d pages", start.Addr(), end.Addr(), end-start)
	m.alloc.AddRange(start, end)

	m.hart.SetSUM(true)
	return as
}
