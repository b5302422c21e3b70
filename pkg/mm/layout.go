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
	"fmt"

	"gvisor.dev/rvmm/pkg/physmem"
	"gvisor.dev/rvmm/pkg/riscv"
)

// bootTablePages is the number of page table frames reserved at the end of
// the kernel image: the kernel root, the middle table for RAM, and the last
// level table for the first megapage of RAM.
const bootTablePages = 3

// Layout describes the physical memory map and the user address range.
//
// The kernel image starts at RAMBase and consists of text, read-only data and
// data sections, followed by the boot page tables. The byte heap follows the
// image, and every frame from the end of the heap to the end of RAM belongs to
// the frame allocator.
type Layout struct {
	// RAMBase is the physical address of the first byte of RAM. It must be
	// aligned to a gigapage.
	RAMBase uint64

	// RAMSize is the size of RAM. It must be a multiple of the megapage size
	// and at most one gigapage.
	RAMSize uint64

	// TextSize is the size of the kernel's executable section.
	TextSize uint64

	// RODataSize is the size of the kernel's read-only data section.
	RODataSize uint64

	// DataSize is the size of the kernel's writable data and bss, not counting
	// the boot page tables.
	DataSize uint64

	// HeapMin is the minimum size of the byte heap after the image.
	HeapMin uint64

	// User is the user virtual address range.
	User riscv.AddrRange
}

// DefaultLayout returns the layout of the QEMU virt machine the kernel
// targets.
func DefaultLayout() Layout {
	return Layout{
		RAMBase:    0x80000000,
		RAMSize:    8 << 20,
		TextSize:   0x10000,
		RODataSize: 0x4000,
		DataSize:   0x8000,
		HeapMin:    0x10000,
		User:       riscv.AddrRange{Start: 0xc0000000, End: 0x100000000},
	}
}

// RAMEnd returns the physical address one past the end of RAM.
func (l Layout) RAMEnd() uint64 {
	return l.RAMBase + l.RAMSize
}

// Text returns the kernel text section.
func (l Layout) Text() riscv.AddrRange {
	start := riscv.Addr(l.RAMBase)
	return riscv.AddrRange{Start: start, End: start + riscv.Addr(l.TextSize)}
}

// ROData returns the kernel read-only data section.
func (l Layout) ROData() riscv.AddrRange {
	start := l.Text().End
	return riscv.AddrRange{Start: start, End: start + riscv.Addr(l.RODataSize)}
}

// Data returns the kernel's writable part, including the boot page tables.
func (l Layout) Data() riscv.AddrRange {
	return riscv.AddrRange{Start: l.ROData().End, End: l.ImageEnd()}
}

// ImageEnd returns the address one past the end of the kernel image.
func (l Layout) ImageEnd() riscv.Addr {
	return l.ROData().End + riscv.Addr(l.DataSize+bootTablePages*riscv.PageSize)
}

// BootTables returns the frames holding the kernel root, the middle table
// covering RAM and the last-level table covering the first megapage of RAM.
func (l Layout) BootTables() (root, mid, leaf physmem.FrameNumber) {
	first := physmem.FrameOf(uint64(l.ImageEnd())) - bootTablePages
	return first, first + 1, first + 2
}

// Heap returns the byte heap reserved after the image.
func (l Layout) Heap() riscv.AddrRange {
	start := l.ImageEnd()
	return riscv.AddrRange{Start: start, End: start + riscv.Addr(l.HeapMin).MustRoundUp()}
}

// FreeFrames returns the frames given to the frame allocator.
func (l Layout) FreeFrames() (start, end physmem.FrameNumber) {
	return physmem.FrameOf(uint64(l.Heap().End)), physmem.FrameOf(l.RAMEnd())
}

// Validate checks that the layout can be mapped by InitKernelSpace.
func (l Layout) Validate() error {
	switch {
	case l.RAMBase == 0 || l.RAMBase%riscv.GigaPageSize != 0:
		return fmt.Errorf("RAM base %#x is not a non-zero multiple of %#x", l.RAMBase, riscv.GigaPageSize)
	case l.RAMBase+riscv.GigaPageSize > 1<<(riscv.VABits-1):
		return fmt.Errorf("RAM base %#x is outside the lower half of the Sv39 address space", l.RAMBase)
	case l.RAMSize == 0 || l.RAMSize%riscv.MegaPageSize != 0 || l.RAMSize > riscv.GigaPageSize:
		return fmt.Errorf("RAM size %#x must be a non-zero multiple of %#x no larger than %#x", l.RAMSize, riscv.MegaPageSize, riscv.GigaPageSize)
	case l.TextSize == 0:
		return fmt.Errorf("kernel text is empty")
	case l.TextSize%riscv.PageSize != 0 || l.RODataSize%riscv.PageSize != 0 || l.DataSize%riscv.PageSize != 0:
		return fmt.Errorf("kernel sections (text %#x, rodata %#x, data %#x) are not page aligned", l.TextSize, l.RODataSize, l.DataSize)
	case l.TextSize+l.RODataSize+l.DataSize+bootTablePages*riscv.PageSize > riscv.MegaPageSize:
		return fmt.Errorf("kernel too large: image %v does not fit in the first megapage", riscv.AddrRange{Start: riscv.Addr(l.RAMBase), End: l.ImageEnd()})
	case l.HeapMin > riscv.MegaPageSize*512:
		return fmt.Errorf("heap minimum %#x too large", l.HeapMin)
	case uint64(l.Heap().End) >= l.RAMEnd():
		return fmt.Errorf("not enough memory: heap %v leaves no frames below RAM end %#x", l.Heap(), l.RAMEnd())
	}

	u := l.User
	switch {
	case u.Start >= u.End:
		return fmt.Errorf("user range %v is empty", u)
	case u.Start%riscv.GigaPageSize != 0 || u.End%riscv.GigaPageSize != 0:
		return fmt.Errorf("user range %v is not gigapage aligned", u)
	case uint64(u.End) > 1<<(riscv.VABits-1):
		return fmt.Errorf("user range %v is outside the lower half of the Sv39 address space", u)
	case u.Overlaps(riscv.AddrRange{Start: 0, End: riscv.Addr(l.RAMBase + riscv.GigaPageSize)}):
		return fmt.Errorf("user range %v overlaps the kernel's direct map below %#x", u, l.RAMBase+riscv.GigaPageSize)
	}
	return nil
}
