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

// Package mm implements the kernel's virtual memory manager: mapping and
// unmapping pages in an address space, validating user pointers, copying to
// and from user memory, and the lifecycle of address spaces.
//
// Everything runs on the single hart and nothing is locked. After any change
// that can affect a cached translation the TLB is flushed.
package mm

import (
	"fmt"

	"gvisor.dev/rvmm/pkg/halt"
	"gvisor.dev/rvmm/pkg/hart"
	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/pgalloc"
	"gvisor.dev/rvmm/pkg/physmem"
)

// AddressSpace is a page table together with its lifecycle state.
type AddressSpace struct {
	pt *pagetables.PageTables

	// tag is fixed at creation; it stays valid for logging after release.
	tag pagetables.Tag

	// kernel is set for the kernel's own space, which is never reclaimed.
	kernel bool

	// released is set by Reclaim. A released space must not be used.
	released bool
}

// Tag returns the satp value that activates the space.
func (as *AddressSpace) Tag() pagetables.Tag {
	return as.tag
}

// IsKernel returns true for the kernel space.
func (as *AddressSpace) IsKernel() bool {
	return as.kernel
}

// Released returns true once the space has been reclaimed.
func (as *AddressSpace) Released() bool {
	return as.released
}

// PageTables returns the underlying page table.
func (as *AddressSpace) PageTables() *pagetables.PageTables {
	return as.pt
}

// String implements fmt.Stringer.String.
func (as *AddressSpace) String() string {
	switch {
	case as.kernel:
		return fmt.Sprintf("kernel(%v)", as.tag)
	case as.released:
		return fmt.Sprintf("released(%v)", as.tag)
	default:
		return as.tag.String()
	}
}

// Manager owns the kernel space and every address space derived from it.
type Manager struct {
	mem    *physmem.Memory
	alloc  *pgalloc.Allocator
	hart   *hart.Hart
	layout Layout

	// kernel is nil until InitKernelSpace.
	kernel *AddressSpace

	// spaces indexes live address spaces by tag.
	spaces map[pagetables.Tag]*AddressSpace
}

// NewManager returns a manager for the given machine. The layout must match
// mem.
func NewManager(mem *physmem.Memory, alloc *pgalloc.Allocator, h *hart.Hart, layout Layout) (*Manager, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if mem.Base() != layout.RAMBase || mem.Size() != layout.RAMSize {
		return nil, fmt.Errorf("memory [%#x, %#x) does not match layout RAM [%#x, %#x)", mem.Base(), mem.End(), layout.RAMBase, layout.RAMEnd())
	}
	return &Manager{
		mem:    mem,
		alloc:  alloc,
		hart:   h,
		layout: layout,
		spaces: make(map[pagetables.Tag]*AddressSpace),
	}, nil
}

// Layout returns the memory layout.
func (m *Manager) Layout() Layout {
	return m.layout
}

// Memory returns physical memory.
func (m *Manager) Memory() *physmem.Memory {
	return m.mem
}

// Allocator returns the frame allocator.
func (m *Manager) Allocator() *pgalloc.Allocator {
	return m.alloc
}

// Hart returns the hart.
func (m *Manager) Hart() *hart.Hart {
	return m.hart
}

// KernelSpace returns the kernel space, or nil before InitKernelSpace.
func (m *Manager) KernelSpace() *AddressSpace {
	return m.kernel
}

// Active returns the space selected by satp, or nil if satp does not select
// a space this manager knows.
func (m *Manager) Active() *AddressSpace {
	return m.spaces[m.hart.SATP()]
}

// Spaces returns the number of live address spaces, including the kernel's.
func (m *Manager) Spaces() int {
	return len(m.spaces)
}

// check halts if as cannot be operated on.
func (m *Manager) check(as *AddressSpace) {
	switch {
	case as == nil:
		halt.Halt("mm", "nil address space")
	case as.released:
		halt.Halt("mm", "use of released address space %v", as.tag)
	}
}

func (m *Manager) register(pt *pagetables.PageTables, kernel bool) *AddressSpace {
	as := &AddressSpace{pt: pt, tag: pt.Tag(), kernel: kernel}
	m.spaces[as.tag] = as
	return as
}
