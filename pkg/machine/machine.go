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

// Package machine assembles a simulated RISC-V machine: RAM, the frame
// allocator, the hart, the memory manager with its kernel space, the fault
// policy and the process table.
package machine

import (
	"fmt"

	"gvisor.dev/rvmm/pkg/fault"
	"gvisor.dev/rvmm/pkg/hart"
	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/pkg/mm"
	"gvisor.dev/rvmm/pkg/pgalloc"
	"gvisor.dev/rvmm/pkg/physmem"
	"gvisor.dev/rvmm/pkg/proc"
)

// Machine is a booted machine.
type Machine struct {
	Mem    *physmem.Memory
	Alloc  *pgalloc.Allocator
	Hart   *hart.Hart
	MM     *mm.Manager
	Policy *fault.Policy
	Procs  *proc.Table
}

// New boots a machine with the given layout. The kernel space is active and
// every frame after the heap is on the free list.
func New(layout mm.Layout) (*Machine, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	mem, err := physmem.New(layout.RAMBase, layout.RAMSize)
	if err != nil {
		return nil, fmt.Errorf("allocating RAM: %w", err)
	}
	alloc := pgalloc.New(mem)
	h := hart.New(mem)
	m, err := mm.NewManager(mem, alloc, h, layout)
	if err != nil {
		mem.Close()
		return nil, err
	}
	m.InitKernelSpace()
	policy := fault.NewPolicy(m)
	log.Debugf("machine: booted with %d free frames", alloc.Stats().Free)
	return &Machine{
		Mem:    mem,
		Alloc:  alloc,
		Hart:   h,
		MM:     m,
		Policy: policy,
		Procs:  proc.NewTable(m, policy),
	}, nil
}

// Close releases the machine's RAM. The machine must not be used afterwards.
func (m *Machine) Close() error {
	return m.Mem.Close()
}
