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

	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/riscv"
)

// lowerHalf is the lower half of the Sv39 address space.
var lowerHalf = riscv.AddrRange{Start: 0, End: 1 << (riscv.VABits - 1)}

// Mapping describes one leaf entry.
type Mapping struct {
	// Range is the virtual range the leaf maps.
	Range riscv.AddrRange

	// PA is the physical address of the first byte.
	PA uint64

	// Flags are the entry's flags.
	Flags pagetables.Flags
}

// String implements fmt.Stringer.String.
func (mp Mapping) String() string {
	return fmt.Sprintf("%v -> %#x %v", mp.Range, mp.PA, mp.Flags)
}

// Mappings lists every leaf of as in the lower half of the address space, in
// address order. If userOnly is set, only the user range is listed.
func (m *Manager) Mappings(as *AddressSpace, userOnly bool) []Mapping {
	m.check(as)
	r := lowerHalf
	if userOnly {
		r = m.layout.User
	}
	var ms []Mapping
	as.pt.ForEachLeaf(r, func(va riscv.Addr, size uint64, pte *pagetables.PTE) bool {
		ms = append(ms, Mapping{
			Range: riscv.AddrRange{Start: va, End: va + riscv.Addr(size)},
			PA:    pte.PPN().Addr(),
			Flags: pte.Flags(),
		})
		return true
	})
	return ms
}

// Coalesce merges adjacent mappings with equal flags whose physical pages are
// contiguous.
func Coalesce(ms []Mapping) []Mapping {
	var out []Mapping
	for _, mp := range ms {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Range.End == mp.Range.Start && last.Flags == mp.Flags && last.PA+last.Range.Length() == mp.PA {
				last.Range.End = mp.Range.End
				continue
			}
		}
		out = append(out, mp)
	}
	return out
}
