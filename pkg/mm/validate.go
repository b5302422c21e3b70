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
	"bytes"

	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/riscv"
)

// page returns the direct-map bytes from va to the end of its page if the
// page is mapped by a usable 4 KiB leaf carrying all of flags.
func (m *Manager) page(as *AddressSpace, va riscv.Addr, flags pagetables.Flags) ([]byte, bool) {
	pte, err := as.pt.Slot(va, false)
	if err != nil || pte == nil || !pte.Usable() || !pte.IsLeaf() || !pte.HasFlags(flags) {
		return nil, false
	}
	if !m.mem.ContainsFrame(pte.PPN()) {
		return nil, false
	}
	return m.mem.FrameToBytes(pte.PPN())[va.PageOffset():], true
}

// ValidateRange returns true if every page overlapping [va, va+n) is mapped
// with at least flags. An empty range is valid; a range that wraps is not.
func (m *Manager) ValidateRange(as *AddressSpace, va riscv.Addr, n uint64, flags pagetables.Flags) bool {
	m.check(as)
	if n == 0 {
		return true
	}
	r, ok := va.ToRange(n)
	if !ok || !r.Start.IsCanonical() || !(r.End - 1).IsCanonical() {
		log.Debugf("mm: validate %v+%#x: not a valid range", va, n)
		return false
	}
	p := va.RoundDown()
	for i := uint64(0); i < r.NumPages(); i++ {
		if _, ok := m.page(as, p, flags); !ok {
			log.Debugf("mm: validate %v %v: page %v fails", r, flags, p)
			return false
		}
		p += riscv.PageSize
	}
	return true
}

// ValidateCString returns true if va points to a NUL-terminated string whose
// every byte, terminator included, lies on pages mapped with at least flags.
// No byte of a page that fails the check is read.
func (m *Manager) ValidateCString(as *AddressSpace, va riscv.Addr, flags pagetables.Flags) bool {
	m.check(as)
	_, ok := m.scanString(as, va, flags, ^uint64(0))
	return ok == nil
}

// scanString looks for a NUL starting at va, reading at most max bytes before
// the terminator. It returns the bytes before the NUL.
func (m *Manager) scanString(as *AddressSpace, va riscv.Addr, flags pagetables.Flags, max uint64) ([]byte, error) {
	var s []byte
	for p := va; ; {
		if !p.IsCanonical() {
			return nil, ErrFault
		}
		b, ok := m.page(as, p, flags)
		if !ok {
			return nil, ErrFault
		}
		if i := bytes.IndexByte(b, 0); i >= 0 {
			if uint64(len(s)+i) > max {
				return nil, ErrStringTooLong
			}
			return append(s, b[:i]...), nil
		}
		s = append(s, b...)
		if uint64(len(s)) > max {
			return nil, ErrStringTooLong
		}
		next := p.RoundDown() + riscv.PageSize
		if next < p {
			return nil, ErrFault
		}
		p = next
	}
}
