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

// Package hart models the parts of a RISC-V hart the memory subsystem talks
// to: the satp register, the sstatus.SUM bit, the address translation cache
// and the hardware page table walker.
//
// Translations are cached until flushed, exactly like a real TLB, so a
// missing sfence.vma after a page table change is observable.
package hart

import (
	"encoding/binary"
	"errors"
	"fmt"

	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/physmem"
	"gvisor.dev/rvmm/pkg/riscv"
)

// Mode is the privilege mode of an access.
type Mode int

// Privilege modes.
const (
	Supervisor Mode = iota
	UserMode
)

// String implements fmt.Stringer.String.
func (m Mode) String() string {
	if m == UserMode {
		return "user"
	}
	return "supervisor"
}

// PageFault is raised when translation fails.
type PageFault struct {
	// Addr is the faulting virtual address.
	Addr riscv.Addr

	// Access is the attempted access.
	Access riscv.AccessType

	// Mode is the privilege mode of the access.
	Mode Mode
}

// Error implements error.Error.
func (f *PageFault) Error() string {
	return fmt.Sprintf("%s page fault at %v (%s)", f.Mode, f.Addr, f.Access)
}

var (
	// ErrAccessFault is returned when a translated address is not RAM.
	ErrAccessFault = errors.New("access fault")

	// ErrMisaligned is returned for a doubleword access that is not 8-byte
	// aligned.
	ErrMisaligned = errors.New("misaligned access")
)

// tlbEntry caches the leaf that mapped one 4 KiB page.
type tlbEntry struct {
	frame physmem.FrameNumber
	flags pagetables.Flags
}

// Hart is a single simulated hart.
type Hart struct {
	mem *physmem.Memory

	satp pagetables.Tag
	sum  bool

	// tlb is keyed by virtual page number.
	tlb map[uint64]tlbEntry

	flushes uint64
}

// New returns a hart with translation off.
func New(mem *physmem.Memory) *Hart {
	return &Hart{
		mem: mem,
		tlb: make(map[uint64]tlbEntry),
	}
}

// SATP returns the current satp value.
func (h *Hart) SATP() pagetables.Tag {
	return h.satp
}

// SetSATP writes satp. Like the hardware, it does not flush the TLB.
func (h *Hart) SetSATP(tag pagetables.Tag) {
	log.Debugf("hart: satp <- %v", tag)
	h.satp = tag
}

// SUM returns sstatus.SUM.
func (h *Hart) SUM() bool {
	return h.sum
}

// SetSUM sets or clears sstatus.SUM, which lets supervisor loads and stores
// reach user pages.
func (h *Hart) SetSUM(on bool) {
	h.sum = on
}

// FlushAll drops every cached translation (sfence.vma zero, zero).
func (h *Hart) FlushAll() {
	clear(h.tlb)
	h.flushes++
}

// FlushPage drops the cached translation of the page holding va (sfence.vma
// va, zero).
func (h *Hart) FlushPage(va riscv.Addr) {
	delete(h.tlb, uint64(va)>>riscv.PageShift)
	h.flushes++
}

// Flushes returns the number of fences executed.
func (h *Hart) Flushes() uint64 {
	return h.flushes
}

// Cached returns true if the TLB holds a translation for va.
func (h *Hart) Cached(va riscv.Addr) bool {
	_, ok := h.tlb[uint64(va)>>riscv.PageShift]
	return ok
}

// Translate returns the physical address for an access to va.
func (h *Hart) Translate(va riscv.Addr, access riscv.AccessType, mode Mode) (uint64, error) {
	if h.satp.Mode() == riscv.SATPModeBare {
		return uint64(va), nil
	}
	fault := &PageFault{Addr: va, Access: access, Mode: mode}
	if !va.IsCanonical() {
		return 0, fault
	}
	vpn := uint64(va) >> riscv.PageShift
	e, ok := h.tlb[vpn]
	if !ok {
		e, ok = h.walk(va)
		if !ok {
			return 0, fault
		}
		h.tlb[vpn] = e
	}
	if !h.permits(e.flags, access, mode) {
		return 0, fault
	}
	return e.frame.Addr() | va.PageOffset(), nil
}

// walk performs the hardware page table walk for va.
func (h *Hart) walk(va riscv.Addr) (tlbEntry, bool) {
	node := h.satp.RootPPN()
	for hwLevel := 2; hwLevel >= 0; hwLevel-- {
		pa := node.Addr() + uint64(pagetables.VPN(hwLevel, va))*8
		if !h.mem.ContainsRange(pa, 8) {
			return tlbEntry{}, false
		}
		pte, err := pagetables.MakePTE(h.mem.ReadUint64(pa))
		if err != nil || !pte.Usable() {
			return tlbEntry{}, false
		}
		if !pte.IsLeaf() {
			node = pte.PPN()
			continue
		}
		// Superpages must be aligned to their size.
		pageBits := uint(9 * hwLevel)
		if uint64(pte.PPN())&(1<<pageBits-1) != 0 {
			return tlbEntry{}, false
		}
		// A and D are never updated by this hart.
		if !pte.Accessed() || (pte.Writable() && !pte.Dirty()) {
			return tlbEntry{}, false
		}
		frame := pte.PPN() | physmem.FrameNumber(uint64(va)>>riscv.PageShift&(1<<pageBits-1))
		return tlbEntry{frame: frame, flags: pte.Flags()}, true
	}
	return tlbEntry{}, false
}

func (h *Hart) permits(f pagetables.Flags, access riscv.AccessType, mode Mode) bool {
	user := f&pagetables.User != 0
	switch mode {
	case UserMode:
		if !user {
			return false
		}
	case Supervisor:
		if user && (!h.sum || access.Execute) {
			return false
		}
	}
	if access.Read && f&pagetables.Read == 0 {
		return false
	}
	if access.Write && f&pagetables.Write == 0 {
		return false
	}
	if access.Execute && f&pagetables.Execute == 0 {
		return false
	}
	return true
}

func (h *Hart) ram(pa, n uint64) ([]byte, error) {
	if !h.mem.ContainsRange(pa, n) {
		return nil, ErrAccessFault
	}
	return h.mem.Bytes(pa, n), nil
}

// Load8 loads the byte at va.
func (h *Hart) Load8(va riscv.Addr, mode Mode) (byte, error) {
	pa, err := h.Translate(va, riscv.Read, mode)
	if err != nil {
		return 0, err
	}
	b, err := h.ram(pa, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Store8 stores v at va.
func (h *Hart) Store8(va riscv.Addr, v byte, mode Mode) error {
	pa, err := h.Translate(va, riscv.Write, mode)
	if err != nil {
		return err
	}
	b, err := h.ram(pa, 1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

// Load64 loads the little-endian doubleword at va.
func (h *Hart) Load64(va riscv.Addr, mode Mode) (uint64, error) {
	if va%8 != 0 {
		return 0, ErrMisaligned
	}
	pa, err := h.Translate(va, riscv.Read, mode)
	if err != nil {
		return 0, err
	}
	b, err := h.ram(pa, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Store64 stores v as a little-endian doubleword at va.
func (h *Hart) Store64(va riscv.Addr, v uint64, mode Mode) error {
	if va%8 != 0 {
		return ErrMisaligned
	}
	pa, err := h.Translate(va, riscv.Write, mode)
	if err != nil {
		return err
	}
	b, err := h.ram(pa, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}
