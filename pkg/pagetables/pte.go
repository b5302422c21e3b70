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
	"errors"
	"fmt"
	"strings"

	"gvisor.dev/rvmm/pkg/physmem"
)

// Flags are the low eight bits of a page table entry.
type Flags uint8

// Sv39 entry flags.
const (
	Valid Flags = 1 << iota
	Read
	Write
	Execute
	User
	Global
	Accessed
	Dirty
)

// PermMask covers the flags a mapping request may set. V, A and D are managed
// by the table itself.
const PermMask = Read | Write | Execute | User | Global

const (
	ppnShift     = 10
	ppnBits      = 44
	ppnMask      = (1<<ppnBits - 1) << ppnShift
	reservedMask = 0xffc0000000000000
	rwxMask      = Read | Write | Execute
)

// ErrReservedBits is returned by MakePTE for entries with any of bits 63:54
// set.
var ErrReservedBits = errors.New("reserved PTE bits set")

// flagNames is ordered by bit position.
const flagNames = "vrwxugad"

// String returns the flags as "vrwxugad" with '-' for clear bits.
func (f Flags) String() string {
	var b [8]byte
	for i := range b {
		if f&(1<<i) != 0 {
			b[i] = flagNames[i]
		} else {
			b[i] = '-'
		}
	}
	return string(b[:])
}

// WellFormed returns false if f grants write without read.
func (f Flags) WellFormed() bool {
	return f&Write == 0 || f&Read != 0
}

// Grants returns true if f grants any of R, W or X, as every leaf must.
func (f Flags) Grants() bool {
	return f&rwxMask != 0
}

// ParseFlags parses a permission string made of the letters r, w, x, u and g
// in any order, for example "rw" or "urx". '-' is ignored.
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			f |= Read
		case 'w':
			f |= Write
		case 'x':
			f |= Execute
		case 'u':
			f |= User
		case 'g':
			f |= Global
		case '-':
		default:
			return 0, fmt.Errorf("invalid permission %q in %q", c, s)
		}
	}
	return f, nil
}

// PTE is an Sv39 page table entry.
//
// Bits 7:0 are flags, bits 9:8 are reserved for software, bits 53:10 hold
// the physical page number and bits 63:54 must be zero.
//
// An entry is invalid if V is clear, whatever its other bits. A valid entry
// with R, W and X all clear points to the next level; any other valid entry
// is a leaf.
type PTE uint64

// LeafPTE returns a leaf mapping frame with flags. V, A and D are always set,
// so the hardware never needs to update the entry.
func LeafPTE(frame physmem.FrameNumber, flags Flags) PTE {
	return PTE(uint64(frame)<<ppnShift&ppnMask | uint64(flags|Valid|Accessed|Dirty))
}

// PointerPTE returns a non-leaf entry referring to the table in frame.
func PointerPTE(frame physmem.FrameNumber, global bool) PTE {
	pte := PTE(uint64(frame)<<ppnShift&ppnMask | uint64(Valid))
	if global {
		pte |= PTE(Global)
	}
	return pte
}

// MakePTE validates a raw entry.
func MakePTE(raw uint64) (PTE, error) {
	if raw&reservedMask != 0 {
		return 0, ErrReservedBits
	}
	return PTE(raw), nil
}

// Flags returns the flag bits.
func (p PTE) Flags() Flags {
	return Flags(p)
}

// HasFlags returns true if all of f are set.
func (p PTE) HasFlags(f Flags) bool {
	return p.Flags()&f == f
}

// Valid returns true if V is set.
func (p PTE) Valid() bool {
	return p.HasFlags(Valid)
}

// Readable returns true if R is set.
func (p PTE) Readable() bool {
	return p.HasFlags(Read)
}

// Writable returns true if W is set.
func (p PTE) Writable() bool {
	return p.HasFlags(Write)
}

// Executable returns true if X is set.
func (p PTE) Executable() bool {
	return p.HasFlags(Execute)
}

// User returns true if U is set.
func (p PTE) User() bool {
	return p.HasFlags(User)
}

// Global returns true if G is set.
func (p PTE) Global() bool {
	return p.HasFlags(Global)
}

// Accessed returns true if A is set.
func (p PTE) Accessed() bool {
	return p.HasFlags(Accessed)
}

// Dirty returns true if D is set.
func (p PTE) Dirty() bool {
	return p.HasFlags(Dirty)
}

// PPN returns the physical page number.
func (p PTE) PPN() physmem.FrameNumber {
	return physmem.FrameNumber((uint64(p) & ppnMask) >> ppnShift)
}

// IsLeaf returns true for a valid entry with any of R, W or X set.
func (p PTE) IsLeaf() bool {
	return p.Valid() && p.Flags()&rwxMask != 0
}

// IsPointer returns true for a valid entry with R, W and X clear.
func (p PTE) IsPointer() bool {
	return p.Valid() && p.Flags()&rwxMask == 0
}

// Malformed returns true for a valid entry granting write without read.
func (p PTE) Malformed() bool {
	return p.Valid() && !p.Flags().WellFormed()
}

// Usable returns true if the entry is valid and well formed.
func (p PTE) Usable() bool {
	return p.Valid() && p.Flags().WellFormed()
}

// SetPerms overwrites R, W, X, U and G, leaving every other bit alone.
func (p *PTE) SetPerms(f Flags) {
	*p = *p&^PTE(PermMask) | PTE(f&PermMask)
}

// Clear invalidates the entry.
func (p *PTE) Clear() {
	*p = 0
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	return fmt.Sprintf("%v %s", p.PPN(), p.Flags())
}
