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
	"fmt"

	"gvisor.dev/rvmm/pkg/physmem"
	"gvisor.dev/rvmm/pkg/riscv"
)

// Tag is the satp value that activates a page table: translation mode in
// bits 63:60, address space identifier in bits 59:44 and root frame in bits
// 43:0. The ASID is always zero.
type Tag uint64

// BareTag disables translation.
const BareTag Tag = 0

// MakeTag returns the Sv39 tag for the table rooted at root.
func MakeTag(root physmem.FrameNumber) Tag {
	return Tag(riscv.SATPModeSv39<<riscv.SATPModeShift | uint64(root)&riscv.SATPPPNMask)
}

// Mode returns the translation mode.
func (t Tag) Mode() uint64 {
	return uint64(t) >> riscv.SATPModeShift
}

// ASID returns the address space identifier.
func (t Tag) ASID() uint64 {
	return uint64(t) >> riscv.SATPASIDShift & riscv.SATPASIDMask
}

// RootPPN returns the root frame.
func (t Tag) RootPPN() physmem.FrameNumber {
	return physmem.FrameNumber(uint64(t) & riscv.SATPPPNMask)
}

// String implements fmt.Stringer.String.
func (t Tag) String() string {
	if t.Mode() == riscv.SATPModeBare {
		return "bare"
	}
	return fmt.Sprintf("sv39:%#x", uint64(t.RootPPN()))
}
