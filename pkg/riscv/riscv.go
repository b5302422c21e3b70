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

// Package riscv describes the RV64 architectural definitions used by the
// memory subsystem: Sv39 page geometry, the satp and sstatus encodings, and
// virtual address arithmetic.
package riscv

const (
	// PageShift is the binary log of the base page size.
	PageShift = 12

	// PageSize is the base page size.
	PageSize = 1 << PageShift

	// MegaPageShift is the binary log of a level-1 leaf (megapage).
	MegaPageShift = 21

	// MegaPageSize is the size of a megapage.
	MegaPageSize = 1 << MegaPageShift

	// GigaPageShift is the binary log of a level-2 leaf (gigapage).
	GigaPageShift = 30

	// GigaPageSize is the size of a gigapage.
	GigaPageSize = 1 << GigaPageShift

	// VABits is the number of significant virtual address bits under Sv39.
	// Bits 63:39 of a well-formed address must all equal bit 38.
	VABits = 39
)

// satp fields.
const (
	SATPModeShift = 60
	SATPModeBare  = 0
	SATPModeSv39  = 8

	SATPASIDShift = 44
	SATPASIDMask  = 0xffff

	SATPPPNMask = 1<<44 - 1
)

// SstatusSUM permits supervisor-mode loads and stores to user pages.
const SstatusSUM = 1 << 18
