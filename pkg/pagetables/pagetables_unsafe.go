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
	"unsafe"

	"gvisor.dev/rvmm/pkg/physmem"
)

// EntriesPerTable is the number of entries in one table frame.
const EntriesPerTable = 512

// PTEs is a single table node.
type PTEs [EntriesPerTable]PTE

// nodeAt returns the table stored in frame f. Frames come from a page-aligned
// host mapping, so the cast is aligned. Entries use host byte order, which
// matches RISC-V on every supported host.
func nodeAt(mem *physmem.Memory, f physmem.FrameNumber) *PTEs {
	b := mem.FrameToBytes(f)
	return (*PTEs)(unsafe.Pointer(unsafe.SliceData(b)))
}
