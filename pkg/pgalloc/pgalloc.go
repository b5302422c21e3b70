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

// Package pgalloc hands out physical frames one at a time.
//
// Free frames are kept on an intrusive LIFO list: the first doubleword of
// every free frame holds the frame number of the next free frame, and 0 ends
// the list. Frame 0 is never RAM, so it cannot be confused with a real frame.
// Frames handed out are zero-filled.
package pgalloc

import (
	"gvisor.dev/rvmm/pkg/bitmap"
	"gvisor.dev/rvmm/pkg/halt"
	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/pkg/physmem"
)

// Allocator is a physical frame allocator.
//
// It is not safe for concurrent use; the hart is its only user.
type Allocator struct {
	mem *physmem.Memory

	// head is the first free frame, or 0 if the list is empty.
	head physmem.FrameNumber

	// free is the length of the free list.
	free uint64

	// owned marks frames that have been given to the allocator, indexed by
	// frame - mem.FirstFrame().
	owned bitmap.Bitmap

	// inUse marks owned frames that are currently allocated.
	inUse bitmap.Bitmap
}

// Stats describes allocator occupancy.
type Stats struct {
	// Free is the number of frames on the free list.
	Free uint64

	// InUse is the number of frames handed out and not yet freed.
	InUse uint64

	// Total is the number of frames the allocator manages.
	Total uint64
}

// New returns an allocator over mem with an empty free list.
func New(mem *physmem.Memory) *Allocator {
	return &Allocator{
		mem:   mem,
		owned: bitmap.New(mem.NumFrames()),
		inUse: bitmap.New(mem.NumFrames()),
	}
}

// AddRange gives the frames [start, end) to the allocator. Frames are pushed
// in ascending order, so start is handed out last.
func (a *Allocator) AddRange(start, end physmem.FrameNumber) {
	if start > end || !a.mem.ContainsFrame(start) || (end > start && !a.mem.ContainsFrame(end-1)) {
		halt.Halt("pgalloc", "frame range [%v, %v) outside RAM", start, end)
	}
	for f := start; f < end; f++ {
		if !a.owned.Add(a.index(f)) {
			halt.Halt("pgalloc", "frame %v added twice", f)
		}
		a.push(f)
	}
	log.Debugf("pgalloc: added frames [%v, %v)", start, end)
}

// Allocate removes a frame from the free list and returns it zero-filled. It
// halts if no frames are left.
func (a *Allocator) Allocate() physmem.FrameNumber {
	if a.head == 0 {
		halt.Halt("pgalloc", "out of physical memory")
	}
	f := a.head
	a.head = physmem.FrameNumber(a.mem.ReadUint64(f.Addr()))
	a.free--
	a.mem.Zero(f)
	a.inUse.Add(a.index(f))
	log.Debugf("pgalloc: allocate %v", f)
	return f
}

// Free returns f to the free list. f must have been returned by Allocate and
// not freed since; anything else halts.
func (a *Allocator) Free(f physmem.FrameNumber) {
	if !a.mem.ContainsFrame(f) || !a.owned.Contains(a.index(f)) {
		halt.Halt("pgalloc", "free of unmanaged frame %v", f)
	}
	if !a.inUse.Remove(a.index(f)) {
		halt.Halt("pgalloc", "double free of frame %v", f)
	}
	a.push(f)
	log.Debugf("pgalloc: free %v", f)
}

// InUse returns true if f is currently allocated.
func (a *Allocator) InUse(f physmem.FrameNumber) bool {
	return a.mem.ContainsFrame(f) && a.inUse.Contains(a.index(f))
}

// Stats returns the current occupancy.
func (a *Allocator) Stats() Stats {
	return Stats{
		Free:  a.free,
		InUse: a.inUse.Count(),
		Total: a.owned.Count(),
	}
}

func (a *Allocator) push(f physmem.FrameNumber) {
	a.mem.WriteUint64(f.Addr(), uint64(a.head))
	a.head = f
	a.free++
}

func (a *Allocator) index(f physmem.FrameNumber) uint64 {
	return uint64(f - a.mem.FirstFrame())
}
