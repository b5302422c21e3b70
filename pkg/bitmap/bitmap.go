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

// Package bitmap provides a fixed-size bitmap indexed by frame offset.
package bitmap

import (
	"math/bits"
)

// Bitmap implements an efficient fixed-size bitmap.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint64

	// size is the number of addressable bits.
	size uint64

	// bitBlock holds the bits. Each word holds 64 entries.
	bitBlock []uint64
}

// New creates a new empty Bitmap holding size bits.
func New(size uint64) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// Size returns the number of addressable bits.
func (b *Bitmap) Size() uint64 {
	return b.size
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint64 {
	return b.numOnes
}

// Contains returns true if bit i is set. Bits beyond Size are never set.
func (b *Bitmap) Contains(i uint64) bool {
	if i >= b.size {
		return false
	}
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets bit i. It returns false if i was already set.
//
// Precondition: i < Size().
func (b *Bitmap) Add(i uint64) bool {
	blockNum, mask := i/64, uint64(1)<<(i%64)
	old := b.bitBlock[blockNum]
	if old&mask != 0 {
		return false
	}
	b.bitBlock[blockNum] = old | mask
	b.numOnes++
	return true
}

// Remove clears bit i. It returns false if i was not set.
//
// Precondition: i < Size().
func (b *Bitmap) Remove(i uint64) bool {
	blockNum, mask := i/64, uint64(1)<<(i%64)
	old := b.bitBlock[blockNum]
	if old&mask == 0 {
		return false
	}
	b.bitBlock[blockNum] = old &^ mask
	b.numOnes--
	return true
}

// ForEach calls fn for every set bit in ascending order, stopping early if fn
// returns false.
func (b *Bitmap) ForEach(fn func(i uint64) bool) {
	for blk, w := range b.bitBlock {
		base := uint64(blk) * 64
		for w != 0 {
			// Extract the lowest set bit.
			j := w & -w
			if !fn(base + uint64(bits.TrailingZeros64(w))) {
				return
			}
			w ^= j
		}
	}
}

// ToSlice returns all set bits in ascending order. For example, a bitmap of
// [0, 1, 0, 1] returns [1, 3].
func (b *Bitmap) ToSlice() []uint64 {
	s := make([]uint64, 0, b.numOnes)
	b.ForEach(func(i uint64) bool {
		s = append(s, i)
		return true
	})
	return s
}
