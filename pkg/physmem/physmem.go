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

// Package physmem simulates the machine's physical memory.
//
// RAM is a single contiguous range of physical addresses starting at a
// configurable base, backed by an anonymous host mapping. Physical frames are
// identified by their frame number (physical address >> 12). Kernel code
// reaches RAM through the direct map, so every frame is also a byte slice.
package physmem

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/rvmm/pkg/halt"
	"gvisor.dev/rvmm/pkg/memutil"
	"gvisor.dev/rvmm/pkg/riscv"
)

// FrameNumber is a physical page number.
type FrameNumber uint64

// FrameOf returns the frame containing physical address pa.
func FrameOf(pa uint64) FrameNumber {
	return FrameNumber(pa >> riscv.PageShift)
}

// Addr returns the physical address of the first byte of f.
func (f FrameNumber) Addr() uint64 {
	return uint64(f) << riscv.PageShift
}

// String implements fmt.Stringer.String.
func (f FrameNumber) String() string {
	return fmt.Sprintf("ppn:%#x", uint64(f))
}

// Memory is the simulated RAM.
type Memory struct {
	base uint64
	data []byte
}

// New maps size bytes of RAM at physical address base.
func New(base, size uint64) (*Memory, error) {
	if base%riscv.PageSize != 0 || size%riscv.PageSize != 0 {
		return nil, fmt.Errorf("RAM [%#x, +%#x) is not page aligned", base, size)
	}
	if base == 0 {
		return nil, fmt.Errorf("RAM must not start at physical address 0")
	}
	if base+size < base {
		return nil, fmt.Errorf("RAM [%#x, +%#x) overflows the physical address space", base, size)
	}
	data, err := memutil.MapAnon(int(size))
	if err != nil {
		return nil, fmt.Errorf("allocating RAM: %w", err)
	}
	return &Memory{base: base, data: data}, nil
}

// Close releases the backing mapping. The Memory must not be used afterwards.
func (m *Memory) Close() error {
	if m.data == nil {
		return nil
	}
	err := memutil.UnmapSlice(m.data)
	m.data = nil
	return err
}

// Base returns the physical address of the first byte of RAM.
func (m *Memory) Base() uint64 {
	return m.base
}

// End returns the physical address one past the last byte of RAM.
func (m *Memory) End() uint64 {
	return m.base + uint64(len(m.data))
}

// Size returns the size of RAM in bytes.
func (m *Memory) Size() uint64 {
	return uint64(len(m.data))
}

// FirstFrame returns the first frame of RAM.
func (m *Memory) FirstFrame() FrameNumber {
	return FrameOf(m.base)
}

// EndFrame returns the frame one past the last frame of RAM.
func (m *Memory) EndFrame() FrameNumber {
	return FrameOf(m.End())
}

// NumFrames returns the number of frames of RAM.
func (m *Memory) NumFrames() uint64 {
	return uint64(len(m.data)) >> riscv.PageShift
}

// ContainsFrame returns true if f is a frame of RAM.
func (m *Memory) ContainsFrame(f FrameNumber) bool {
	return f >= m.FirstFrame() && f < m.EndFrame()
}

// ContainsRange returns true if [pa, pa+n) lies within RAM.
func (m *Memory) ContainsRange(pa, n uint64) bool {
	end := pa + n
	return pa >= m.base && end >= pa && end <= m.End()
}

// FrameToBytes returns the direct-map view of frame f. It halts if f is not
// RAM.
func (m *Memory) FrameToBytes(f FrameNumber) []byte {
	if !m.ContainsFrame(f) {
		halt.Halt("physmem", "frame %v outside RAM [%#x, %#x)", f, m.base, m.End())
	}
	off := f.Addr() - m.base
	return m.data[off : off+riscv.PageSize : off+riscv.PageSize]
}

// AddrToFrame returns the frame holding physical address pa. It halts if pa
// is not RAM.
func (m *Memory) AddrToFrame(pa uint64) FrameNumber {
	if pa < m.base || pa >= m.End() {
		halt.Halt("physmem", "physical address %#x outside RAM [%#x, %#x)", pa, m.base, m.End())
	}
	return FrameOf(pa)
}

// Bytes returns the direct-map view of [pa, pa+n). It halts if the range is
// not RAM.
func (m *Memory) Bytes(pa, n uint64) []byte {
	if !m.ContainsRange(pa, n) {
		halt.Halt("physmem", "physical range [%#x, +%#x) outside RAM [%#x, %#x)", pa, n, m.base, m.End())
	}
	off := pa - m.base
	return m.data[off : off+n : off+n]
}

// Zero fills frame f with zeroes.
func (m *Memory) Zero(f FrameNumber) {
	clear(m.FrameToBytes(f))
}

// CopyFrame copies the contents of src into dst.
func (m *Memory) CopyFrame(dst, src FrameNumber) {
	copy(m.FrameToBytes(dst), m.FrameToBytes(src))
}

// ReadUint64 reads the little-endian doubleword at physical address pa.
func (m *Memory) ReadUint64(pa uint64) uint64 {
	return binary.LittleEndian.Uint64(m.Bytes(pa, 8))
}

// WriteUint64 writes v as a little-endian doubleword at physical address pa.
func (m *Memory) WriteUint64(pa, v uint64) {
	binary.LittleEndian.PutUint64(m.Bytes(pa, 8), v)
}
