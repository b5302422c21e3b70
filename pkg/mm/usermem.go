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
	"errors"

	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/riscv"
)

var (
	// ErrFault is returned when user memory is not accessible as requested.
	// System calls report it as EFAULT.
	ErrFault = errors.New("bad address")

	// ErrStringTooLong is returned by CopyInString when no terminator is
	// found within the limit.
	ErrStringTooLong = errors.New("string too long")
)

// copyFlags are the permissions user memory must carry for the kernel to
// read it (CopyIn) or write it (CopyOut).
const (
	copyInFlags  = pagetables.User | pagetables.Read
	copyOutFlags = pagetables.User | pagetables.Write
)

// forEachChunk validates [va, va+n) against flags and then calls fn with the
// direct-map bytes of each page-sized piece, in order.
func (m *Manager) forEachChunk(as *AddressSpace, va riscv.Addr, n int, flags pagetables.Flags, fn func(b []byte)) error {
	if !m.ValidateRange(as, va, uint64(n), flags) {
		return ErrFault
	}
	for done := 0; done < n; {
		b, ok := m.page(as, va+riscv.Addr(done), flags)
		if !ok {
			return ErrFault
		}
		if rem := n - done; len(b) > rem {
			b = b[:rem]
		}
		fn(b)
		done += len(b)
	}
	return nil
}

// CopyIn copies len(dst) bytes of user memory at va into dst.
func (m *Manager) CopyIn(as *AddressSpace, va riscv.Addr, dst []byte) error {
	m.check(as)
	off := 0
	return m.forEachChunk(as, va, len(dst), copyInFlags, func(b []byte) {
		off += copy(dst[off:], b)
	})
}

// CopyOut copies src into user memory at va.
func (m *Manager) CopyOut(as *AddressSpace, va riscv.Addr, src []byte) error {
	m.check(as)
	off := 0
	return m.forEachChunk(as, va, len(src), copyOutFlags, func(b []byte) {
		off += copy(b, src[off:])
	})
}

// CopyInString copies the NUL-terminated user string at va, which must be no
// longer than maxlen bytes excluding the terminator.
func (m *Manager) CopyInString(as *AddressSpace, va riscv.Addr, maxlen int) (string, error) {
	m.check(as)
	if maxlen < 0 {
		maxlen = 0
	}
	b, err := m.scanString(as, va, copyInFlags, uint64(maxlen))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
