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

// Package memutil provides utilities for working with host memory mappings.
package memutil

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MapAnon returns a private anonymous read/write mapping of size bytes. size
// must be a multiple of the host page size.
func MapAnon(size int) ([]byte, error) {
	if size <= 0 || size%unix.Getpagesize() != 0 {
		return nil, fmt.Errorf("mapping size %#x is not a positive multiple of the host page size %#x", size, unix.Getpagesize())
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap(%#x): %w", size, err)
	}
	return b, nil
}

// UnmapSlice unmaps a mapping returned by MapAnon.
func UnmapSlice(slice []byte) error {
	return unix.Munmap(slice)
}

// IsAligned reports whether the backing storage of b starts on an align-byte
// boundary.
func IsAligned(b []byte, align uintptr) bool {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))%align == 0
}
