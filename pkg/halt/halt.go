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

// Package halt provides the fatal stop used when the memory subsystem runs out
// of frames or detects a corrupted invariant.
//
// On hardware the hart would spin with interrupts disabled. Hosted, Halt logs
// a banner and panics with an *Error, which ends the machine's goroutine
// unless a test or the command front end recovers it with Catch.
package halt

import (
	"fmt"

	"gvisor.dev/rvmm/pkg/log"
)

// Error describes the cause of a halt.
type Error struct {
	// Module is the subsystem that halted.
	Module string

	// Message describes the failure.
	Message string
}

// Error implements error.Error.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Halt reports an unrecoverable error in module and stops. It never returns.
func Halt(module, format string, v ...any) {
	e := &Error{Module: module, Message: fmt.Sprintf(format, v...)}
	log.Warningf("-----------------------------------")
	log.Warningf("[%s] unrecoverable error: %s", e.Module, e.Message)
	log.Warningf("*** kernel panic: system halted ***")
	panic(e)
}

// Catch runs fn and returns the *Error it halted with, or nil if fn returned
// normally. Panics that are not halts propagate.
func Catch(fn func()) (err *Error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	fn()
	return nil
}
