// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package nativefunc bridges "an address in the code arena" and "a
// callable Go function value" in both directions, without cgo.
//
// This repository targets GOARCH=386: every helper address must fit the
// 32-bit immediate of a `mov`/`call` in generated code, which a 32-bit
// address space guarantees, and as a direct consequence Go's own 386
// ABI0 calling convention (plan9/ABI0: arguments pushed by the caller
// onto the stack in declaration order, callee reads them off the frame,
// caller reclaims the stack) lines up with the generated-code
// convention (caller-cleanup, stack arguments low-to-high). That
// alignment is what makes AsXxx below possible without a per-call
// assembly trampoline.
//
// AddressOf exploits a well-known, implementation-defined property of
// reflect.Value.Pointer() on a func value: for a non-closure function
// it returns the entry point of the function's code. AsXxx exploits the
// mirror property that a Go func value is itself a pointer to a small
// "funcval" struct whose first word is that same entry point, so
// constructing one by hand makes an arbitrary code address callable
// through ordinary Go call syntax.
package nativefunc

import (
	"reflect"
	"unsafe"

	"x86jit/internal/assert"
)

// AddressOf returns the entry-point address of a non-closure Go
// function, suitable for installing into the symbol table as the
// absolute address of a runtime helper.
func AddressOf(fn interface{}) uintptr {
	addr := reflect.ValueOf(fn).Pointer()
	assert.That(uintptr(uint32(addr)) == addr, "nativefunc: function address %#x does not fit in 32 bits", addr)
	return addr
}

type funcval struct {
	fn uintptr
}

// makeFunc overwrites the code pointer backing f with addr. f must be
// addressable as a func value (i.e. a pointer to a func variable).
func makeFunc(f interface{}, addr uintptr) {
	v := reflect.ValueOf(f).Elem()
	assert.That(v.Kind() == reflect.Func, "nativefunc: target is not a func value")
	fv := (**funcval)(unsafe.Pointer(v.UnsafeAddr()))
	*fv = &funcval{fn: addr}
}

// AsInt32Func wraps addr (a function of one i32 argument returning
// i32) as a callable Go function.
func AsInt32Func(addr uintptr) func(int32) int32 {
	var f func(int32) int32
	makeFunc(&f, addr)
	return f
}

// AsInt32x2Func wraps a two-i32-argument, i32-returning function.
func AsInt32x2Func(addr uintptr) func(int32, int32) int32 {
	var f func(int32, int32) int32
	makeFunc(&f, addr)
	return f
}

// AsInt64x2Func wraps a two-i64-argument, i64-returning function.
func AsInt64x2Func(addr uintptr) func(int64, int64) int64 {
	var f func(int64, int64) int64
	makeFunc(&f, addr)
	return f
}

// AsInt32x3Func wraps a three-i32-argument, i32-returning function —
// also usable when one argument is a callee address reinterpreted as
// an int32.
func AsInt32x3Func(addr uintptr) func(int32, int32, int32) int32 {
	var f func(int32, int32, int32) int32
	makeFunc(&f, addr)
	return f
}

// AsPtrFunc wraps a three-pointer-argument, pointer-returning function
// — the memcpy/memmove/memset runtime-binding shape.
func AsPtrFunc(addr uintptr) func(uintptr, uintptr, uintptr) uintptr {
	var f func(uintptr, uintptr, uintptr) uintptr
	makeFunc(&f, addr)
	return f
}

// AsPtrReturningFunc wraps a zero-argument function returning a
// pointer.
func AsPtrReturningFunc(addr uintptr) func() uintptr {
	var f func() uintptr
	makeFunc(&f, addr)
	return f
}
