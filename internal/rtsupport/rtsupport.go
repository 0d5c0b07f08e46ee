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

// Package rtsupport implements the translator's runtime helpers:
// ordinary native functions generated code calls by absolute address
// because the encoder doesn't (and, for 64-bit arithmetic and atomics,
// structurally can't on a three-scratch-register x86-32 convention)
// emit them inline. They are precompiled by `go build` rather than a C
// compiler, and bound into the symbol table via internal/nativefunc's
// address-of trick rather than linked from a .o file.
package rtsupport

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"x86jit/internal/obslog"
)

// --- 64-bit integer arithmetic. i64 binops call these with
// result/operand addresses rather than values, since no pair of 32-bit
// scratch registers is reserved for 64-bit math. ---

func load64(p uintptr) uint64  { return *(*uint64)(unsafe.Pointer(p)) }
func store64(p uintptr, v uint64) { *(*uint64)(unsafe.Pointer(p)) = v }
func loadS64(p uintptr) int64  { return int64(load64(p)) }

func I64Add(result, a, b uintptr) { store64(result, load64(a)+load64(b)) }
func I64Sub(result, a, b uintptr) { store64(result, load64(a)-load64(b)) }
func I64Mul(result, a, b uintptr) { store64(result, load64(a)*load64(b)) }
func I64UDiv(result, a, b uintptr) { store64(result, load64(a)/load64(b)) }
func I64URem(result, a, b uintptr) { store64(result, load64(a)%load64(b)) }

// I64SDiv and I64SRem rely on Go's defined two's-complement wraparound
// for MinInt64 / -1 (q == x, r == 0) instead of the C/hardware trap;
// callers get that documented behavior rather than a fault.
func I64SDiv(result, a, b uintptr) { store64(result, uint64(loadS64(a)/loadS64(b))) }
func I64SRem(result, a, b uintptr) { store64(result, uint64(loadS64(a)%loadS64(b))) }

func I64And(result, a, b uintptr) { store64(result, load64(a)&load64(b)) }
func I64Or(result, a, b uintptr)  { store64(result, load64(a)|load64(b)) }
func I64Xor(result, a, b uintptr) { store64(result, load64(a)^load64(b)) }
func I64Shl(result, a, b uintptr)  { store64(result, load64(a)<<(load64(b)&63)) }
func I64LShr(result, a, b uintptr) { store64(result, load64(a)>>(load64(b)&63)) }
func I64AShr(result, a, b uintptr) { store64(result, uint64(loadS64(a)>>(load64(b)&63))) }

// --- 64-bit integer comparison, returning an i32 0/1. ---

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func I64CmpEQ(a, b uintptr) int32  { return b2i(load64(a) == load64(b)) }
func I64CmpNE(a, b uintptr) int32  { return b2i(load64(a) != load64(b)) }
func I64CmpUGT(a, b uintptr) int32 { return b2i(load64(a) > load64(b)) }
func I64CmpUGE(a, b uintptr) int32 { return b2i(load64(a) >= load64(b)) }
func I64CmpULT(a, b uintptr) int32 { return b2i(load64(a) < load64(b)) }
func I64CmpULE(a, b uintptr) int32 { return b2i(load64(a) <= load64(b)) }
func I64CmpSGT(a, b uintptr) int32 { return b2i(loadS64(a) > loadS64(b)) }
func I64CmpSGE(a, b uintptr) int32 { return b2i(loadS64(a) >= loadS64(b)) }
func I64CmpSLT(a, b uintptr) int32 { return b2i(loadS64(a) < loadS64(b)) }
func I64CmpSLE(a, b uintptr) int32 { return b2i(loadS64(a) <= loadS64(b)) }

// --- Sequentially-consistent, cross-thread atomic RMW on 32-bit
// words. The encoder rejects any other ordering/scope before these are
// ever called, so these helpers only need to implement the one
// combination the IR is allowed to ask for. ---

func ptr32(p uintptr) *uint32 { return (*uint32)(unsafe.Pointer(p)) }

func AtomicRMW32Xchg(p uintptr, v uint32) uint32 { return atomic.SwapUint32(ptr32(p), v) }
func AtomicRMW32Add(p uintptr, v uint32) uint32  { return atomic.AddUint32(ptr32(p), v) - v }
func AtomicRMW32Sub(p uintptr, v uint32) uint32  { return atomic.AddUint32(ptr32(p), ^v+1) + v }

func casLoop(p uintptr, f func(old uint32) uint32) uint32 {
	addr := ptr32(p)
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, f(old)) {
			return old
		}
	}
}

func AtomicRMW32And(p uintptr, v uint32) uint32  { return casLoop(p, func(old uint32) uint32 { return old & v }) }
func AtomicRMW32Nand(p uintptr, v uint32) uint32 { return casLoop(p, func(old uint32) uint32 { return ^(old & v) }) }
func AtomicRMW32Or(p uintptr, v uint32) uint32   { return casLoop(p, func(old uint32) uint32 { return old | v }) }
func AtomicRMW32Xor(p uintptr, v uint32) uint32  { return casLoop(p, func(old uint32) uint32 { return old ^ v }) }
func AtomicRMW32Max(p uintptr, v uint32) uint32 {
	return casLoop(p, func(old uint32) uint32 {
		if int32(v) > int32(old) {
			return v
		}
		return old
	})
}
func AtomicRMW32Min(p uintptr, v uint32) uint32 {
	return casLoop(p, func(old uint32) uint32 {
		if int32(v) < int32(old) {
			return v
		}
		return old
	})
}
func AtomicRMW32UMax(p uintptr, v uint32) uint32 {
	return casLoop(p, func(old uint32) uint32 {
		if v > old {
			return v
		}
		return old
	})
}
func AtomicRMW32UMin(p uintptr, v uint32) uint32 {
	return casLoop(p, func(old uint32) uint32 {
		if v < old {
			return v
		}
		return old
	})
}

// --- Thread-local pointer storage, keyed by OS thread id rather than
// goroutine: generated code runs on whatever OS thread its invoking
// goroutine is currently bound to, so TLSInit/TLSGet only behave
// sensibly when the caller has pinned itself with runtime.LockOSThread
// for the duration of a translation unit's use of TLS. ---

var (
	tlsMu    sync.Mutex
	tlsTable = map[int]uintptr{}
)

func TLSInit(p uintptr) int32 {
	tlsMu.Lock()
	tlsTable[unix.Gettid()] = p
	tlsMu.Unlock()
	return 0
}

func TLSGet() uintptr {
	tlsMu.Lock()
	v := tlsTable[unix.Gettid()]
	tlsMu.Unlock()
	return v
}

// --- Host library calls generated code binds to memcpy/memmove/
// memset by absolute address. This process has no libc memcpy symbol
// to resolve against when the host binary is a static Go binary, so
// these wrap the equivalent stdlib behavior behind the same
// three-argument C ABI shape. ---

func Memcpy(dst, src, n uintptr) uintptr {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(dst)), n), unsafe.Slice((*byte)(unsafe.Pointer(src)), n))
	return dst
}

func Memmove(dst, src, n uintptr) uintptr {
	return Memcpy(dst, src, n) // Go's copy() already handles overlap correctly
}

func Memset(dst uintptr, val int32, n uintptr) uintptr {
	s := unsafe.Slice((*byte)(unsafe.Pointer(dst)), n)
	b := byte(val)
	for i := range s {
		s[i] = b
	}
	return dst
}

// --- Diagnostics: the unsupported-IR-construct path emits a call to
// RuntimeUnhandledCase instead of failing at translate time, so the
// host can still finish linking and see the failure surface at the
// actual call site. ---

var Log = obslog.Discard

func cStringAt(p uintptr) string {
	var b []byte
	for i := 0; ; i++ {
		c := *(*byte)(unsafe.Pointer(p + uintptr(i)))
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b)
}

func RuntimeUnhandledCase(namePtr uintptr) {
	name := cStringAt(namePtr)
	fmt.Fprintf(os.Stderr, "x86jit: unsupported IR construct reached at runtime: %s\n", name)
	Log.Error("unsupported IR construct reached at runtime", "construct", name)
	os.Exit(70)
}

func TraceFunctionEntry(namePtr uintptr) {
	Log.Debug("entering function", "name", cStringAt(namePtr))
}

func TraceBlockEntry(namePtr uintptr) {
	Log.Debug("entering block", "name", cStringAt(namePtr))
}
