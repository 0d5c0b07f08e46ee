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

package codegen_test

import (
	"bytes"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"x86jit/internal/codegen"
	"x86jit/internal/ir"
	"x86jit/internal/nativefunc"
	"x86jit/internal/samples"
)

// addrOfSlice returns b's backing address, for passing a Go slice into
// generated code as a raw pointer argument.
func addrOfSlice(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// bytesAt reads n bytes starting at a raw address returned by generated
// code, for inspecting data-arena contents from a test.
func bytesAt(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// newModule returns a fresh Module with small arenas, enough for these
// single/few-function samples.
func newModule(t *testing.T) *codegen.Module {
	t.Helper()
	m, err := codegen.New(codegen.CodeGenOptions{
		CodeArenaSize: 1 << 16,
		DataArenaSize: 1 << 16,
	})
	if err != nil {
		t.Fatalf("codegen.New: %v", err)
	}
	return m
}

func mustSymbol(t *testing.T, m *codegen.Module, name string) uintptr {
	t.Helper()
	addr, ok := m.Symbol(name)
	if !ok {
		t.Fatalf("symbol %q not bound after Translate", name)
	}
	return addr
}

// TestReturnConst checks a constant-returning function ignores its
// argument and produces the constant.
func TestReturnConst(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.ReturnConst()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsInt32Func(mustSymbol(t, m, "test_return"))
	if got := fn(0); got != 123 {
		t.Errorf("test_return(0) = %d, want 123", got)
	}
}

// TestSub checks operand ordering of a reversed subtraction: 1000 - a.
func TestSub(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.Sub()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsInt32Func(mustSymbol(t, m, "test_sub"))
	cases := []struct{ a, want int32 }{
		{0, 1000},
		{1, 999},
		{1000, 0},
		{-1, 1001},
	}
	for _, c := range cases {
		if got := fn(c.a); got != c.want {
			t.Errorf("test_sub(%d) = %d, want %d", c.a, got, c.want)
		}
	}
}

// TestPhi checks a branch-then-join shape resolved via a phi at the
// predecessor edge.
func TestPhi(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.Phi()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsInt32Func(mustSymbol(t, m, "test_phi"))
	if got := fn(99); got != 123 {
		t.Errorf("test_phi(99) = %d, want 123", got)
	}
	if got := fn(1); got != 456 {
		t.Errorf("test_phi(1) = %d, want 456", got)
	}
}

// TestSwitch checks the case cascade and the default fallthrough.
func TestSwitch(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.Switch()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsInt32Func(mustSymbol(t, m, "test_switch"))
	cases := []struct{ a, want int32 }{
		{1, 10},
		{5, 50},
		{2, 999},
		{0, 999},
	}
	for _, c := range cases {
		if got := fn(c.a); got != c.want {
			t.Errorf("test_switch(%d) = %d, want %d", c.a, got, c.want)
		}
	}
}

// TestCallFn checks an indirect call through a function-pointer
// argument, plus arithmetic on its result.
func TestCallFn(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.CallFn()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	inner := mustSymbol(t, m, "test_call_inner")
	outer := nativefunc.AsInt32x3Func(mustSymbol(t, m, "test_call"))
	if got := outer(int32(inner), 7, 3); got != 1004 {
		t.Errorf("test_call(inner, 7, 3) = %d, want 1004", got)
	}
}

// TestI64Arg1 checks an i64 argument's low and high halves are split
// across two 32-bit slots and reassembled correctly on return.
func TestI64Arg1(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.I64Arg1()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsInt64x2Func(mustSymbol(t, m, "test_i64_arg1"))
	if got := fn(0x1122334455667788, 1); got != 0x1122334455667788 {
		t.Errorf("test_i64_arg1(x, 1) = %#x, want %#x", got, int64(0x1122334455667788))
	}
}

// TestI64Add exercises 64-bit addition routed through the i64 runtime
// helper, including a case that carries out of the low 32 bits.
func TestI64Add(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.I64Add()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsInt64x2Func(mustSymbol(t, m, "test_i64_add"))
	cases := []struct{ x, y, want int64 }{
		{1, 2, 3},
		{0xFFFFFFFF, 1, 0x100000000},
		{-1, 1, 0},
	}
	for _, c := range cases {
		if got := fn(c.x, c.y); got != c.want {
			t.Errorf("test_i64_add(%d, %d) = %d, want %d", c.x, c.y, got, c.want)
		}
	}
}

// TestI64DivMinByNegOne exercises the INT64_MIN / -1 edge case: Go's
// own signed-division semantics (which rtsupport.I64SDiv delegates to)
// wrap rather than trap, so the runtime helper must return INT64_MIN
// unchanged instead of overflowing.
func TestI64DivMinByNegOne(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.I64DivMinByNegOne()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsInt64x2Func(mustSymbol(t, m, "test_i64_div_min"))
	const minI64 = int64(-1) << 63
	if got := fn(minI64, -1); got != minI64 {
		t.Errorf("test_i64_div_min(MIN, -1) = %d, want %d", got, minI64)
	}
}

// TestMemcpy checks the memcpy intrinsic lowers to a direct call to
// the host memcpy runtime helper.
func TestMemcpy(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.Memcpy()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsPtrFunc(mustSymbol(t, m, "test_memcpy"))

	src := []byte("hello, world")
	dst := make([]byte, len(src))
	got := fn(addrOfSlice(dst), addrOfSlice(src), uintptr(len(src)))
	if got != addrOfSlice(dst) {
		t.Errorf("test_memcpy returned %#x, want dst address %#x", got, addrOfSlice(dst))
	}
	if string(dst) != string(src) {
		t.Errorf("test_memcpy copied %q, want %q", dst, src)
	}
}

// TestGlobalString checks a module-level byte constant is laid out
// once in the data arena and returned by address.
func TestGlobalString(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.GlobalString()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsPtrReturningFunc(mustSymbol(t, m, "get_global_string"))
	addr := fn()
	got := bytesAt(addr, 7)
	if string(got) != "Hello!\x00" {
		t.Errorf("get_global_string() -> %q, want %q", got, "Hello!\x00")
	}
}

// TestBit0Branch checks a branch condition examines only bit 0 of an
// i1 value, tolerating garbage above it.
func TestBit0Branch(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.Bit0Branch()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsInt32Func(mustSymbol(t, m, "test_i1_bit0"))
	if got := fn(0x10); got != 0 {
		t.Errorf("test_i1_bit0(0x10) = %d, want 0", got)
	}
	if got := fn(0x11); got != 1 {
		t.Errorf("test_i1_bit0(0x11) = %d, want 1", got)
	}
}

// TestAlloca checks a value round-trips through a stack buffer carved
// off the stack pointer at run time, and that the returned pointer
// clears the outgoing-argument region (a corrupted pointer would fault
// or return garbage here).
func TestAlloca(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.AllocaRoundTrip()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsInt32Func(mustSymbol(t, m, "test_alloca"))
	for _, x := range []int32{0, -77, 123456} {
		if got := fn(x); got != x {
			t.Errorf("test_alloca(%d) = %d, want %d", x, got, x)
		}
	}
}

// TestVarArgs checks the variadic convention end to end: the caller
// packs its two variadic arguments into a struct and passes its
// address as the trailing parameter, and the callee walks them back
// out through va_start/va_arg.
func TestVarArgs(t *testing.T) {
	m := newModule(t)
	if err := m.Translate(samples.VarArgSum()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	fn := nativefunc.AsInt32x3Func(mustSymbol(t, m, "test_va_caller"))
	if got := fn(5, 7, 9); got != 21 {
		t.Errorf("test_va_caller(5, 7, 9) = %d, want 21", got)
	}
	if got := fn(-1, 1, 100); got != 100 {
		t.Errorf("test_va_caller(-1, 1, 100) = %d, want 100", got)
	}
}

// TestLoadWidthAtPageBoundary checks an i8/i16 load accesses exactly
// 1/2 bytes. The pointee is placed flush against an unreadable page,
// so an over-wide load faults (crashing the test) instead of silently
// passing.
func TestLoadWidthAtPageBoundary(t *testing.T) {
	pageSize := unix.Getpagesize()
	mem, err := unix.Mmap(-1, 0, 2*pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	defer unix.Munmap(mem)
	if err := unix.Mprotect(mem[pageSize:], unix.PROT_NONE); err != nil {
		t.Fatalf("mprotect: %v", err)
	}

	m8 := newModule(t)
	if err := m8.Translate(samples.LoadI8()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	mem[pageSize-1] = 0x5A
	fn8 := nativefunc.AsInt32Func(mustSymbol(t, m8, "test_load_i8"))
	if got := fn8(int32(uintptr(unsafe.Pointer(&mem[pageSize-1])))); got != 0x5A {
		t.Errorf("test_load_i8(last readable byte) = %#x, want 0x5A", got)
	}

	m16 := newModule(t)
	if err := m16.Translate(samples.LoadI16()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	mem[pageSize-2] = 0x84
	mem[pageSize-1] = 0x83
	fn16 := nativefunc.AsInt32Func(mustSymbol(t, m16, "test_load_i16"))
	if got := fn16(int32(uintptr(unsafe.Pointer(&mem[pageSize-2])))); got != 0x8384 {
		t.Errorf("test_load_i16(last readable word) = %#x, want 0x8384", got)
	}
}

// TestReemissionIsByteIdentical checks translating the same IR twice
// into separate arenas yields identical code bytes. The samples chosen embed no absolute addresses (constants
// and intra-function rel32 jumps only), so the comparison needs no
// masking.
func TestReemissionIsByteIdentical(t *testing.T) {
	builds := []struct {
		name  string
		build func() *ir.Module
	}{
		{"sub", samples.Sub},
		{"phi", samples.Phi},
		{"switch", samples.Switch},
	}
	for _, b := range builds {
		t.Run(b.name, func(t *testing.T) {
			m1, m2 := newModule(t), newModule(t)
			if err := m1.Translate(b.build()); err != nil {
				t.Fatalf("first Translate: %v", err)
			}
			if err := m2.Translate(b.build()); err != nil {
				t.Fatalf("second Translate: %v", err)
			}
			if !bytes.Equal(m1.Code.Bytes(), m2.Code.Bytes()) {
				t.Errorf("re-emission produced different code bytes (%d vs %d)", len(m1.Code.Bytes()), len(m2.Code.Bytes()))
			}
		})
	}
}

// TestZExtSextBoundaries checks the zext/sext width boundaries:
// truncating 0x81828384 to i8/i16 and extending it back to
// i32 must match the documented zero/sign-extension semantics exactly.
func TestZExtSextBoundaries(t *testing.T) {
	const input = int32(-2122153084) // 0x81828384 reinterpreted as int32

	check := func(name string, mod *ir.Module, want int32) {
		t.Run(name, func(t *testing.T) {
			m := newModule(t)
			if err := m.Translate(mod); err != nil {
				t.Fatalf("Translate: %v", err)
			}
			fn := nativefunc.AsInt32Func(mustSymbol(t, m, name))
			if got := fn(input); got != want {
				t.Errorf("%s(0x81828384) = %d (%#x), want %d (%#x)", name, got, uint32(got), want, uint32(want))
			}
		})
	}

	check("test_zext_8", samples.ZExt8(), 0x84)
	check("test_sext_8", samples.SExt8(), -124) // 0x84 as signed i8
	check("test_zext_16", samples.ZExt16(), 0x8384)
	check("test_sext_16", samples.SExt16(), -31868) // 0x8384 as signed i16
}
