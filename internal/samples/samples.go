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

// Package samples builds small IR modules programmatically, one per
// end-to-end scenario: both this module's own tests and the root
// smoke-test driver exercise the translator against them, since IR
// parsing belongs to a separate host library and there is no textual
// front end here. One named function per scenario, built with
// internal/irbuild, each paired with its expected behavior at its
// test site.
package samples

import "x86jit/internal/ir"
import "x86jit/internal/irbuild"

// ReturnConst builds test_return(int) -> 123, a constant return.
func ReturnConst() *ir.Module {
	m := irbuild.NewModule()
	fn := m.Func("test_return", ir.TypeI32, ir.TypeI32)
	fn.Block("entry")
	fn.Ret(ir.ConstInt{Ty: ir.TypeI32, Val: 123})
	fn.Finish()
	return m.M
}

// Sub builds test_sub(a) -> 1000 - a, a reversed-operand subtraction.
func Sub() *ir.Module {
	m := irbuild.NewModule()
	fn := m.Func("test_sub", ir.TypeI32, ir.TypeI32)
	fn.Block("entry")
	r := fn.BinOp(ir.OpSub, ir.TypeI32, ir.ConstInt{Ty: ir.TypeI32, Val: 1000}, fn.Arg(0))
	fn.Ret(r)
	fn.Finish()
	return m.M
}

// Phi builds test_phi(a) -> if a==99 then 123 else 456, two blocks
// joined by a phi.
func Phi() *ir.Module {
	m := irbuild.NewModule()
	fn := m.Func("test_phi", ir.TypeI32, ir.TypeI32)
	entry := fn.Block("entry")
	isNinetyNine := fn.ICmp(ir.ICmpEQ, fn.Arg(0), ir.ConstInt{Ty: ir.TypeI32, Val: 99})
	thenB := fn.Fn.NewBlock("then")
	elseB := fn.Fn.NewBlock("else")
	joinB := fn.Fn.NewBlock("join")
	fn.SetBlock(entry)
	fn.CondBr(isNinetyNine, thenB, elseB)

	fn.SetBlock(thenB)
	fn.Br(joinB)

	fn.SetBlock(elseB)
	fn.Br(joinB)

	fn.SetBlock(joinB)
	phi := fn.Phi(ir.TypeI32,
		ir.ConstInt{Ty: ir.TypeI32, Val: 123}, // from thenB
		ir.ConstInt{Ty: ir.TypeI32, Val: 456}, // from elseB
	)
	fn.Ret(phi)
	fn.Finish() // computes join's Preds as [then, else], matching phi's incoming order above
	return m.M
}

// Switch builds test_switch(a) with cases 1->10, 5->50, default 999.
func Switch() *ir.Module {
	m := irbuild.NewModule()
	fn := m.Func("test_switch", ir.TypeI32, ir.TypeI32)
	entry := fn.Block("entry")
	case1 := fn.Fn.NewBlock("case1")
	case5 := fn.Fn.NewBlock("case5")
	def := fn.Fn.NewBlock("default")

	fn.SetBlock(entry)
	fn.Switch(fn.Arg(0), def,
		ir.SwitchCase{Value: 1, Target: case1},
		ir.SwitchCase{Value: 5, Target: case5},
	)

	fn.SetBlock(case1)
	fn.Ret(ir.ConstInt{Ty: ir.TypeI32, Val: 10})

	fn.SetBlock(case5)
	fn.Ret(ir.ConstInt{Ty: ir.TypeI32, Val: 50})

	fn.SetBlock(def)
	fn.Ret(ir.ConstInt{Ty: ir.TypeI32, Val: 999})

	fn.Finish()
	return m.M
}

// CallFn builds test_call(fn, a, b) -> fn(a, b) + 1000, calling the
// function-pointer argument indirectly. The inner function
// (x, y) -> x - y is a second function in the same module so a caller
// can pass its address as fn.
func CallFn() *ir.Module {
	m := irbuild.NewModule()

	inner := m.Func("test_call_inner", ir.TypeI32, ir.TypeI32, ir.TypeI32)
	inner.Block("entry")
	r := inner.BinOp(ir.OpSub, ir.TypeI32, inner.Arg(0), inner.Arg(1))
	inner.Ret(r)
	inner.Finish()

	fnPtrTy := ir.PointerTo(ir.TypeVoid)
	outer := m.Func("test_call", ir.TypeI32, fnPtrTy, ir.TypeI32, ir.TypeI32)
	outer.Block("entry")
	call := outer.Call(ir.TypeI32, outer.Arg(0), nil, outer.Arg(1), outer.Arg(2))
	sum := outer.BinOp(ir.OpAdd, ir.TypeI32, call, ir.ConstInt{Ty: ir.TypeI32, Val: 1000})
	outer.Ret(sum)
	outer.Finish()

	return m.M
}

// I64Arg1 builds test_i64_arg1(x, y) -> x, returning the first of two
// i64 arguments.
func I64Arg1() *ir.Module {
	m := irbuild.NewModule()
	fn := m.Func("test_i64_arg1", ir.TypeI64, ir.TypeI64, ir.TypeI64)
	fn.Block("entry")
	fn.Ret(fn.Arg(0))
	fn.Finish()
	return m.M
}

// Memcpy builds test_memcpy(dst, src, n): a memcpy-intrinsic call that
// internal/rewrite lowers to a direct host libc call, returning dst.
func Memcpy() *ir.Module {
	m := irbuild.NewModule()
	ptrTy := ir.PointerTo(ir.TypeI8)
	fn := m.Func("test_memcpy", ptrTy, ptrTy, ptrTy, ir.TypeI32)
	fn.Block("entry")
	call := fn.Intrinsic(ir.IntrinsicMemcpy, ptrTy, fn.Arg(0), fn.Arg(1), fn.Arg(2))
	fn.Ret(call)
	fn.Finish()
	return m.M
}

// GlobalString builds get_global_string() -> pointer to a module-level
// "Hello!\0" constant.
func GlobalString() *ir.Module {
	m := irbuild.NewModule()
	bytesTy := ir.ArrayOf(ir.TypeI8, 7)
	str := m.Global("hello_str", bytesTy, ir.ConstBytes{Ty: bytesTy, Data: []byte("Hello!\x00")}, ir.LinkageInternal)

	ptrTy := ir.PointerTo(ir.TypeI8)
	fn := m.Func("get_global_string", ptrTy)
	fn.Block("entry")
	fn.Ret(ir.ConstGlobalAddr{G: str, Offset: 0})
	fn.Finish()
	return m.M
}

// Bit0Branch builds test_i1_bit0(x) -> 1 if (x truncated to i1) else 0.
// The trunc to i1 keeps whatever garbage lives above bit 0 in its slot
// (a narrowing trunc is real code, not an alias, and never masks), so
// the branch must examine only bit 0: passing 0x10 and 0x11 must
// return 0 and 1.
func Bit0Branch() *ir.Module {
	m := irbuild.NewModule()
	fn := m.Func("test_i1_bit0", ir.TypeI32, ir.TypeI32)
	entry := fn.Block("entry")
	cond := fn.Trunc(ir.TypeI1, fn.Arg(0))
	thenB := fn.Fn.NewBlock("then")
	elseB := fn.Fn.NewBlock("else")
	fn.SetBlock(entry)
	fn.CondBr(cond, thenB, elseB)

	fn.SetBlock(thenB)
	fn.Ret(ir.ConstInt{Ty: ir.TypeI32, Val: 1})

	fn.SetBlock(elseB)
	fn.Ret(ir.ConstInt{Ty: ir.TypeI32, Val: 0})

	fn.Finish()
	return m.M
}

// widthExt builds a fn named name(x i32) -> i32 that truncates x down
// to narrowTy then extends it back to i32, either with zero or sign
// extension. It is the shared shape behind the zext/sext
// width-boundary scenarios.
func widthExt(name string, narrowTy *ir.Type, signed bool) *ir.Module {
	m := irbuild.NewModule()
	fn := m.Func(name, ir.TypeI32, ir.TypeI32)
	fn.Block("entry")
	narrow := fn.Trunc(narrowTy, fn.Arg(0))
	var wide *ir.Instr
	if signed {
		wide = fn.SExt(ir.TypeI32, narrow)
	} else {
		wide = fn.ZExt(ir.TypeI32, narrow)
	}
	fn.Ret(wide)
	fn.Finish()
	return m.M
}

// ZExt8 builds test_zext_8(x) -> zext(trunc(x, i8), i32), the
// zero-extension-from-i8 boundary scenario.
func ZExt8() *ir.Module { return widthExt("test_zext_8", ir.TypeI8, false) }

// SExt8 builds test_sext_8(x) -> sext(trunc(x, i8), i32), the
// sign-extension-from-i8 boundary scenario.
func SExt8() *ir.Module { return widthExt("test_sext_8", ir.TypeI8, true) }

// ZExt16 builds test_zext_16(x) -> zext(trunc(x, i16), i32).
func ZExt16() *ir.Module { return widthExt("test_zext_16", ir.TypeI16, false) }

// SExt16 builds test_sext_16(x) -> sext(trunc(x, i16), i32).
func SExt16() *ir.Module { return widthExt("test_sext_16", ir.TypeI16, true) }

// loadWidth builds a fn named name(p) -> zext(load narrowTy, p, i32):
// the load must touch exactly sizeof(narrowTy) bytes, which its test
// checks by placing the pointee flush against an unreadable page.
func loadWidth(name string, narrowTy *ir.Type) *ir.Module {
	m := irbuild.NewModule()
	fn := m.Func(name, ir.TypeI32, ir.PointerTo(narrowTy))
	fn.Block("entry")
	v := fn.Load(narrowTy, fn.Arg(0))
	w := fn.ZExt(ir.TypeI32, v)
	fn.Ret(w)
	fn.Finish()
	return m.M
}

// AllocaRoundTrip builds test_alloca(x): p = alloca 4; store x, p;
// ret load p. The returned value round-trips through the stack buffer
// the alloca carved off at run time.
func AllocaRoundTrip() *ir.Module {
	m := irbuild.NewModule()
	fn := m.Func("test_alloca", ir.TypeI32, ir.TypeI32)
	fn.Block("entry")
	p := fn.Alloca(ir.TypeI32, 4)
	fn.Store(fn.Arg(0), p)
	v := fn.Load(ir.TypeI32, p)
	fn.Ret(v)
	fn.Finish()
	return m.M
}

// VarArgSum builds a variadic callee plus a fixed caller:
// test_va_sum(base, ...) returns base plus its first two i32 variadic
// arguments, read through va_start/va_arg, and
// test_va_caller(a, b, c) calls test_va_sum(a, b, c) with one fixed
// argument. The variadic-expansion pass packs b and c into a struct in
// the caller and threads its address through the trailing va_buffer
// parameter.
func VarArgSum() *ir.Module {
	m := irbuild.NewModule()
	bytePtrTy := ir.PointerTo(ir.TypeI8)

	callee := m.Func("test_va_sum", ir.TypeI32, ir.TypeI32).VarArg()
	callee.Block("entry")
	vaList := callee.Alloca(bytePtrTy, 4)
	callee.Intrinsic(ir.IntrinsicVAStart, ir.TypeVoid, vaList)
	v1 := callee.Intrinsic(ir.IntrinsicVAArg, ir.TypeI32, vaList)
	v2 := callee.Intrinsic(ir.IntrinsicVAArg, ir.TypeI32, vaList)
	s1 := callee.BinOp(ir.OpAdd, ir.TypeI32, callee.Arg(0), v1)
	s2 := callee.BinOp(ir.OpAdd, ir.TypeI32, s1, v2)
	callee.Intrinsic(ir.IntrinsicVAEnd, ir.TypeVoid, vaList)
	callee.Ret(s2)
	callee.Finish()

	caller := m.Func("test_va_caller", ir.TypeI32, ir.TypeI32, ir.TypeI32, ir.TypeI32)
	caller.Block("entry")
	call := caller.Call(ir.TypeI32, callee.Fn, callee.Fn, caller.Arg(0), caller.Arg(1), caller.Arg(2))
	call.FixedArgCount = 1
	caller.Ret(call)
	caller.Finish()

	return m.M
}

// LoadI8 builds test_load_i8(p) -> zext(*(i8*)p, i32).
func LoadI8() *ir.Module { return loadWidth("test_load_i8", ir.TypeI8) }

// LoadI16 builds test_load_i16(p) -> zext(*(i16*)p, i32).
func LoadI16() *ir.Module { return loadWidth("test_load_i16", ir.TypeI16) }

// I64Add builds test_i64_add(x, y) -> x + y, routed through the i64
// runtime helper since this 32-bit target has no native 64-bit
// arithmetic.
func I64Add() *ir.Module {
	m := irbuild.NewModule()
	fn := m.Func("test_i64_add", ir.TypeI64, ir.TypeI64, ir.TypeI64)
	fn.Block("entry")
	r := fn.BinOp(ir.OpAdd, ir.TypeI64, fn.Arg(0), fn.Arg(1))
	fn.Ret(r)
	fn.Finish()
	return m.M
}

// I64DivMinByNegOne builds test_i64_div_min(x, y) -> x / y, used to
// exercise the INT64_MIN / -1 edge case.
func I64DivMinByNegOne() *ir.Module {
	m := irbuild.NewModule()
	fn := m.Func("test_i64_div_min", ir.TypeI64, ir.TypeI64, ir.TypeI64)
	fn.Block("entry")
	r := fn.BinOp(ir.OpSDiv, ir.TypeI64, fn.Arg(0), fn.Arg(1))
	fn.Ret(r)
	fn.Finish()
	return m.M
}
