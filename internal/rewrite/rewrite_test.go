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

package rewrite_test

import (
	"testing"

	"x86jit/internal/ir"
	"x86jit/internal/irbuild"
	"x86jit/internal/rewrite"
)

// TestExpandConstantExprIsIdempotent checks that once every ConstExpr
// operand has been replaced with a real instruction, a second pass
// reports no further change.
func TestExpandConstantExprIsIdempotent(t *testing.T) {
	m := irbuild.NewModule()
	fn := m.Func("f", ir.TypeI32, ir.TypeI32)
	fn.Block("entry")
	ce := ir.ConstExpr{Op: ir.OpAdd, Ty: ir.TypeI32, Args: []ir.Value{ir.ConstInt{Ty: ir.TypeI32, Val: 1}, ir.ConstInt{Ty: ir.TypeI32, Val: 2}}}
	fn.BinOp(ir.OpMul, ir.TypeI32, fn.Arg(0), ce)
	fn.RetVoid()
	fn.Finish()

	if !rewrite.ExpandConstantExpr(fn.Fn) {
		t.Fatalf("first ExpandConstantExpr pass reported no change")
	}
	if rewrite.ExpandConstantExpr(fn.Fn) {
		t.Errorf("second ExpandConstantExpr pass over a fully-expanded function reported a change")
	}

	entry := fn.Fn.Blocks[0]
	found := false
	for _, instr := range entry.Instrs {
		if instr.Op == ir.OpAdd {
			found = true
		}
	}
	if !found {
		t.Errorf("no real OpAdd instruction was synthesized for the constant expression")
	}
}

// TestExpandConstantExprAtPhiEdge checks that a ConstExpr incoming to a
// phi is expanded into the predecessor block that supplies it, ahead of
// that predecessor's terminator, not at the phi's own block.
func TestExpandConstantExprAtPhiEdge(t *testing.T) {
	m := irbuild.NewModule()
	fn := m.Func("f", ir.TypeI32, ir.TypeI32)
	entry := fn.Block("entry")
	pred := fn.Fn.NewBlock("pred")
	join := fn.Fn.NewBlock("join")

	fn.SetBlock(entry)
	fn.Br(pred)

	fn.SetBlock(pred)
	fn.Br(join)

	fn.SetBlock(join)
	ce := ir.ConstExpr{Op: ir.OpAdd, Ty: ir.TypeI32, Args: []ir.Value{ir.ConstInt{Ty: ir.TypeI32, Val: 1}, ir.ConstInt{Ty: ir.TypeI32, Val: 2}}}
	phi := fn.Phi(ir.TypeI32, ce)
	fn.Ret(phi)
	fn.Finish()

	rewrite.ExpandConstantExpr(fn.Fn)

	if len(pred.Instrs) < 2 {
		t.Fatalf("pred block has %d instructions, want at least 2 (the expanded add plus the br)", len(pred.Instrs))
	}
	last := pred.Instrs[len(pred.Instrs)-1]
	if last.Op != ir.OpBr {
		t.Fatalf("pred block's terminator is %v, want the original br preserved at the end", last.Op)
	}
	if _, stillConstExpr := phi.Incoming[0].(ir.ConstExpr); stillConstExpr {
		t.Errorf("phi's incoming value was not replaced")
	}
}

// TestExpandGetElementPtrArrayIndex checks the GEP decomposition: a
// single array index becomes ptrtoint, a multiply by the element
// size, an add, then inttoptr, and the original users see the new
// pointer value.
func TestExpandGetElementPtrArrayIndex(t *testing.T) {
	m := irbuild.NewModule()
	elemTy := ir.TypeI32
	arrTy := ir.ArrayOf(elemTy, 10)
	fn := m.Func("f", ir.PointerTo(elemTy), ir.PointerTo(arrTy), ir.TypeI32)
	b := fn.Block("entry")
	gep := fn.GEP(ir.PointerTo(elemTy), fn.Arg(0), fn.Arg(1))
	fn.Ret(gep)
	fn.Finish()

	if !rewrite.ExpandGetElementPtr(fn.Fn, b) {
		t.Fatalf("ExpandGetElementPtr reported no change on a block with a gep")
	}
	if rewrite.ExpandGetElementPtr(fn.Fn, b) {
		t.Errorf("a second pass over an already-expanded block reported a change")
	}

	var ops []ir.Opcode
	for _, instr := range b.Instrs {
		ops = append(ops, instr.Op)
	}
	// ptrtoint, mul (index is a runtime value, not a constant), add, inttoptr, ret
	want := []ir.Opcode{ir.OpPtrToInt, ir.OpMul, ir.OpAdd, ir.OpIntToPtr, ir.OpRet}
	if len(ops) != len(want) {
		t.Fatalf("expanded op sequence = %v, want shape %v", ops, want)
	}
	for i, w := range want {
		if ops[i] != w {
			t.Errorf("op[%d] = %v, want %v", i, ops[i], w)
		}
	}
}

// TestExpandMemIntrinsicsLowersMemcpy checks that a memcpy intrinsic
// becomes a direct call to an external "memcpy" function, and that a
// second pass over the lowered block reports no change.
func TestExpandMemIntrinsicsLowersMemcpy(t *testing.T) {
	m := irbuild.NewModule()
	ptrTy := ir.PointerTo(ir.TypeI8)
	fn := m.Func("f", ptrTy, ptrTy, ptrTy, ir.TypeI32)
	b := fn.Block("entry")
	call := fn.Intrinsic(ir.IntrinsicMemcpy, ptrTy, fn.Arg(0), fn.Arg(1), fn.Arg(2))
	fn.Ret(call)
	fn.Finish()

	if !rewrite.ExpandMemIntrinsics(m.M, fn.Fn, b) {
		t.Fatalf("ExpandMemIntrinsics reported no change")
	}
	if rewrite.ExpandMemIntrinsics(m.M, fn.Fn, b) {
		t.Errorf("a second pass over an already-lowered block reported a change")
	}

	callee := m.M.FindFunc("memcpy")
	if callee == nil {
		t.Fatalf("no external memcpy function was created")
	}
	if callee.Linkage != ir.LinkageExternal {
		t.Errorf("memcpy declaration has linkage %v, want LinkageExternal", callee.Linkage)
	}

	found := false
	for _, instr := range b.Instrs {
		if instr.Op == ir.OpCall && instr.CalleeFn == callee {
			found = true
		}
	}
	if !found {
		t.Errorf("no call to the lowered memcpy declaration found in the block")
	}
}

// TestExpandVarArgs checks the variadic rewrite at the IR level: the
// variadic function gains a trailing va_buffer parameter, va_start
// becomes a store of it, va_end disappears, and a call site passing
// variadic arguments packs them into an entry-block struct whose
// address becomes the call's new last argument.
func TestExpandVarArgs(t *testing.T) {
	m := irbuild.NewModule()
	bytePtrTy := ir.PointerTo(ir.TypeI8)

	callee := m.Func("sum", ir.TypeI32, ir.TypeI32).VarArg()
	callee.Block("entry")
	vaList := callee.Alloca(bytePtrTy, 4)
	callee.Intrinsic(ir.IntrinsicVAStart, ir.TypeVoid, vaList)
	v := callee.Intrinsic(ir.IntrinsicVAArg, ir.TypeI32, vaList)
	callee.Intrinsic(ir.IntrinsicVAEnd, ir.TypeVoid, vaList)
	callee.Ret(v)
	callee.Finish()

	caller := m.Func("f", ir.TypeI32, ir.TypeI32, ir.TypeI32)
	callerEntry := caller.Block("entry")
	call := caller.Call(ir.TypeI32, callee.Fn, callee.Fn, caller.Arg(0), caller.Arg(1))
	call.FixedArgCount = 1
	caller.Ret(call)
	caller.Finish()

	rewrite.ExpandVarArgs(m.M)

	if got := len(callee.Fn.Params); got != 2 {
		t.Fatalf("variadic callee has %d params after expansion, want 2 (fixed + va_buffer)", got)
	}
	if name := callee.Fn.Params[1].Name; name != "va_buffer" {
		t.Errorf("trailing parameter is %q, want va_buffer", name)
	}
	for _, instr := range callee.Fn.Blocks[0].Instrs {
		if instr.Op == ir.OpIntrinsic {
			switch instr.Intrinsic {
			case ir.IntrinsicVAStart, ir.IntrinsicVAArg, ir.IntrinsicVAEnd:
				t.Errorf("%v intrinsic survived expansion", instr.Intrinsic)
			}
		}
	}

	if got := len(call.Args); got != 2 {
		t.Fatalf("call has %d args after expansion, want 2 (fixed + packed-struct address)", got)
	}
	buf, ok := call.Args[1].(*ir.Instr)
	if !ok || buf.Op != ir.OpAlloca {
		t.Fatalf("call's trailing argument is %v, want the packed-struct alloca", call.Args[1])
	}
	if callerEntry.Instrs[0] != buf {
		t.Errorf("packed-struct alloca is not at the front of the caller's entry block")
	}
	stores := 0
	for _, instr := range callerEntry.Instrs {
		if instr.Op == ir.OpStore {
			stores++
		}
	}
	if stores != 1 {
		t.Errorf("caller packs %d stores, want 1 (one per variadic argument)", stores)
	}
}

// TestExpandMemIntrinsicsTruncatesI64Len checks that a 64-bit length
// operand is truncated to i32 ahead of the call.
func TestExpandMemIntrinsicsTruncatesI64Len(t *testing.T) {
	m := irbuild.NewModule()
	ptrTy := ir.PointerTo(ir.TypeI8)
	fn := m.Func("f", ptrTy, ptrTy, ptrTy, ir.TypeI64)
	b := fn.Block("entry")
	call := fn.Intrinsic(ir.IntrinsicMemcpy, ptrTy, fn.Arg(0), fn.Arg(1), fn.Arg(2))
	fn.Ret(call)
	fn.Finish()

	rewrite.ExpandMemIntrinsics(m.M, fn.Fn, b)

	foundTrunc := false
	for _, instr := range b.Instrs {
		if instr.Op == ir.OpTrunc && instr.Ty.Kind == ir.Int32 {
			foundTrunc = true
		}
	}
	if !foundTrunc {
		t.Errorf("no i64->i32 trunc was inserted ahead of the lowered memcpy call")
	}
}
