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

package codegen

import (
	"fmt"
	"os"

	"x86jit/internal/assert"
	"x86jit/internal/ir"
	"x86jit/internal/x86"
)

// lowerInstr emits the machine code for one non-phi, non-terminator,
// non-alias instruction. Alias instructions (no-op casts) and phis
// never reach here: emitBlock filters them out, since an alias has no
// slot to write and a phi's value is written at the predecessor edge
// instead (resolvePhis), never at its own position.
func (fc *funcCtx) lowerInstr(instr *ir.Instr) {
	switch instr.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpUDiv, ir.OpURem, ir.OpSDiv, ir.OpSRem,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpLShr, ir.OpAShr:
		fc.lowerBinop(instr)
	case ir.OpICmp:
		fc.lowerICmp(instr)
	case ir.OpLoad:
		fc.lowerLoad(instr)
	case ir.OpStore:
		fc.lowerStore(instr)
	case ir.OpAlloca:
		fc.lowerAlloca(instr)
	case ir.OpTrunc:
		fc.lowerTrunc(instr)
	case ir.OpZExt:
		fc.lowerExtend(instr, false)
	case ir.OpSExt:
		fc.lowerExtend(instr, true)
	case ir.OpPtrToInt:
		// Reaches here only when not an alias: a real narrowing cast
		// (pointer to an integer narrower than 32 bits) — same "take the
		// low bits, tolerate garbage above" shape as Trunc — or a
		// widening cast to i64, whose high word is zero.
		fc.load32(x86.EAX, instr.Args[0])
		if is64(instr) {
			fc.spillPart(instr, 0, x86.EAX)
			fc.m.asm().XorRR(x86.EDX, x86.EDX)
			fc.spillPart(instr, 1, x86.EDX)
			return
		}
		fc.spill(instr, x86.EAX)
	case ir.OpSelect:
		fc.lowerSelect(instr)
	case ir.OpCall:
		fc.lowerCall(instr)
	case ir.OpAtomicRMW:
		fc.lowerAtomicRMW(instr)
	case ir.OpIntrinsic:
		fc.lowerIntrinsic(instr)
	default:
		assert.ShouldNotReachHere(fmt.Sprintf("codegen: opcode %s never reaches the encoder", instr.Op))
	}
}

func (fc *funcCtx) lowerBinop(instr *ir.Instr) {
	a := fc.m.asm()
	if instr.Ty.Kind == ir.Int64 {
		fc.emitCallArgsByAddress([]ir.Value{instr, instr.Args[0], instr.Args[1]})
		fc.emitCallSymbol(i64BinopSymbol(instr.Op))
		return
	}
	fc.load32(x86.EAX, instr.Args[0])
	fc.load32(x86.ECX, instr.Args[1])
	width := widthFor(instr.Args[0].Type())
	switch instr.Op {
	case ir.OpAdd:
		a.AddRR(x86.EAX, x86.ECX)
	case ir.OpSub:
		a.SubRR(x86.EAX, x86.ECX)
	case ir.OpAnd:
		a.AndRR(x86.EAX, x86.ECX)
	case ir.OpOr:
		a.OrRR(x86.EAX, x86.ECX)
	case ir.OpXor:
		a.XorRR(x86.EAX, x86.ECX)
	case ir.OpMul:
		a.MulR(x86.ECX)
	case ir.OpUDiv, ir.OpURem:
		// divl needs both operands properly zero-extended to 32 bits,
		// not just garbage-above-width bits tolerated (§4.4).
		if width < 32 {
			a.MovzxR(x86.EAX, x86.EAX, width)
			a.MovzxR(x86.ECX, x86.ECX, width)
		}
		a.XorRR(x86.EDX, x86.EDX)
		a.DivR(x86.ECX)
		if instr.Op == ir.OpURem {
			a.MovRR(x86.EAX, x86.EDX)
		}
	case ir.OpSDiv, ir.OpSRem:
		if width < 32 {
			a.MovsxR(x86.EAX, x86.EAX, width)
			a.MovsxR(x86.ECX, x86.ECX, width)
		}
		a.Cdq()
		a.IDivR(x86.ECX)
		if instr.Op == ir.OpSRem {
			a.MovRR(x86.EAX, x86.EDX)
		}
	case ir.OpShl:
		a.ShlR(x86.EAX)
	case ir.OpLShr:
		if width < 32 {
			a.MovzxR(x86.EAX, x86.EAX, width)
		}
		a.ShrR(x86.EAX)
	case ir.OpAShr:
		if width < 32 {
			a.MovsxR(x86.EAX, x86.EAX, width)
		}
		a.SarR(x86.EAX)
	}
	fc.spill(instr, x86.EAX)
}

// widthFor returns t's integer width, treating i1 as occupying a full
// byte the way every stack slot and memory access below 32 bits does.
func widthFor(t *ir.Type) int {
	w := t.IntWidth()
	if w < 8 {
		w = 8
	}
	return w
}

func (fc *funcCtx) lowerICmp(instr *ir.Instr) {
	a := fc.m.asm()
	if instr.Args[0].Type().Kind == ir.Int64 {
		fc.emitCallArgsByAddress([]ir.Value{instr.Args[0], instr.Args[1]})
		fc.emitCallSymbol(i64CmpSymbol(instr.Pred))
		fc.spill(instr, x86.EAX)
		return
	}
	// EDX is zeroed before the comparison so SetCC only needs to touch
	// its low byte; zeroing after would clobber the flags CmpRR sets.
	a.XorRR(x86.EDX, x86.EDX)
	fc.load32(x86.EAX, instr.Args[0])
	fc.load32(x86.ECX, instr.Args[1])
	width := widthFor(instr.Args[0].Type())
	if width < 32 {
		if instr.Pred.Signed() {
			a.MovsxR(x86.EAX, x86.EAX, width)
			a.MovsxR(x86.ECX, x86.ECX, width)
		} else {
			a.MovzxR(x86.EAX, x86.EAX, width)
			a.MovzxR(x86.ECX, x86.ECX, width)
		}
	}
	a.CmpRR(x86.EAX, x86.ECX)
	a.SetCC(ccFor(instr.Pred), x86.EDX)
	fc.spill(instr, x86.EDX)
}

func (fc *funcCtx) lowerLoad(instr *ir.Instr) {
	a := fc.m.asm()
	fc.load32(x86.EAX, instr.Args[0])
	if is64(instr) {
		a.LoadIndirect(x86.ECX, x86.EAX, 32)
		fc.spillPart(instr, 0, x86.ECX)
		a.AddRImm32(x86.EAX, 4)
		a.LoadIndirect(x86.ECX, x86.EAX, 32)
		fc.spillPart(instr, 1, x86.ECX)
		return
	}
	a.LoadIndirect(x86.ECX, x86.EAX, widthFor(instr.Ty))
	fc.spill(instr, x86.ECX)
}

func (fc *funcCtx) lowerStore(instr *ir.Instr) {
	a := fc.m.asm()
	val, ptr := instr.Args[0], instr.Args[1]
	fc.load32(x86.ECX, ptr)
	if is64(val) {
		fc.loadPart(x86.EAX, val, 0)
		a.StoreIndirect(x86.ECX, x86.EAX, 32)
		a.AddRImm32(x86.ECX, 4)
		fc.loadPart(x86.EAX, val, 1)
		a.StoreIndirect(x86.ECX, x86.EAX, 32)
		return
	}
	fc.load32(x86.EAX, val)
	a.StoreIndirect(x86.ECX, x86.EAX, widthFor(val.Type()))
}

// lowerAlloca carves the buffer off the stack pointer at run time:
// `sub $size, %esp`, then the user pointer skips past the outgoing-
// argument region with `lea callee_area(%esp)`. With no callee-argument
// area the new %esp itself is the buffer, so it is spilled directly.
func (fc *funcCtx) lowerAlloca(instr *ir.Instr) {
	a := fc.m.asm()
	a.SubEspImm32(uint32(instr.AllocSize))
	if fc.frame.CalleeArgBytes != 0 {
		a.LeaEspDisp(x86.EAX, int32(fc.frame.CalleeArgBytes))
		fc.spill(instr, x86.EAX)
		return
	}
	fc.spill(instr, x86.ESP)
}

func (fc *funcCtx) lowerTrunc(instr *ir.Instr) {
	src := instr.Args[0]
	if is64(src) {
		fc.loadPart(x86.EAX, src, 0)
	} else {
		fc.load32(x86.EAX, src)
	}
	fc.spill(instr, x86.EAX) // bits above the truncated width are garbage, tolerated
}

func (fc *funcCtx) lowerExtend(instr *ir.Instr, signed bool) {
	a := fc.m.asm()
	src := instr.Args[0]
	srcWidth := widthFor(src.Type())

	fc.load32(x86.EAX, src)
	switch {
	case src.Type().IntWidth() == 1:
		// A true i1 source (e.g. a Trunc to i1) may carry garbage above
		// bit 0; widthFor's byte clamp would movzx/movsx that garbage
		// along with it. Only bit 0 is meaningful here (§4.4).
		if signed {
			a.ShlRImm8(x86.EAX, 31)
			a.SarRImm8(x86.EAX, 31)
		} else {
			a.AndRImm32(x86.EAX, 1)
		}
	case srcWidth < 32:
		if signed {
			a.MovsxR(x86.EAX, x86.EAX, srcWidth)
		} else {
			a.MovzxR(x86.EAX, x86.EAX, srcWidth)
		}
	}
	if instr.Ty.Kind != ir.Int64 {
		fc.spill(instr, x86.EAX)
		return
	}
	fc.spillPart(instr, 0, x86.EAX)
	if signed {
		a.Cdq()
		fc.spillPart(instr, 1, x86.EDX)
	} else {
		a.XorRR(x86.EDX, x86.EDX)
		fc.spillPart(instr, 1, x86.EDX)
	}
}

func (fc *funcCtx) lowerSelect(instr *ir.Instr) {
	a := fc.m.asm()
	cond, tv, fv := instr.Args[0], instr.Args[1], instr.Args[2]
	falseLabel := fc.nextLabel("select.false")
	doneLabel := fc.nextLabel("select.done")

	// Only bit 0 of an i1 condition is meaningful; garbage in the
	// upper bits must not flip the branch.
	fc.load32(x86.EAX, cond)
	a.TestAlImm8(1)
	a.JccRel32(x86.CCEq, falseLabel)
	fc.lowerSelectArm(instr, tv)
	a.JmpRel32(doneLabel)
	fc.m.labels[falseLabel] = fc.m.Code.Cursor()
	fc.lowerSelectArm(instr, fv)
	fc.m.labels[doneLabel] = fc.m.Code.Cursor()
}

func (fc *funcCtx) lowerSelectArm(instr *ir.Instr, v ir.Value) {
	if is64(instr) {
		fc.loadPart(x86.EAX, v, 0)
		fc.spillPart(instr, 0, x86.EAX)
		fc.loadPart(x86.EAX, v, 1)
		fc.spillPart(instr, 1, x86.EAX)
		return
	}
	fc.load32(x86.EAX, v)
	fc.spill(instr, x86.EAX)
}

func (fc *funcCtx) lowerCall(instr *ir.Instr) {
	fc.emitCallArgsByValue(instr.Args)
	if instr.CalleeFn != nil {
		fc.emitCallSymbol(instr.CalleeFn.Name)
	} else {
		fc.emitCallValue(instr.Callee)
	}
	if instr.Ty == nil || instr.Ty.Kind == ir.Void {
		return
	}
	switch instr.Ty.Kind {
	case ir.Int64:
		fc.spillPart(instr, 0, x86.EAX)
		fc.spillPart(instr, 1, x86.EDX)
	case ir.Double:
		fc.m.asm().FstpQwordMem(int32(fc.frame.Slot(instr)))
	default:
		fc.spill(instr, x86.EAX)
	}
}

func (fc *funcCtx) lowerAtomicRMW(instr *ir.Instr) {
	// Only sequentially-consistent, cross-thread RMW is implemented;
	// anything weaker takes the unsupported-construct path instead of
	// being silently promoted to seq-cst, and so does a 64-bit RMW,
	// which the 32-bit rtsupport helpers cannot perform.
	if instr.Order != ir.SeqCst || instr.AtomicScp != ir.CrossThread || is64(instr) {
		fc.emitUnhandled(instr)
		return
	}
	ptr, val := instr.Args[0], instr.Args[1]
	fc.emitCallArgsByValue([]ir.Value{ptr, val})
	fc.emitCallSymbol(atomicSymbol(instr.AtomicOp))
	fc.spill(instr, x86.EAX)
}

func (fc *funcCtx) lowerIntrinsic(instr *ir.Instr) {
	switch instr.Intrinsic {
	case ir.IntrinsicLifetimeStart, ir.IntrinsicLifetimeEnd,
		ir.IntrinsicDbgValue, ir.IntrinsicDbgDeclare:
		// Annotations only; no runtime effect.
	case ir.IntrinsicReadTP:
		name := intrinsicSymbolName(instr.Intrinsic)
		assert.That(fc.m.hasSymbol(name), "codegen: intrinsic %v has no bound address", instr.Intrinsic)
		fc.emitCallSymbol(name)
		if instr.Ty != nil && instr.Ty.Kind != ir.Void {
			fc.spill(instr, x86.EAX)
		}
	case ir.IntrinsicMemcpy, ir.IntrinsicMemmove, ir.IntrinsicMemset:
		// internal/rewrite ordinarily expands these into a plain OpCall
		// before the encoder ever sees them; handled directly too so
		// the encoder can be driven against an unexpanded intrinsic.
		fc.emitCallArgsByValue(instr.Args)
		fc.emitCallSymbol(memIntrinsicSymbol(instr.Intrinsic))
		if instr.Ty != nil && instr.Ty.Kind != ir.Void {
			fc.spill(instr, x86.EAX)
		}
	default:
		fc.emitUnhandled(instr)
	}
}

// emitUnhandled lowers an IR construct this translator recognizes
// syntactically but does not implement into a runtime call that
// reports the failure and aborts, rather than a translate-time error,
// so everything else in the module still emits and the problem
// surfaces at the first actual call site.
func (fc *funcCtx) emitUnhandled(instr *ir.Instr) {
	name := fmt.Sprintf("%s: unsupported %s", fc.fn.Name, instr.Op)
	fmt.Fprintf(os.Stderr, "x86jit: %s\n", name)
	fc.m.opts.Log.Warn("unsupported IR construct", "function", fc.fn.Name, "construct", instr.Op.String())
	addr := fc.m.internCString(name)
	a := fc.m.asm()
	a.MovRegImm32(x86.EAX, uint32(addr))
	a.MovMemRegBase(x86.ESP, 0, x86.EAX)
	fc.emitCallSymbol(symUnhandledCase)
}
