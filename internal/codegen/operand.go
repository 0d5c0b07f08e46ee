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
	"math"

	"x86jit/internal/assert"
	"x86jit/internal/ir"
	"x86jit/internal/layout"
	"x86jit/internal/x86"
)

// funcCtx carries the per-function state lowerInstr and its helpers
// share: the module being emitted into, the function being translated,
// and that function's computed frame.
type funcCtx struct {
	m     *Module
	fn    *ir.Function
	frame *layout.Frame

	labelSeq int // synthesizes unique local labels for Select, CondBr and Switch
}

func (fc *funcCtx) nextLabel(tag string) string {
	fc.labelSeq++
	return fmt.Sprintf("%s.%s%d", fc.fn.Name, tag, fc.labelSeq)
}

// load32 moves a 32-bit-wide value (an integer no wider than i32, or a
// pointer) into reg.
func (fc *funcCtx) load32(reg x86.Reg, v ir.Value) {
	a := fc.m.asm()
	switch c := v.(type) {
	case ir.ConstInt:
		a.MovRegImm32(reg, uint32(c.Val))
	case ir.ConstNull:
		a.MovRegImm32(reg, 0)
	case ir.ConstGlobalAddr:
		a.MovRegImm32Symbol(reg, c.G.Name, int32(c.Offset))
	case *ir.Function:
		a.MovRegImm32Symbol(reg, c.Name, 0)
	default:
		assert.That(fc.frame.HasSlot(v), "codegen: value %v has no slot and is not a recognized 32-bit constant", v)
		a.MovRegMem(reg, int32(fc.frame.Slot(v)))
	}
}

// spill stores reg into v's 32-bit stack slot.
func (fc *funcCtx) spill(v ir.Value, reg x86.Reg) {
	fc.m.asm().MovMemReg(int32(fc.frame.Slot(v)), reg)
}

// widePart returns the 32-bit half (part 0 = low, part 1 = high) of a
// constant i64 or double value that owns no stack slot.
func (fc *funcCtx) widePart(v ir.Value, part int) uint32 {
	switch c := v.(type) {
	case ir.ConstInt:
		u := uint64(c.Val)
		if part == 0 {
			return uint32(u)
		}
		return uint32(u >> 32)
	case ir.ConstFP:
		u := math.Float64bits(c.Val)
		if part == 0 {
			return uint32(u)
		}
		return uint32(u >> 32)
	case ir.ConstNull:
		return 0
	}
	assert.ShouldNotReachHere("codegen: value has no slot and is not a recognized wide constant")
	return 0
}

// loadPart moves the low (part=0) or high (part=1) 32-bit word of a
// 64-bit-wide value (i64 or double) into reg.
func (fc *funcCtx) loadPart(reg x86.Reg, v ir.Value, part int) {
	if fc.frame.HasSlot(v) {
		fc.m.asm().MovRegMem(reg, int32(fc.frame.Slot(v)+part*4))
		return
	}
	fc.m.asm().MovRegImm32(reg, fc.widePart(v, part))
}

// spillPart stores reg into the low/high word of v's 64-bit stack slot.
func (fc *funcCtx) spillPart(v ir.Value, part int, reg x86.Reg) {
	fc.m.asm().MovMemReg(int32(fc.frame.Slot(v)+part*4), reg)
}

// is64 reports whether v's type occupies two 32-bit words (i64 or
// double).
func is64(v ir.Value) bool {
	t := v.Type()
	return t.Kind == ir.Int64 || t.Kind == ir.Double
}

// addrOf materializes a pointer to v's underlying storage into reg:
// directly (lea) if v already owns a slot, or by first copying a
// constant's bits into the frame's i64 scratch buffer.
func (fc *funcCtx) addrOf(reg x86.Reg, v ir.Value, scratchSlot int) {
	a := fc.m.asm()
	if fc.frame.HasSlot(v) {
		a.LeaRegMem(reg, int32(fc.frame.Slot(v)))
		return
	}
	disp := fc.frame.I64ScratchDisp(scratchSlot)
	a.MovRegImm32(reg, fc.widePart(v, 0))
	a.MovMemReg(int32(disp), reg)
	a.MovRegImm32(reg, fc.widePart(v, 1))
	a.MovMemReg(int32(disp+4), reg)
	a.LeaRegMem(reg, int32(disp))
}

// emitCallArgsByValue writes each argument's bits directly into the
// reserved callee-argument area at esp+cumulative offset — the
// caller-cleanup convention, args placed rather than pushed.
func (fc *funcCtx) emitCallArgsByValue(args []ir.Value) {
	a := fc.m.asm()
	off := int32(0)
	for _, v := range args {
		if is64(v) {
			fc.loadPart(regScratch0, v, 0)
			a.MovMemRegBase(x86.ESP, off, regScratch0)
			fc.loadPart(regScratch0, v, 1)
			a.MovMemRegBase(x86.ESP, off+4, regScratch0)
			off += 8
		} else {
			fc.load32(regScratch0, v)
			a.MovMemRegBase(x86.ESP, off, regScratch0)
			off += 4
		}
	}
}

// emitCallArgsByAddress writes the address of each argument's
// underlying storage into the callee-argument area — the convention
// rtsupport's i64 arithmetic/comparison helpers use instead of by-value
// passing, since no pair of the three scratch registers is ever
// reserved to hold a 64-bit value.
func (fc *funcCtx) emitCallArgsByAddress(args []ir.Value) {
	a := fc.m.asm()
	for i, v := range args {
		fc.addrOf(regScratch0, v, i%2)
		a.MovMemRegBase(x86.ESP, int32(i*4), regScratch0)
	}
}

// emitCallSymbol loads name's bound address and calls it indirectly —
// every call in this encoder is `call *reg`, whether to a defined
// function, an external declaration, or an rtsupport helper.
func (fc *funcCtx) emitCallSymbol(name string) {
	a := fc.m.asm()
	a.MovRegImm32Symbol(regScratch0, name, 0)
	a.CallIndirect(regScratch0)
}

// emitCallValue loads an indirect callee's address from an SSA value
// and calls it.
func (fc *funcCtx) emitCallValue(v ir.Value) {
	fc.load32(regScratch0, v)
	fc.m.asm().CallIndirect(regScratch0)
}
