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

package rewrite

import (
	"fmt"

	"x86jit/internal/assert"
	"x86jit/internal/datalayout"
	"x86jit/internal/ir"
)

// ExpandGetElementPtr is a block-scope pass: every getelementptr
// becomes a ptrtoint of its base, a chain of adds (with muls for
// array-typed index steps, using sizeof(element) from the data layout)
// for each index component, and a final inttoptr. Struct index steps
// are constants drawn from the struct's field-offset table: one
// ptrtoint, then one add per index component.
//
// Idempotent: a second run over a block with no remaining
// OpGetElementPtr instructions is a no-op.
func ExpandGetElementPtr(fn *ir.Function, b *ir.Block) bool {
	changed := false
	// Snapshot: we mutate b.Instrs as we go (InsertBefore/removal-by-
	// rebuild), so iterate over a copy.
	orig := append([]*ir.Instr(nil), b.Instrs...)
	for _, instr := range orig {
		if instr.Op != ir.OpGetElementPtr {
			continue
		}
		expandOneGEP(fn, b, instr)
		changed = true
	}
	return changed
}

func expandOneGEP(fn *ir.Function, b *ir.Block, gep *ir.Instr) {
	base := gep.Args[0]
	baseTy := base.Type()
	assert.That(baseTy.Kind == ir.Pointer, "gep: base operand is not a pointer")

	insertBefore := func(i *ir.Instr) {
		b.InsertBefore(gep, i)
	}

	addr := &ir.Instr{Op: ir.OpPtrToInt, Ty: ir.TypeI32, Args: []ir.Value{base}, Name: gep.Name + ".addr"}
	insertBefore(addr)
	var runningAddr ir.Value = addr

	curType := baseTy.Elem
	for idx, index := range gep.Indices {
		if idx == 0 {
			// The first index steps across whole units of the pointee
			// type, array-pointer-arithmetic style.
			step := mulByConst(b, gep, index, datalayout.SizeOf(curType), fmt.Sprintf("%s.step%d", gep.Name, idx), insertBefore)
			add := &ir.Instr{Op: ir.OpAdd, Ty: ir.TypeI32, Args: []ir.Value{runningAddr, step}, Name: fmt.Sprintf("%s.addr%d", gep.Name, idx)}
			insertBefore(add)
			runningAddr = add
			continue
		}
		switch curType.Kind {
		case ir.Struct:
			ci, ok := index.(ir.ConstInt)
			assert.That(ok, "gep: struct index must be a constant")
			off := datalayout.FieldOffset(curType, int(ci.Val))
			add := &ir.Instr{Op: ir.OpAdd, Ty: ir.TypeI32, Args: []ir.Value{runningAddr, ir.ConstInt{Ty: ir.TypeI32, Val: int64(off)}}, Name: fmt.Sprintf("%s.addr%d", gep.Name, idx)}
			insertBefore(add)
			runningAddr = add
			curType = datalayout.FieldType(curType, int(ci.Val))
		case ir.Array:
			step := mulByConst(b, gep, index, datalayout.SizeOf(curType.Elem), fmt.Sprintf("%s.step%d", gep.Name, idx), insertBefore)
			add := &ir.Instr{Op: ir.OpAdd, Ty: ir.TypeI32, Args: []ir.Value{runningAddr, step}, Name: fmt.Sprintf("%s.addr%d", gep.Name, idx)}
			insertBefore(add)
			runningAddr = add
			curType = curType.Elem
		default:
			assert.Fatal("gep: cannot index into non-aggregate type %v", curType)
		}
	}

	result := &ir.Instr{Op: ir.OpIntToPtr, Ty: gep.Ty, Args: []ir.Value{runningAddr}, Name: gep.Name}
	insertBefore(result)

	ir.ReplaceAllUses(fn, gep, result)
	removeInstr(b, gep)
}

// mulByConst emits index*scale, constant-folding when index is itself a
// constant so a literal array step doesn't cost a multiply instruction.
func mulByConst(b *ir.Block, mark *ir.Instr, index ir.Value, scale int, name string, insertBefore func(*ir.Instr)) ir.Value {
	if ci, ok := index.(ir.ConstInt); ok {
		return ir.ConstInt{Ty: ir.TypeI32, Val: ci.Val * int64(scale)}
	}
	mul := &ir.Instr{Op: ir.OpMul, Ty: ir.TypeI32, Args: []ir.Value{index, ir.ConstInt{Ty: ir.TypeI32, Val: int64(scale)}}, Name: name}
	insertBefore(mul)
	return mul
}

func removeInstr(b *ir.Block, target *ir.Instr) {
	out := b.Instrs[:0]
	for _, in := range b.Instrs {
		if in != target {
			out = append(out, in)
		}
	}
	b.Instrs = out
}
