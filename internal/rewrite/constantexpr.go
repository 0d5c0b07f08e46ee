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

import "x86jit/internal/ir"

// ExpandConstantExpr is a function-scope pass: for every operand of
// every instruction, a constant-expression operand is replaced with an
// equivalent instruction synthesized immediately before the use. When
// the using instruction is a phi, the synthesized instruction goes
// before the *incoming block's* terminator, not before the phi itself,
// since a phi's "use" happens on the control-flow edge, not at the
// phi's own textual position.
//
// Idempotent: once every operand is a global, a simple constant, an
// argument, or another instruction, a second run changes nothing.
func ExpandConstantExpr(fn *ir.Function) bool {
	changed := false
	for _, b := range fn.Blocks {
		for _, instr := range append([]*ir.Instr(nil), b.Instrs...) {
			if instr.Op == ir.OpPhi {
				for i, incoming := range instr.Incoming {
					ce, ok := incoming.(ir.ConstExpr)
					if !ok {
						continue
					}
					pred := b.Preds[i]
					insertPt := pred.Terminator()
					instr.Incoming[i] = expandConstExprAt(pred, insertPt, ce)
					changed = true
				}
				continue
			}
			for i, arg := range instr.Args {
				ce, ok := arg.(ir.ConstExpr)
				if !ok {
					continue
				}
				instr.Args[i] = expandConstExprAt(b, instr, ce)
				changed = true
			}
		}
	}
	return changed
}

// expandConstExprAt recursively expands ce (and any nested ConstExpr
// among its own operands) to real instructions, inserted immediately
// before insertPt in block.
func expandConstExprAt(block *ir.Block, insertPt *ir.Instr, ce ir.ConstExpr) ir.Value {
	args := make([]ir.Value, len(ce.Args))
	for i, a := range ce.Args {
		if nested, ok := a.(ir.ConstExpr); ok {
			args[i] = expandConstExprAt(block, insertPt, nested)
		} else {
			args[i] = a
		}
	}
	instr := &ir.Instr{
		Op:      ce.Op,
		Ty:      ce.Ty,
		Args:    args,
		Pred:    ce.Pred,
		Indices: ce.Indices,
		Name:    "expanded",
	}
	block.InsertBefore(insertPt, instr)
	return instr
}
