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

package ir_test

import (
	"testing"

	"x86jit/internal/ir"
)

// TestBuildCFGWiresPredsInDeclarationOrder checks the ordering codegen's
// phi resolution depends on: a join block reached by two predecessors
// records them in Preds in the order BuildCFG visits the blocks, not in
// the order the edges are declared at the join's own site.
func TestBuildCFGWiresPredsInDeclarationOrder(t *testing.T) {
	fn := &ir.Function{Name: "f", RetTy: ir.TypeI32}
	entry := fn.NewBlock("entry")
	thenB := fn.NewBlock("then")
	elseB := fn.NewBlock("else")
	join := fn.NewBlock("join")

	entry.Append(&ir.Instr{Op: ir.OpCondBr, Ty: ir.TypeVoid, Args: []ir.Value{ir.ConstInt{Ty: ir.TypeI1, Val: 1}}, Then: thenB, Else: elseB})
	thenB.Append(&ir.Instr{Op: ir.OpBr, Ty: ir.TypeVoid, Then: join})
	elseB.Append(&ir.Instr{Op: ir.OpBr, Ty: ir.TypeVoid, Then: join})
	join.Append(&ir.Instr{Op: ir.OpRetVoid, Ty: ir.TypeVoid})

	fn.BuildCFG()

	if len(join.Preds) != 2 {
		t.Fatalf("join.Preds has %d entries, want 2", len(join.Preds))
	}
	if join.Preds[0] != thenB || join.Preds[1] != elseB {
		t.Errorf("join.Preds = [%s, %s], want [then, else]", join.Preds[0].Name, join.Preds[1].Name)
	}
	if len(entry.Succs) != 2 || entry.Succs[0] != thenB || entry.Succs[1] != elseB {
		t.Errorf("entry.Succs did not wire to [then, else] in declaration order")
	}
}

// TestBuildCFGSwitch checks that every case target plus the default
// each receive the switch block as a predecessor exactly once.
func TestBuildCFGSwitch(t *testing.T) {
	fn := &ir.Function{Name: "f", RetTy: ir.TypeI32}
	entry := fn.NewBlock("entry")
	case1 := fn.NewBlock("case1")
	def := fn.NewBlock("default")

	entry.Append(&ir.Instr{
		Op: ir.OpSwitch, Ty: ir.TypeVoid,
		Args:    []ir.Value{ir.ConstInt{Ty: ir.TypeI32, Val: 0}},
		Default: def,
		Cases:   []ir.SwitchCase{{Value: 1, Target: case1}},
	})
	case1.Append(&ir.Instr{Op: ir.OpRetVoid, Ty: ir.TypeVoid})
	def.Append(&ir.Instr{Op: ir.OpRetVoid, Ty: ir.TypeVoid})

	fn.BuildCFG()

	if len(case1.Preds) != 1 || case1.Preds[0] != entry {
		t.Errorf("case1.Preds = %v, want [entry]", case1.Preds)
	}
	if len(def.Preds) != 1 || def.Preds[0] != entry {
		t.Errorf("default.Preds = %v, want [entry]", def.Preds)
	}
}

// TestTerminatorRequiresTerminalInstr checks Terminator's contract: a
// block whose last instruction isn't one of the fixed terminator
// opcodes reports no terminator at all, rather than misidentifying an
// ordinary instruction as one.
func TestTerminatorRequiresTerminalInstr(t *testing.T) {
	fn := &ir.Function{Name: "f", RetTy: ir.TypeI32}
	b := fn.NewBlock("entry")
	b.Append(&ir.Instr{Op: ir.OpAdd, Ty: ir.TypeI32, Args: []ir.Value{ir.ConstInt{Ty: ir.TypeI32, Val: 1}, ir.ConstInt{Ty: ir.TypeI32, Val: 2}}})

	if term := b.Terminator(); term != nil {
		t.Errorf("Terminator() = %v on a block with no terminator, want nil", term)
	}

	b.Append(&ir.Instr{Op: ir.OpRetVoid, Ty: ir.TypeVoid})
	if term := b.Terminator(); term == nil || term.Op != ir.OpRetVoid {
		t.Errorf("Terminator() did not find the trailing RetVoid")
	}
}

// TestIntWidth checks the fixed-width int types report the widths the
// rest of the translator (layout, encoding) assumes.
func TestIntWidth(t *testing.T) {
	cases := []struct {
		ty   *ir.Type
		want int
	}{
		{ir.TypeI1, 1},
		{ir.TypeI8, 8},
		{ir.TypeI16, 16},
		{ir.TypeI32, 32},
		{ir.TypeI64, 64},
	}
	for _, c := range cases {
		if got := c.ty.IntWidth(); got != c.want {
			t.Errorf("IntWidth(%v) = %d, want %d", c.ty, got, c.want)
		}
	}
}

// TestInsertBeforeSplicesAheadOfMark checks the insertion primitive the
// ConstantExpr and GetElementPtr expanders rely on to splice a new
// instruction immediately before the instruction that uses its result.
func TestInsertBeforeSplicesAheadOfMark(t *testing.T) {
	fn := &ir.Function{Name: "f", RetTy: ir.TypeI32}
	b := fn.NewBlock("entry")
	mark := &ir.Instr{Op: ir.OpRetVoid, Ty: ir.TypeVoid}
	b.Append(mark)

	inserted := &ir.Instr{Op: ir.OpAdd, Ty: ir.TypeI32, Name: "spliced"}
	b.InsertBefore(mark, inserted)

	if len(b.Instrs) != 2 || b.Instrs[0] != inserted || b.Instrs[1] != mark {
		t.Fatalf("InsertBefore did not place the new instruction ahead of mark")
	}
	if inserted.Block != b {
		t.Errorf("InsertBefore did not set the spliced instruction's Block owner")
	}
}
