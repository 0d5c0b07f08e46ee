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
	"x86jit/internal/assert"
	"x86jit/internal/ir"
	"x86jit/internal/layout"
	"x86jit/internal/x86"
)

// translateFunction emits fn's whole body: prologue, every block in
// declared order, epilogue. The entry block's address becomes fn's
// symbol-table entry, so other functions (including not-yet-translated
// ones, resolved later by reloc.Apply) can call it by name.
func (m *Module) translateFunction(fn *ir.Function) error {
	frame := layout.Compute(fn)
	fc := &funcCtx{m: m, fn: fn, frame: frame}
	asm := m.asm()

	start := m.Code.Cursor()
	m.symbols[fn.Name] = start

	asm.Prologue(uint32(frame.FrameSize))
	if m.opts.TraceLogging {
		fc.emitTrace(symTraceFnEntry, fn.Name)
	}

	for _, b := range fn.Blocks {
		m.labels[blockLabel(fn, b)] = m.Code.Cursor()
		if m.opts.TraceLogging {
			fc.emitTrace(symTraceBlkEntry, fn.Name+"."+b.Name)
		}
		fc.emitBlock(b)
	}

	if m.opts.DumpCode {
		m.dumpFunctionCode(fn.Name, start, m.Code.Cursor())
	}
	return nil
}

// emitTrace calls a trace_logging runtime helper with a C string
// literal naming the function or block currently being entered.
func (fc *funcCtx) emitTrace(symbol, name string) {
	addr := fc.m.internCString(name)
	a := fc.m.asm()
	a.MovRegImm32(x86.EAX, uint32(addr))
	a.MovMemRegBase(x86.ESP, 0, x86.EAX)
	fc.emitCallSymbol(symbol)
}

// emitBlock lowers every instruction in b up to (and including) its
// terminator. Phis are skipped — their value is written at the
// predecessor edge, never at their own textual position — and alias
// instructions (no-op casts) never owned a slot to write.
func (fc *funcCtx) emitBlock(b *ir.Block) {
	for _, instr := range b.Instrs {
		if instr.IsTerminator() {
			fc.emitTerminator(b, instr)
			return
		}
		if instr.Op == ir.OpPhi {
			continue
		}
		if fc.frame.IsAliasOnly(instr) {
			continue
		}
		fc.lowerInstr(instr)
	}
	assert.ShouldNotReachHere("codegen: block " + b.Name + " has no terminator")
}

// emitTerminator resolves every phi living at the edge(s) this
// terminator takes before jumping: phi resolution happens at the
// predecessor->successor edge rather than at the phi's own position.
// CondBr and Switch need a distinct resolution sequence per edge, so
// each edge gets its own short thunk: test/jump to the edge, resolve
// that edge's phis, then jump to the real target.
func (fc *funcCtx) emitTerminator(b *ir.Block, instr *ir.Instr) {
	a := fc.m.asm()
	switch instr.Op {
	case ir.OpBr:
		fc.resolvePhis(b, instr.Then, x86.ECX)
		a.JmpRel32(blockLabel(fc.fn, instr.Then))

	case ir.OpCondBr:
		// The i1 condition may carry garbage above bit 0, so only %al's
		// low bit is tested, never the whole register.
		fc.load32(x86.EAX, instr.Args[0])
		a.TestAlImm8(1)
		elseEdge := fc.nextLabel("condbr.else")
		a.JccRel32(x86.CCEq, elseEdge)
		fc.resolvePhis(b, instr.Then, x86.ECX)
		a.JmpRel32(blockLabel(fc.fn, instr.Then))
		fc.m.labels[elseEdge] = fc.m.Code.Cursor()
		fc.resolvePhis(b, instr.Else, x86.ECX)
		a.JmpRel32(blockLabel(fc.fn, instr.Else))

	case ir.OpSwitch:
		fc.load32(x86.EAX, instr.Args[0])
		// The selector is zero-extended before the cmp cascade: a narrow
		// selector's slot may carry garbage above its width, and the case
		// values are compared as full 32-bit immediates.
		switch w := instr.Args[0].Type().IntWidth(); {
		case w == 1:
			a.AndRImm32(x86.EAX, 1)
		case w < 32:
			a.MovzxR(x86.EAX, x86.EAX, w)
		}
		caseEdges := make([]string, len(instr.Cases))
		for i, c := range instr.Cases {
			a.CmpRImm32(x86.EAX, uint32(c.Value))
			caseEdges[i] = fc.nextLabel("switch.case")
			a.JccRel32(x86.CCEq, caseEdges[i])
		}
		defaultEdge := fc.nextLabel("switch.default")
		a.JmpRel32(defaultEdge)
		for i, c := range instr.Cases {
			fc.m.labels[caseEdges[i]] = fc.m.Code.Cursor()
			fc.resolvePhis(b, c.Target, x86.EDX)
			a.JmpRel32(blockLabel(fc.fn, c.Target))
		}
		fc.m.labels[defaultEdge] = fc.m.Code.Cursor()
		fc.resolvePhis(b, instr.Default, x86.EDX)
		a.JmpRel32(blockLabel(fc.fn, instr.Default))

	case ir.OpRet:
		fc.emitReturn(instr.Args[0])
		a.Epilogue()

	case ir.OpRetVoid:
		a.Epilogue()

	case ir.OpUnreachable:
		a.Hlt()

	default:
		assert.ShouldNotReachHere("codegen: non-terminator reached emitTerminator")
	}
}

// emitReturn places v where fn's return-value convention expects it:
// EAX for i32/pointer/narrower, EDX:EAX for i64, ST(0) (via fld) for
// double.
func (fc *funcCtx) emitReturn(v ir.Value) {
	a := fc.m.asm()
	switch fc.fn.RetTy.Kind {
	case ir.Int64:
		fc.loadPart(x86.EAX, v, 0)
		fc.loadPart(x86.EDX, v, 1)
	case ir.Double:
		if fc.frame.HasSlot(v) {
			a.FldQwordMem(int32(fc.frame.Slot(v)))
			return
		}
		fp, ok := v.(ir.ConstFP)
		assert.That(ok, "codegen: double return operand %v has no slot and is not a constant", v)
		a.FldQwordAbs(uint32(fc.m.internFloat64(fp.Val)))
	default:
		fc.load32(x86.EAX, v)
	}
}

// resolvePhis copies, into each of to's phi slots, the value incoming
// from the from->to edge, using tmp as the sole scratch register for
// the whole sequence: ECX for branch edges, EDX for switch edges,
// since EAX may still hold a switch's selector at the point its edges
// are resolved.
func (fc *funcCtx) resolvePhis(from, to *ir.Block, tmp x86.Reg) {
	predIdx := -1
	for i, p := range to.Preds {
		if p == from {
			predIdx = i
			break
		}
	}
	assert.That(predIdx >= 0, "codegen: block %s is not a recorded predecessor of %s", from.Name, to.Name)

	for _, instr := range to.Instrs {
		if instr.Op != ir.OpPhi {
			break // phis are always at the front of a block
		}
		v := instr.Incoming[predIdx]
		if is64(instr) {
			fc.loadPart(tmp, v, 0)
			fc.spillPart(instr, 0, tmp)
			fc.loadPart(tmp, v, 1)
			fc.spillPart(instr, 1, tmp)
			continue
		}
		fc.load32(tmp, v)
		fc.spill(instr, tmp)
	}
}
