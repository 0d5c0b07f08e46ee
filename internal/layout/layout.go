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

// Package layout implements value placement: assigning every SSA value
// either a fixed frame-pointer-relative stack slot or, for no-op
// casts, marking it an alias to be resolved at use time.
package layout

import (
	"x86jit/internal/assert"
	"x86jit/internal/datalayout"
	"x86jit/internal/ir"
)

const maxAliasDepth = 64

// Frame is the computed slot map and frame geometry for one function.
type Frame struct {
	fn *ir.Function

	slots  map[ir.Value]int // value -> FP-relative displacement
	sizes  map[ir.Value]int // value -> slot size in bytes (4 or 8)
	alias  map[*ir.Instr]ir.Value
	cache  map[ir.Value]ir.Value

	i64Scratch int // FP-relative displacement of a 16-byte staging buffer

	LocalBytes     int
	CalleeArgBytes int
	FrameSize      int
}

// slotSize returns the number of bytes a value's slot occupies: 8 for
// 64-bit integers and doubles, 4 for everything else that gets a slot.
func slotSize(t *ir.Type) int {
	if t.Kind == ir.Int64 || t.Kind == ir.Double {
		return 8
	}
	return 4
}

// isAlias reports whether instr is a no-op cast: a bit-cast, a trunc
// to the same width as its operand, or a pointer<->integer cast at
// pointer width.
func isAlias(instr *ir.Instr) bool {
	switch instr.Op {
	case ir.OpBitCast:
		return true
	case ir.OpPtrToInt, ir.OpIntToPtr:
		return instr.Ty.IntWidth() == 32 || instr.Ty.Kind == ir.Pointer
	case ir.OpTrunc:
		return instr.Ty.IntWidth() == instr.Args[0].Type().IntWidth()
	}
	return false
}

// Compute walks fn's arguments and instructions in order, assigning
// stack slots. It must run after every IR-rewrite pass — the rewrite
// passes introduce new instructions that need slots, so placement is
// the fixed point after rewriting, never interleaved with it.
func Compute(fn *ir.Function) *Frame {
	fr := &Frame{
		fn:    fn,
		slots: map[ir.Value]int{},
		sizes: map[ir.Value]int{},
		alias: map[*ir.Instr]ir.Value{},
		cache: map[ir.Value]ir.Value{},
	}

	// Arguments: positive offsets starting at +8 (above saved FP and
	// return address), 4 bytes each except i64 arguments (8 bytes).
	off := 8
	for _, p := range fn.Params {
		fr.slots[p] = off
		sz := slotSize(p.Ty)
		fr.sizes[p] = sz
		off += sz
	}

	// Instructions: negative offsets growing downward, skipping aliases.
	local := 0
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if instr.Ty == nil || instr.Ty.Kind == ir.Void {
				continue // terminators, stores: no result value
			}
			if isAlias(instr) {
				fr.alias[instr] = instr.Args[0]
				continue
			}
			// An Alloca's buffer is carved off the stack pointer at run
			// time, not reserved here; only the 4-byte slot holding its
			// address is placed, like any other pointer-typed result.
			sz := slotSize(instr.Ty)
			local += sz
			fr.slots[instr] = -local
			fr.sizes[instr] = sz
		}
	}
	// A fixed 16-byte staging buffer: the encoder materializes i64/double
	// constant operands here to take their address when handing them to
	// an rtsupport helper that works by address rather than by value (no
	// pair of the three scratch registers is ever reserved to hold a
	// 64-bit value directly). Two 8-byte slots cover every binop/icmp,
	// which never takes more than two such operands at once.
	local = datalayout.AlignUp(local+16, 4)
	fr.i64Scratch = -local
	fr.LocalBytes = local

	// Callee-argument area: widest call site, clamped below by 12 bytes
	// (three 4-byte arguments) so the by-address runtime-helper calls
	// always have room without per-site resizing.
	maxCalleeArgs := 0
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if instr.Op != ir.OpCall {
				continue
			}
			sum := 0
			for _, a := range instr.Args {
				sum += slotSize(a.Type())
			}
			if sum > maxCalleeArgs {
				maxCalleeArgs = sum
			}
		}
	}
	if maxCalleeArgs < 12 {
		maxCalleeArgs = 12
	}
	fr.CalleeArgBytes = maxCalleeArgs
	fr.FrameSize = fr.LocalBytes + fr.CalleeArgBytes

	return fr
}

// Resolve chases an alias chain to the underlying value that actually
// owns a slot. Chains are acyclic and finite; the depth cap turns a
// malformed cycle into a loud failure instead of a hang.
func (fr *Frame) Resolve(v ir.Value) ir.Value {
	if cached, ok := fr.cache[v]; ok {
		return cached
	}
	cur := v
	for depth := 0; depth < maxAliasDepth; depth++ {
		instr, ok := cur.(*ir.Instr)
		if !ok {
			fr.cache[v] = cur
			return cur
		}
		target, isAliasInstr := fr.alias[instr]
		if !isAliasInstr {
			fr.cache[v] = cur
			return cur
		}
		cur = target
	}
	assert.Fatal("layout: alias chain exceeds %d hops starting from %v", maxAliasDepth, v)
	return nil
}

// Slot returns the FP-relative displacement of v's underlying
// (resolved) value. Panics if v has no slot at all: every value used
// as an operand either has a stack slot or reduces through an alias
// chain to a value that does, so a miss here is a bug.
func (fr *Frame) Slot(v ir.Value) int {
	r := fr.Resolve(v)
	d, ok := fr.slots[r]
	assert.That(ok, "layout: value %v has no stack slot", r)
	return d
}

// HasSlot reports whether v (after alias resolution) owns a slot —
// false only for constants and globals, which are never slotted.
func (fr *Frame) HasSlot(v ir.Value) bool {
	r := fr.Resolve(v)
	_, ok := fr.slots[r]
	return ok
}

// SizeOf returns the slot width (4 or 8) of v's underlying value, or
// the natural type size for a non-slotted constant.
func (fr *Frame) SizeOf(v ir.Value) int {
	r := fr.Resolve(v)
	if sz, ok := fr.sizes[r]; ok {
		return sz
	}
	return datalayout.SizeOf(v.Type())
}

// I64ScratchDisp returns the FP-relative displacement of staging slot 0
// or 1 of the 16-byte i64/double constant-materialization buffer.
func (fr *Frame) I64ScratchDisp(slot int) int {
	assert.That(slot == 0 || slot == 1, "layout: i64 scratch slot index must be 0 or 1, got %d", slot)
	return fr.i64Scratch + slot*8
}

// IsAliasOnly reports whether instr was classified as a no-op alias and
// therefore never received a slot.
func (fr *Frame) IsAliasOnly(instr *ir.Instr) bool {
	_, ok := fr.alias[instr]
	return ok
}
