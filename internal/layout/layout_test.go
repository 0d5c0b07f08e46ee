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

package layout_test

import (
	"testing"

	"x86jit/internal/ir"
	"x86jit/internal/irbuild"
	"x86jit/internal/layout"
)

// TestArgumentOffsets checks argument placement: each parameter lands
// above the saved frame pointer and return address starting at +8, 4
// bytes apart except i64 arguments which take 8.
func TestArgumentOffsets(t *testing.T) {
	m := irbuild.NewModule()
	fn := m.Func("f", ir.TypeI32, ir.TypeI32, ir.TypeI64, ir.TypeI32)
	fn.Block("entry")
	fn.RetVoid()
	fn.Finish()

	fr := layout.Compute(fn.Fn)
	want := []int{8, 12, 20}
	for i, w := range want {
		if got := fr.Slot(fn.Fn.Params[i]); got != w {
			t.Errorf("arg[%d] slot = %d, want %d", i, got, w)
		}
	}
}

// TestAliasHasNoSlot checks that a bit-cast never receives a stack slot
// of its own: Slot reports the aliased argument's slot for it, and it
// resolves, through Resolve, to the value it aliases.
func TestAliasHasNoSlot(t *testing.T) {
	m := irbuild.NewModule()
	fn := m.Func("f", ir.TypeI32, ir.TypeI32)
	fn.Block("entry")
	ptrTy := ir.PointerTo(ir.TypeI8)
	cast := fn.BitCast(ptrTy, fn.Arg(0))
	fn.RetVoid()
	fn.Finish()

	fr := layout.Compute(fn.Fn)
	if got, want := fr.Slot(cast), fr.Slot(fn.Arg(0)); got != want {
		t.Errorf("bitcast result has its own slot %d, want the aliased argument's slot %d", got, want)
	}
	if !fr.IsAliasOnly(cast) {
		t.Errorf("IsAliasOnly(bitcast) = false, want true")
	}
	if fr.Resolve(cast) != fn.Arg(0) {
		t.Errorf("Resolve(bitcast) did not resolve to the aliased argument")
	}
}

// TestTruncNarrowingIsNotAlias checks that a genuinely narrowing trunc
// (i32 to i8) is not treated as a no-op alias and gets a real slot.
func TestTruncNarrowingIsNotAlias(t *testing.T) {
	m := irbuild.NewModule()
	fn := m.Func("f", ir.TypeI32, ir.TypeI32)
	fn.Block("entry")
	narrow := fn.Trunc(ir.TypeI8, fn.Arg(0))
	fn.RetVoid()
	fn.Finish()

	fr := layout.Compute(fn.Fn)
	if fr.IsAliasOnly(narrow) {
		t.Errorf("narrowing trunc classified as alias, want a real slot")
	}
	if !fr.HasSlot(narrow) {
		t.Errorf("narrowing trunc has no slot")
	}
}

// TestFrameSizeClampedToTwelve checks the callee-argument area floor:
// a function with no calls (or only narrow ones) still reserves at
// least 12 bytes.
func TestFrameSizeClampedToTwelve(t *testing.T) {
	m := irbuild.NewModule()
	fn := m.Func("f", ir.TypeI32, ir.TypeI32)
	fn.Block("entry")
	fn.RetVoid()
	fn.Finish()

	fr := layout.Compute(fn.Fn)
	if fr.CalleeArgBytes != 12 {
		t.Errorf("CalleeArgBytes = %d, want 12 (the floor)", fr.CalleeArgBytes)
	}
	if fr.FrameSize != fr.LocalBytes+fr.CalleeArgBytes {
		t.Errorf("FrameSize (%d) != LocalBytes (%d) + CalleeArgBytes (%d)", fr.FrameSize, fr.LocalBytes, fr.CalleeArgBytes)
	}
}

// TestFrameSizeGrowsWithWidestCall checks that the callee-argument area
// grows past the 12-byte floor to fit a call site whose arguments need
// more room.
func TestFrameSizeGrowsWithWidestCall(t *testing.T) {
	m := irbuild.NewModule()
	callee := m.Func("callee", ir.TypeI32, ir.TypeI64, ir.TypeI64, ir.TypeI32)
	callee.Block("entry")
	callee.RetVoid()
	callee.Finish()

	fn := m.Func("f", ir.TypeI32, ir.TypeI64, ir.TypeI64, ir.TypeI32)
	fn.Block("entry")
	fn.Call(ir.TypeI32, callee.Fn, callee.Fn, fn.Arg(0), fn.Arg(1), fn.Arg(2))
	fn.RetVoid()
	fn.Finish()

	fr := layout.Compute(fn.Fn)
	// Two i64 args (8 bytes each) plus one i32 (4 bytes) = 20 bytes,
	// above the 12-byte floor.
	if fr.CalleeArgBytes != 20 {
		t.Errorf("CalleeArgBytes = %d, want 20", fr.CalleeArgBytes)
	}
}
