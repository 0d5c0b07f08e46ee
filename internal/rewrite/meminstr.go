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

// ExpandMemIntrinsics is a block-scope pass: memcpy/memmove/memset
// intrinsics become direct calls to the host library functions by
// absolute address (bound, in this repo, to internal/rtsupport's Go
// implementations). A length operand wider than 32 bits is truncated
// to the platform word size.
func ExpandMemIntrinsics(mod *ir.Module, fn *ir.Function, b *ir.Block) bool {
	changed := false
	for _, instr := range append([]*ir.Instr(nil), b.Instrs...) {
		if instr.Op != ir.OpIntrinsic {
			continue
		}
		var name string
		switch instr.Intrinsic {
		case ir.IntrinsicMemcpy:
			name = "memcpy"
		case ir.IntrinsicMemmove:
			name = "memmove"
		case ir.IntrinsicMemset:
			name = "memset"
		default:
			continue
		}
		bytePtr := ir.PointerTo(ir.TypeI8)
		params := []*ir.Type{bytePtr, bytePtr, ir.TypeI32}
		if name == "memset" {
			params = []*ir.Type{bytePtr, ir.TypeI32, ir.TypeI32}
		}
		callee := ensureExternalFunc(mod, name, bytePtr, params...)

		args := make([]ir.Value, len(instr.Args))
		copy(args, instr.Args)
		lenIdx := len(args) - 1
		if args[lenIdx].Type().Kind == ir.Int64 {
			trunc := &ir.Instr{Op: ir.OpTrunc, Ty: ir.TypeI32, Args: []ir.Value{args[lenIdx]}, Name: instr.Name + ".len32"}
			b.InsertBefore(instr, trunc)
			args[lenIdx] = trunc
		}

		call := &ir.Instr{Op: ir.OpCall, Ty: instr.Ty, Callee: callee, CalleeFn: callee, Args: args, FixedArgCount: len(args), Name: instr.Name}
		b.InsertBefore(instr, call)
		ir.ReplaceAllUses(fn, instr, call)
		removeInstr(b, instr)
		changed = true
	}
	return changed
}

// ensureExternalFunc returns the module's existing external-declaration
// function named name, creating one (no blocks — a pure symbol to be
// resolved at module-driver time to a runtime helper's address) if
// absent.
func ensureExternalFunc(mod *ir.Module, name string, retTy *ir.Type, paramTypes ...*ir.Type) *ir.Function {
	if fn := mod.FindFunc(name); fn != nil {
		return fn
	}
	fn := &ir.Function{Name: name, RetTy: retTy, Linkage: ir.LinkageExternal}
	for i, pt := range paramTypes {
		fn.Params = append(fn.Params, &ir.Argument{Ty: pt, Idx: i})
	}
	mod.Funcs = append(mod.Funcs, fn)
	return fn
}
