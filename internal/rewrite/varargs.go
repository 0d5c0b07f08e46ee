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

	"x86jit/internal/datalayout"
	"x86jit/internal/ir"
)

var vaBufferType = ir.PointerTo(ir.TypeI8)

// ExpandVarArgs is the one module-scope pass. Every variadic function
// gains a trailing va_buffer pointer parameter; va_start/va_arg/va_end
// are rewritten in terms of it; every call site passing variadic
// arguments packs them into a struct allocated in the caller's entry
// block and passes its address as the last argument.
//
// The *ir.Function is mutated in place rather than rebuilt, so there
// is no need to rewrite other references to the function via a bitcast
// shim — appending the extra parameter is sufficient.
func ExpandVarArgs(mod *ir.Module) {
	for _, fn := range mod.Funcs {
		if !fn.VarArg {
			continue
		}
		vaBuf := &ir.Argument{Name: "va_buffer", Ty: vaBufferType, Idx: len(fn.Params)}
		fn.Params = append(fn.Params, vaBuf)

		for _, b := range fn.Blocks {
			for _, instr := range append([]*ir.Instr(nil), b.Instrs...) {
				switch {
				case instr.Op == ir.OpIntrinsic && instr.Intrinsic == ir.IntrinsicVAStart:
					st := &ir.Instr{Op: ir.OpStore, Ty: ir.TypeVoid, Args: []ir.Value{vaBuf, instr.Args[0]}}
					b.InsertBefore(instr, st)
					removeInstr(b, instr)
				case instr.Op == ir.OpIntrinsic && instr.Intrinsic == ir.IntrinsicVAEnd:
					removeInstr(b, instr)
				case instr.Op == ir.OpIntrinsic && instr.Intrinsic == ir.IntrinsicVAArg:
					expandVAArg(fn, b, instr)
				}
			}
		}
	}

	for _, fn := range mod.Funcs {
		for _, b := range fn.Blocks {
			for _, instr := range append([]*ir.Instr(nil), b.Instrs...) {
				if instr.Op != ir.OpCall || instr.CalleeFn == nil || !instr.CalleeFn.VarArg {
					continue
				}
				expandVarArgCall(fn, b, instr)
			}
		}
	}
}

// expandVAArg rewrites one va_arg(ty, vaListPtr) into: load the current
// cursor, load the result through it, advance the cursor by sizeof(ty),
// store the cursor back.
func expandVAArg(fn *ir.Function, b *ir.Block, instr *ir.Instr) {
	vaListPtr := instr.Args[0]
	resultTy := instr.Ty

	cur := &ir.Instr{Op: ir.OpLoad, Ty: vaBufferType, Args: []ir.Value{vaListPtr}, Name: instr.Name + ".cur"}
	b.InsertBefore(instr, cur)

	castPtr := &ir.Instr{Op: ir.OpBitCast, Ty: ir.PointerTo(resultTy), Args: []ir.Value{cur}, Name: instr.Name + ".ptr"}
	b.InsertBefore(instr, castPtr)

	result := &ir.Instr{Op: ir.OpLoad, Ty: resultTy, Args: []ir.Value{castPtr}, Name: instr.Name}
	b.InsertBefore(instr, result)

	addr := &ir.Instr{Op: ir.OpPtrToInt, Ty: ir.TypeI32, Args: []ir.Value{cur}, Name: instr.Name + ".addr"}
	b.InsertBefore(instr, addr)
	next := &ir.Instr{Op: ir.OpAdd, Ty: ir.TypeI32, Args: []ir.Value{addr, ir.ConstInt{Ty: ir.TypeI32, Val: int64(datalayout.SizeOf(resultTy))}}, Name: instr.Name + ".next"}
	b.InsertBefore(instr, next)
	nextPtr := &ir.Instr{Op: ir.OpIntToPtr, Ty: vaBufferType, Args: []ir.Value{next}, Name: instr.Name + ".nextptr"}
	b.InsertBefore(instr, nextPtr)
	store := &ir.Instr{Op: ir.OpStore, Ty: ir.TypeVoid, Args: []ir.Value{nextPtr, vaListPtr}}
	b.InsertBefore(instr, store)

	ir.ReplaceAllUses(fn, instr, result)
	removeInstr(b, instr)
}

// expandVarArgCall packs the trailing variadic arguments of a call site
// into a struct allocated in the caller's entry block, in call order,
// and appends its address as the extra argument. A no-op when no
// variadic arguments are actually passed.
func expandVarArgCall(fn *ir.Function, b *ir.Block, call *ir.Instr) {
	fixed := call.Args[:call.FixedArgCount]
	variadic := call.Args[call.FixedArgCount:]
	if len(variadic) == 0 {
		return
	}

	fieldTypes := make([]*ir.Type, len(variadic))
	for i, v := range variadic {
		fieldTypes[i] = v.Type()
	}
	packedTy := ir.StructOf("vararg_buffer", fieldTypes...)

	entry := fn.Entry()
	buf := &ir.Instr{Op: ir.OpAlloca, Ty: ir.PointerTo(packedTy), AllocSize: datalayout.SizeOf(packedTy), Name: "vararg_buffer"}
	entry.InsertFront(buf)

	for i, v := range variadic {
		off := datalayout.FieldOffset(packedTy, i)
		addr := &ir.Instr{Op: ir.OpPtrToInt, Ty: ir.TypeI32, Args: []ir.Value{buf}, Name: fmt.Sprintf("vararg_buffer.addr%d", i)}
		b.InsertBefore(call, addr)
		fieldAddr := &ir.Instr{Op: ir.OpAdd, Ty: ir.TypeI32, Args: []ir.Value{addr, ir.ConstInt{Ty: ir.TypeI32, Val: int64(off)}}, Name: fmt.Sprintf("vararg_buffer.fieldaddr%d", i)}
		b.InsertBefore(call, fieldAddr)
		fieldPtr := &ir.Instr{Op: ir.OpIntToPtr, Ty: ir.PointerTo(v.Type()), Args: []ir.Value{fieldAddr}, Name: fmt.Sprintf("vararg_buffer.fieldptr%d", i)}
		b.InsertBefore(call, fieldPtr)
		store := &ir.Instr{Op: ir.OpStore, Ty: ir.TypeVoid, Args: []ir.Value{v, fieldPtr}}
		b.InsertBefore(call, store)
	}

	newArgs := append(append([]ir.Value{}, fixed...), buf)
	call.Args = newArgs
	call.FixedArgCount = len(fixed)
}
