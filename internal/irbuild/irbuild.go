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

// Package irbuild constructs internal/ir modules programmatically. It
// exists only so this repository's own tests can build sample IR
// without a textual front end — IR parsing belongs to a separate host
// library, so there is no lexer/parser here, only an incremental
// builder API over this module's own IR types.
package irbuild

import (
	"fmt"

	"x86jit/internal/ir"
)

// Module accumulates globals and functions.
type Module struct {
	M *ir.Module
}

func NewModule() *Module {
	return &Module{M: &ir.Module{}}
}

// Global appends a global with the given initializer (nil for an
// external declaration) and returns it.
func (m *Module) Global(name string, ty *ir.Type, init ir.Value, linkage ir.Linkage) *ir.Global {
	g := &ir.Global{Name: name, Ty: ty, Init: init, Linkage: linkage}
	m.M.Globals = append(m.M.Globals, g)
	return g
}

// Func starts a new function with the given parameter types.
func (m *Module) Func(name string, retTy *ir.Type, paramTypes ...*ir.Type) *Func {
	fn := &ir.Function{Name: name, RetTy: retTy}
	for i, pt := range paramTypes {
		fn.Params = append(fn.Params, &ir.Argument{Name: fmt.Sprintf("arg%d", i), Ty: pt, Idx: i})
	}
	m.M.Funcs = append(m.M.Funcs, fn)
	return &Func{Fn: fn}
}

// Func wraps an in-progress ir.Function plus an insertion cursor.
type Func struct {
	Fn       *ir.Function
	cur      *ir.Block
	nextTemp int
}

// VarArg marks the function as variadic.
func (f *Func) VarArg() *Func { f.Fn.VarArg = true; return f }

// Arg returns the idx'th parameter as a Value.
func (f *Func) Arg(idx int) ir.Value { return f.Fn.Params[idx] }

// Block creates a new block and makes it the insertion point.
func (f *Func) Block(name string) *ir.Block {
	b := f.Fn.NewBlock(name)
	f.cur = b
	return b
}

// SetBlock moves the insertion cursor to an existing block.
func (f *Func) SetBlock(b *ir.Block) *Func { f.cur = b; return f }

func (f *Func) name() string {
	f.nextTemp++
	return fmt.Sprintf("t%d", f.nextTemp)
}

func (f *Func) emit(i *ir.Instr) *ir.Instr {
	if i.Name == "" && i.Ty != nil && i.Ty.Kind != ir.Void {
		i.Name = f.name()
	}
	f.cur.Append(i)
	return i
}

func (f *Func) BinOp(op ir.Opcode, ty *ir.Type, lhs, rhs ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: op, Ty: ty, Args: []ir.Value{lhs, rhs}})
}

func (f *Func) ICmp(pred ir.ICmpPred, lhs, rhs ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpICmp, Ty: ir.TypeI1, Args: []ir.Value{lhs, rhs}, Pred: pred})
}

func (f *Func) Load(ty *ir.Type, ptr ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpLoad, Ty: ty, Args: []ir.Value{ptr}})
}

func (f *Func) Store(val, ptr ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpStore, Ty: ir.TypeVoid, Args: []ir.Value{val, ptr}})
}

func (f *Func) Alloca(ty *ir.Type, size int) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpAlloca, Ty: ir.PointerTo(ty), AllocSize: size})
}

func (f *Func) BitCast(ty *ir.Type, v ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpBitCast, Ty: ty, Args: []ir.Value{v}})
}

func (f *Func) Trunc(ty *ir.Type, v ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpTrunc, Ty: ty, Args: []ir.Value{v}})
}

func (f *Func) ZExt(ty *ir.Type, v ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpZExt, Ty: ty, Args: []ir.Value{v}})
}

func (f *Func) SExt(ty *ir.Type, v ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpSExt, Ty: ty, Args: []ir.Value{v}})
}

func (f *Func) PtrToInt(ty *ir.Type, v ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpPtrToInt, Ty: ty, Args: []ir.Value{v}})
}

func (f *Func) IntToPtr(ty *ir.Type, v ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpIntToPtr, Ty: ty, Args: []ir.Value{v}})
}

func (f *Func) GEP(ty *ir.Type, base ir.Value, indices ...ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpGetElementPtr, Ty: ty, Args: []ir.Value{base}, Indices: indices})
}

func (f *Func) Select(cond, tv, fv ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpSelect, Ty: tv.Type(), Args: []ir.Value{cond, tv, fv}})
}

func (f *Func) Call(ty *ir.Type, callee ir.Value, calleeFn *ir.Function, args ...ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpCall, Ty: ty, Callee: callee, CalleeFn: calleeFn, Args: args})
}

func (f *Func) AtomicRMW(op ir.AtomicOp, ptr, val ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpAtomicRMW, Ty: val.Type(), Args: []ir.Value{ptr, val}, AtomicOp: op, Order: ir.SeqCst, AtomicScp: ir.CrossThread})
}

func (f *Func) Intrinsic(kind ir.IntrinsicKind, ty *ir.Type, args ...ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpIntrinsic, Ty: ty, Intrinsic: kind, Args: args})
}

// Phi creates a phi instruction; incoming must be supplied in the same
// order Block.Preds will eventually have once BuildCFG runs (Finish runs
// it; predecessors are recorded in block declaration order).
func (f *Func) Phi(ty *ir.Type, incoming ...ir.Value) *ir.Instr {
	i := &ir.Instr{Op: ir.OpPhi, Ty: ty, Incoming: incoming}
	i.Name = f.name()
	// Phis must precede non-phi instructions in the block.
	i.Block = f.cur
	f.cur.Instrs = append([]*ir.Instr{i}, f.cur.Instrs...)
	return i
}

func (f *Func) Br(target *ir.Block) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpBr, Ty: ir.TypeVoid, Then: target})
}

func (f *Func) CondBr(cond ir.Value, thenB, elseB *ir.Block) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpCondBr, Ty: ir.TypeVoid, Args: []ir.Value{cond}, Then: thenB, Else: elseB})
}

func (f *Func) Switch(selector ir.Value, def *ir.Block, cases ...ir.SwitchCase) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpSwitch, Ty: ir.TypeVoid, Args: []ir.Value{selector}, Default: def, Cases: cases})
}

func (f *Func) Ret(v ir.Value) *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpRet, Ty: ir.TypeVoid, Args: []ir.Value{v}})
}

func (f *Func) RetVoid() *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpRetVoid, Ty: ir.TypeVoid})
}

func (f *Func) Unreachable() *ir.Instr {
	return f.emit(&ir.Instr{Op: ir.OpUnreachable, Ty: ir.TypeVoid})
}

// Finish computes the function's CFG from its terminators. Call once
// all blocks and branches have been emitted.
func (f *Func) Finish() *ir.Function {
	f.Fn.BuildCFG()
	return f.Fn
}
