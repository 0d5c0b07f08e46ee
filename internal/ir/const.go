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

package ir

import "fmt"

// Constant values. Each satisfies Value so it can appear directly as an
// instruction operand; constants carry a type just like SSA values do.

// ConstInt is a scalar integer (or i1) constant.
type ConstInt struct {
	Ty  *Type
	Val int64
}

func (c ConstInt) Type() *Type    { return c.Ty }
func (c ConstInt) String() string { return fmt.Sprintf("%d", c.Val) }

// ConstFP is a double constant.
type ConstFP struct {
	Val float64
}

func (c ConstFP) Type() *Type    { return TypeF64 }
func (c ConstFP) String() string { return fmt.Sprintf("%g", c.Val) }

// ConstNull is a null pointer of the given pointer type.
type ConstNull struct {
	Ty *Type
}

func (c ConstNull) Type() *Type    { return c.Ty }
func (c ConstNull) String() string { return "null" }

// ConstZero is a zero-aggregate or undef: the data emitter reserves its
// bytes without writing, since the arena is already zero-initialized.
type ConstZero struct {
	Ty *Type
}

func (c ConstZero) Type() *Type    { return c.Ty }
func (c ConstZero) String() string { return "zeroinitializer" }

// ConstGlobalAddr is "&global + offset", resolved via a symbol
// relocation wherever it is emitted (a mov immediate in code, or a
// pointer field in the data segment).
type ConstGlobalAddr struct {
	G      *Global
	Offset int64
}

func (c ConstGlobalAddr) Type() *Type    { return PointerTo(c.G.Ty) }
func (c ConstGlobalAddr) String() string { return fmt.Sprintf("(%s+%d)", c.G, c.Offset) }

// ConstArray is an array-typed aggregate constant.
type ConstArray struct {
	Ty    *Type
	Elems []Value
}

func (c ConstArray) Type() *Type    { return c.Ty }
func (c ConstArray) String() string { return "[array const]" }

// ConstStruct is a struct-typed aggregate constant; padding between
// fields is computed from the data layout at emission time, not stored
// here.
type ConstStruct struct {
	Ty     *Type
	Fields []Value
}

func (c ConstStruct) Type() *Type    { return c.Ty }
func (c ConstStruct) String() string { return "{struct const}" }

// ConstBytes is a packed byte-sequence literal (e.g. a string literal),
// copied verbatim into the data arena.
type ConstBytes struct {
	Ty   *Type
	Data []byte
}

func (c ConstBytes) Type() *Type    { return c.Ty }
func (c ConstBytes) String() string { return fmt.Sprintf("%q", c.Data) }

// ConstExpr is a nested constant expression (getelementptr, bitcast,
// icmp, or a binary op over other constants) that the ConstantExpr
// expansion pass rewrites into an equivalent instruction before any
// use.
type ConstExpr struct {
	Op      Opcode
	Ty      *Type
	Args    []Value
	Pred    ICmpPred // only meaningful when Op == OpICmp
	Indices []Value  // only meaningful when Op == OpGetElementPtr
}

func (c ConstExpr) Type() *Type    { return c.Ty }
func (c ConstExpr) String() string { return "constexpr(" + c.Op.String() + ")" }
