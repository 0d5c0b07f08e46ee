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

// Package datalayout computes type sizes and struct field offsets for
// the target (x86-32, little-endian, natural alignment). A parser
// host library would normally supply this surface alongside the IR
// model; this package implements it directly since this repo also
// owns ir.Type.
package datalayout

import (
	"x86jit/internal/assert"
	"x86jit/internal/ir"
)

// PointerSize is fixed at 4 bytes: x86-32 throughout.
const PointerSize = 4

// SizeOf returns the allocation size, in bytes, of t.
func SizeOf(t *ir.Type) int {
	switch t.Kind {
	case ir.Int1, ir.Int8:
		return 1
	case ir.Int16:
		return 2
	case ir.Int32, ir.Pointer:
		return 4
	case ir.Int64, ir.Double:
		return 8
	case ir.Array:
		return SizeOf(t.Elem) * t.Len
	case ir.Struct:
		off := 0
		for _, f := range t.Fields {
			off = AlignUp(off, AlignOf(f))
			off += SizeOf(f)
		}
		return AlignUp(off, AlignOf(t))
	case ir.Void:
		return 0
	}
	assert.ShouldNotReachHere("datalayout.SizeOf: unknown type kind")
	return 0
}

// AlignOf returns the natural alignment of t.
func AlignOf(t *ir.Type) int {
	switch t.Kind {
	case ir.Int1, ir.Int8:
		return 1
	case ir.Int16:
		return 2
	case ir.Int32, ir.Pointer:
		return 4
	case ir.Int64, ir.Double:
		return 4 // x86-32 SysV: 8-byte ints/doubles align to 4, not 8
	case ir.Array:
		return AlignOf(t.Elem)
	case ir.Struct:
		max := 1
		for _, f := range t.Fields {
			if a := AlignOf(f); a > max {
				max = a
			}
		}
		return max
	}
	return 1
}

// AlignUp rounds n up to the next multiple of align.
func AlignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// FieldOffset returns the byte offset of struct field index idx within
// a value of struct type t.
func FieldOffset(t *ir.Type, idx int) int {
	assert.That(t.Kind == ir.Struct, "datalayout.FieldOffset: not a struct type")
	off := 0
	for i, f := range t.Fields {
		off = AlignUp(off, AlignOf(f))
		if i == idx {
			return off
		}
		off += SizeOf(f)
	}
	assert.ShouldNotReachHere("datalayout.FieldOffset: index out of range")
	return 0
}

// FieldType returns the type of struct field index idx.
func FieldType(t *ir.Type, idx int) *ir.Type {
	assert.That(t.Kind == ir.Struct && idx >= 0 && idx < len(t.Fields), "datalayout.FieldType: bad field index")
	return t.Fields[idx]
}
