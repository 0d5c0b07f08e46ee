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
	"x86jit/internal/x86"
)

// ccFor maps an icmp predicate to its x86 condition code.
func ccFor(pred ir.ICmpPred) x86.CC {
	switch pred {
	case ir.ICmpEQ:
		return x86.CCEq
	case ir.ICmpNE:
		return x86.CCNe
	case ir.ICmpUGT:
		return x86.CCUgt
	case ir.ICmpUGE:
		return x86.CCUge
	case ir.ICmpULT:
		return x86.CCUlt
	case ir.ICmpULE:
		return x86.CCUle
	case ir.ICmpSGT:
		return x86.CCSgt
	case ir.ICmpSGE:
		return x86.CCSge
	case ir.ICmpSLT:
		return x86.CCSlt
	case ir.ICmpSLE:
		return x86.CCSle
	}
	assert.ShouldNotReachHere("codegen: unknown icmp predicate")
	return 0
}

// i64BinopSymbol maps a 64-bit-wide binop to its rtsupport helper name.
func i64BinopSymbol(op ir.Opcode) string {
	switch op {
	case ir.OpAdd:
		return symI64Add
	case ir.OpSub:
		return symI64Sub
	case ir.OpMul:
		return symI64Mul
	case ir.OpUDiv:
		return symI64UDiv
	case ir.OpURem:
		return symI64URem
	case ir.OpSDiv:
		return symI64SDiv
	case ir.OpSRem:
		return symI64SRem
	case ir.OpAnd:
		return symI64And
	case ir.OpOr:
		return symI64Or
	case ir.OpXor:
		return symI64Xor
	case ir.OpShl:
		return symI64Shl
	case ir.OpLShr:
		return symI64LShr
	case ir.OpAShr:
		return symI64AShr
	}
	assert.ShouldNotReachHere("codegen: opcode has no i64 runtime helper")
	return ""
}

// i64CmpSymbol maps an icmp predicate over i64 operands to its
// rtsupport comparison helper name.
func i64CmpSymbol(pred ir.ICmpPred) string {
	switch pred {
	case ir.ICmpEQ:
		return symI64CmpEQ
	case ir.ICmpNE:
		return symI64CmpNE
	case ir.ICmpUGT:
		return symI64CmpUGT
	case ir.ICmpUGE:
		return symI64CmpUGE
	case ir.ICmpULT:
		return symI64CmpULT
	case ir.ICmpULE:
		return symI64CmpULE
	case ir.ICmpSGT:
		return symI64CmpSGT
	case ir.ICmpSGE:
		return symI64CmpSGE
	case ir.ICmpSLT:
		return symI64CmpSLT
	case ir.ICmpSLE:
		return symI64CmpSLE
	}
	assert.ShouldNotReachHere("codegen: unknown icmp predicate")
	return ""
}

// memIntrinsicSymbol maps a memory intrinsic to its rtsupport helper
// name — the same names internal/rewrite's ExpandMemIntrinsics pass
// binds an equivalent OpCall's callee to.
func memIntrinsicSymbol(kind ir.IntrinsicKind) string {
	switch kind {
	case ir.IntrinsicMemcpy:
		return symMemcpy
	case ir.IntrinsicMemmove:
		return symMemmove
	case ir.IntrinsicMemset:
		return symMemset
	}
	assert.ShouldNotReachHere("codegen: not a memory intrinsic")
	return ""
}

// atomicSymbol maps an atomicrmw operation to its rtsupport helper name.
// Only 32-bit-wide atomics are supported, matching rtsupport's helper
// set; a 64-bit RMW is rejected rather than silently truncated.
func atomicSymbol(op ir.AtomicOp) string {
	switch op {
	case ir.AtomicXchg:
		return symAtomicXchg
	case ir.AtomicAdd:
		return symAtomicAdd
	case ir.AtomicSub:
		return symAtomicSub
	case ir.AtomicAnd:
		return symAtomicAnd
	case ir.AtomicNand:
		return symAtomicNand
	case ir.AtomicOr:
		return symAtomicOr
	case ir.AtomicXor:
		return symAtomicXor
	case ir.AtomicMax:
		return symAtomicMax
	case ir.AtomicMin:
		return symAtomicMin
	case ir.AtomicUMax:
		return symAtomicUMax
	case ir.AtomicUMin:
		return symAtomicUMin
	}
	assert.ShouldNotReachHere("codegen: unknown atomicrmw operation")
	return ""
}
