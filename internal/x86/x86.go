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

// Package x86 is the instruction emitter: it maps operand-level
// requests ("load this value into EAX", "emit add ecx,eax") to exact
// x86-32 byte sequences, against a three-scratch-register convention
// (EAX/ECX/EDX; every SSA value otherwise lives in a stack slot). It
// owns no IR knowledge — internal/codegen drives it per IR opcode —
// only the byte-level encoding and the relocation bookkeeping a
// forward reference needs. A non-optimizing single-pass JIT has no use
// for a separate LIR stage, so there is none: bytes are emitted
// directly.
package x86

import (
	"x86jit/internal/arena"
	"x86jit/internal/assert"
	"x86jit/internal/reloc"
)

// Reg is an x86-32 general-purpose register, numbered as the ModRM/SIB
// encoding expects.
type Reg byte

const (
	EAX Reg = 0
	ECX Reg = 1
	EDX Reg = 2
	EBX Reg = 3
	ESP Reg = 4
	EBP Reg = 5
	ESI Reg = 6
	EDI Reg = 7
)

// CC is an x86 condition code, the low nibble of the 0x0F 0x80+cc /
// 0x0F 0x90+cc opcode families: EQ=4, NE=5, UGT=7, UGE=3, ULT=2,
// ULE=6, SGT=f, SGE=d, SLT=c, SLE=e.
type CC byte

const (
	CCEq  CC = 0x4
	CCNe  CC = 0x5
	CCUgt CC = 0x7
	CCUge CC = 0x3
	CCUlt CC = 0x2
	CCUle CC = 0x6
	CCSgt CC = 0xf
	CCSge CC = 0xd
	CCSlt CC = 0xc
	CCSle CC = 0xe
)

// Asm emits x86-32 machine code directly into a code arena, recording
// relocations for forward-referenced labels and symbols as it goes.
type Asm struct {
	Code   *arena.Arena
	Data   *arena.Arena
	Relocs *reloc.Tables
}

func modrm(mod, reg, rm byte) byte {
	return (mod << 6) | ((reg & 7) << 3) | (rm & 7)
}

func (a *Asm) b(bytes ...byte) { a.Code.AppendBytes(bytes) }

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// --- register/immediate moves ---

// MovRegImm32 emits `mov $imm, r`.
func (a *Asm) MovRegImm32(r Reg, imm uint32) {
	a.b(0xB8 + byte(r))
	a.b(le32(imm)...)
}

// MovRegImm32Symbol emits `mov $(symbol+addend), r` and records a
// symbol relocation at the immediate field.
func (a *Asm) MovRegImm32Symbol(r Reg, symbol string, addend int32) {
	a.b(0xB8 + byte(r))
	siteBefore := a.Code.Offset()
	a.b(le32(uint32(addend))...)
	a.Relocs.AddSymbol(siteBefore, false, symbol)
}

// MovDataWordSymbol is MovRegImm32Symbol's data-arena counterpart: it
// appends a 4-byte addend word to the data segment and records a
// symbol relocation against it (global initializers holding the
// address of another global).
func (a *Asm) MovDataWordSymbol(addend int32, symbol string) {
	site := a.Data.Offset()
	a.Data.AppendWord32(uint32(addend))
	a.Relocs.AddSymbol(site, true, symbol)
}

// --- arbitrary-base-register memory, 32-bit displacement ---

// emitMem emits opcode followed by the ModRM (+ SIB, when base is ESP —
// rm field 100 always demands a SIB byte regardless of mod, a quirk
// distinct from EBP's rm field 101, which only carries that meaning at
// mod 00 and is otherwise an ordinary base register) and a 32-bit
// displacement.
func (a *Asm) emitMem(opcode byte, regField byte, base Reg, disp int32) {
	a.b(opcode, modrm(2, regField, byte(base)))
	if base == ESP {
		a.b(0x24) // SIB: scale=0, index=none, base=ESP
	}
	a.b(le32(uint32(disp))...)
}

// MovRegMemBase emits `mov disp(base), dst`.
func (a *Asm) MovRegMemBase(dst, base Reg, disp int32) { a.emitMem(0x8B, byte(dst), base, disp) }

// MovMemRegBase emits `mov src, disp(base)`.
func (a *Asm) MovMemRegBase(base Reg, disp int32, src Reg) { a.emitMem(0x89, byte(src), base, disp) }

// LeaRegMemBase emits `lea disp(base), dst`.
func (a *Asm) LeaRegMemBase(dst Reg, base Reg, disp int32) { a.emitMem(0x8D, byte(dst), base, disp) }

// --- frame-pointer-relative memory ---

// MovRegMem emits `mov disp(%ebp), r` (load from a stack slot).
func (a *Asm) MovRegMem(dst Reg, disp int32) { a.MovRegMemBase(dst, EBP, disp) }

// MovMemReg emits `mov r, disp(%ebp)` (spill to a stack slot).
func (a *Asm) MovMemReg(disp int32, src Reg) { a.MovMemRegBase(EBP, disp, src) }

// LeaRegMem emits `lea disp(%ebp), r`.
func (a *Asm) LeaRegMem(dst Reg, disp int32) { a.LeaRegMemBase(dst, EBP, disp) }

// --- indirect (pointer-in-register) memory, sized ---

// LoadIndirect emits a size-prefixed `mov (base), dst` loading the low
// widthBits from the address in base into dst, leaving any bits above
// widthBits as whatever dst already held — a load is a plain truncated
// copy, never an implicit extension; ZExt/SExt mask or extend
// explicitly when the IR actually asks for it.
func (a *Asm) LoadIndirect(dst, base Reg, widthBits int) {
	switch widthBits {
	case 8:
		a.b(0x8A, modrm(0, byte(dst), byte(base)))
	case 16:
		a.b(0x66, 0x8B, modrm(0, byte(dst), byte(base)))
	default:
		a.b(0x8B, modrm(0, byte(dst), byte(base)))
	}
}

// StoreIndirect emits a size-prefixed `mov src, (base)` storing the low
// widthBits of src to the address in base.
func (a *Asm) StoreIndirect(base, src Reg, widthBits int) {
	if widthBits == 16 {
		a.b(0x66) // operand-size prefix
	}
	op := byte(0x89)
	if widthBits == 8 {
		op = 0x88
	}
	a.b(op, modrm(0, byte(src), byte(base)))
}

// --- ALU reg,reg ---

const (
	aluAdd byte = 0x01
	aluOr  byte = 0x09
	aluAnd byte = 0x21
	aluSub byte = 0x29
	aluXor byte = 0x31
	aluCmp byte = 0x39
)

func (a *Asm) aluRR(opcode byte, dst, src Reg) {
	a.b(opcode, modrm(3, byte(src), byte(dst)))
}

func (a *Asm) AddRR(dst, src Reg) { a.aluRR(aluAdd, dst, src) }
func (a *Asm) SubRR(dst, src Reg) { a.aluRR(aluSub, dst, src) }
func (a *Asm) AndRR(dst, src Reg) { a.aluRR(aluAnd, dst, src) }
func (a *Asm) OrRR(dst, src Reg)  { a.aluRR(aluOr, dst, src) }
func (a *Asm) XorRR(dst, src Reg) { a.aluRR(aluXor, dst, src) }

// CmpRR emits `cmp src, dst` (AT&T operand order: flags reflect dst -
// src, i.e. "left operand" dst minus "right operand" src).
func (a *Asm) CmpRR(dst, src Reg) { a.aluRR(aluCmp, dst, src) }

// aluImm32 emits an opcode-0x81 group-1 instruction (`<op> $imm32, r`)
// selected by regField: ADD=0, OR=1, AND=4, SUB=5, XOR=6, CMP=7.
func (a *Asm) aluImm32(regField byte, r Reg, imm uint32) {
	a.b(0x81, modrm(3, regField, byte(r)))
	a.b(le32(imm)...)
}

func (a *Asm) AddRImm32(r Reg, imm uint32) { a.aluImm32(0, r, imm) }
func (a *Asm) AndRImm32(r Reg, imm uint32) { a.aluImm32(4, r, imm) }
func (a *Asm) SubRImm32(r Reg, imm uint32) { a.aluImm32(5, r, imm) }
func (a *Asm) CmpRImm32(r Reg, imm uint32) { a.aluImm32(7, r, imm) }

// MovRR emits `mov src, dst` (register to register).
func (a *Asm) MovRR(dst, src Reg) {
	if dst == src {
		return
	}
	a.b(0x89, modrm(3, byte(src), byte(dst)))
}

// --- mul/div ---

func (a *Asm) MulR(r Reg)  { a.b(0xF7, modrm(3, 4, byte(r))) }
func (a *Asm) DivR(r Reg)  { a.b(0xF7, modrm(3, 6, byte(r))) }
func (a *Asm) IDivR(r Reg) { a.b(0xF7, modrm(3, 7, byte(r))) }
func (a *Asm) Cdq()        { a.b(0x99) }

// --- shifts (count in CL, or an immediate count) ---

func (a *Asm) ShlR(r Reg) { a.b(0xD3, modrm(3, 4, byte(r))) }
func (a *Asm) ShrR(r Reg) { a.b(0xD3, modrm(3, 5, byte(r))) }
func (a *Asm) SarR(r Reg) { a.b(0xD3, modrm(3, 7, byte(r))) }

func (a *Asm) ShlRImm8(r Reg, imm byte) { a.b(0xC1, modrm(3, 4, byte(r)), imm) }
func (a *Asm) SarRImm8(r Reg, imm byte) { a.b(0xC1, modrm(3, 7, byte(r)), imm) }

// --- compare-set / extend ---

// SetCC emits `set<cc> dl`-equivalent for an arbitrary register's low
// byte (only AL/CL/DL/BL are addressable as 8-bit regs without a REX
// prefix, which this encoder never emits).
func (a *Asm) SetCC(cc CC, r Reg) {
	assert.That(r <= EBX, "x86: SetCC needs a low byte-addressable register")
	a.b(0x0F, 0x90+byte(cc), modrm(3, 0, byte(r)))
}

func (a *Asm) MovzxR(dst, src Reg, widthBits int) {
	op := byte(0xB6)
	if widthBits == 16 {
		op = 0xB7
	}
	a.b(0x0F, op, modrm(3, byte(dst), byte(src)))
}

func (a *Asm) MovsxR(dst, src Reg, widthBits int) {
	op := byte(0xBE)
	if widthBits == 16 {
		op = 0xBF
	}
	a.b(0x0F, op, modrm(3, byte(dst), byte(src)))
}

// TestAlImm8 emits `test $imm8, %al`.
func (a *Asm) TestAlImm8(imm8 byte) { a.b(0xA8, imm8) }

// TestRR emits `test src, dst`, setting flags from dst & src without
// altering either — a general whole-register zero check; branch and
// select conditions use TestAlImm8 instead, since an i1 operand may
// carry garbage above bit 0.
func (a *Asm) TestRR(dst, src Reg) { a.b(0x85, modrm(3, byte(src), byte(dst))) }

// --- control flow ---

// JmpRel32 emits `jmp rel32` to target, recording a jump relocation
// since the label's address may not be known yet.
func (a *Asm) JmpRel32(target string) {
	a.b(0xE9)
	a.Code.AppendWord32(0)
	a.Relocs.AddJump(a.Code.Offset(), target)
}

// JccRel32 emits a two-byte-opcode `j<cc> rel32` to target.
func (a *Asm) JccRel32(cc CC, target string) {
	a.b(0x0F, 0x80+byte(cc))
	a.Code.AppendWord32(0)
	a.Relocs.AddJump(a.Code.Offset(), target)
}

// CallIndirect emits `call *r`.
func (a *Asm) CallIndirect(r Reg) { a.b(0xFF, modrm(3, 2, byte(r))) }

func (a *Asm) Ret()   { a.b(0xC3) }
func (a *Asm) Leave() { a.b(0xC9) }
func (a *Asm) Hlt()   { a.b(0xF4) }

func (a *Asm) Push(r Reg) { a.b(0x50 + byte(r)) }
func (a *Asm) Pop(r Reg)  { a.b(0x58 + byte(r)) }

func (a *Asm) SubEspImm32(imm uint32) {
	a.b(0x81, modrm(3, 5, byte(ESP)))
	a.b(le32(imm)...)
}

func (a *Asm) AddEspImm32(imm uint32) {
	a.b(0x81, modrm(3, 0, byte(ESP)))
	a.b(le32(imm)...)
}

// LeaEspDisp stores esp+disp's effective address into r (lea) — used by
// Alloca to point past the outgoing callee-argument area at the bottom
// of the stack.
func (a *Asm) LeaEspDisp(dst Reg, disp int32) { a.LeaRegMemBase(dst, ESP, disp) }

// --- x87 (double return only; FP arithmetic is not generated) ---

// FldQwordMem emits `fld qword ptr disp(%ebp)`.
func (a *Asm) FldQwordMem(disp int32) {
	a.b(0xDD, modrm(2, 0, byte(EBP)))
	a.b(le32(uint32(disp))...)
}

// FstpQwordMem emits `fstp qword ptr disp(%ebp)`, popping the x87 top
// of stack into a stack slot — the caller side of a double-returning
// call, mirroring FldQwordMem's callee side.
func (a *Asm) FstpQwordMem(disp int32) {
	a.b(0xDD, modrm(2, 3, byte(EBP)))
	a.b(le32(uint32(disp))...)
}

// FldQwordAbs emits `fld qword ptr addr`, a direct (base-less, disp32)
// absolute address — used to load a double constant that has no stack
// slot, staged instead in the data arena, which (unlike the stack) sits
// at a fixed address for the arena's whole lifetime.
func (a *Asm) FldQwordAbs(addr uint32) {
	a.b(0xDD, modrm(0, 0, 5))
	a.b(le32(addr)...)
}

// --- prologue/epilogue ---

// Prologue emits `push %ebp; mov %esp, %ebp; sub $frameSize, %esp`.
func (a *Asm) Prologue(frameSize uint32) {
	a.Push(EBP)
	a.b(0x89, modrm(3, byte(ESP), byte(EBP)))
	if frameSize != 0 {
		a.SubEspImm32(frameSize)
	}
}

// Epilogue emits `leave; ret`.
func (a *Asm) Epilogue() {
	a.Leave()
	a.Ret()
}
