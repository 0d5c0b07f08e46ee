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

package x86

import (
	"bytes"
	"testing"

	"x86jit/internal/arena"
	"x86jit/internal/reloc"
)

// newAsm returns an emitter over small fresh arenas.
func newAsm(t *testing.T) *Asm {
	t.Helper()
	code, err := arena.New(arena.Code, 1<<12)
	if err != nil {
		t.Fatalf("allocate code arena: %v", err)
	}
	data, err := arena.New(arena.Data, 1<<12)
	if err != nil {
		t.Fatalf("allocate data arena: %v", err)
	}
	t.Cleanup(func() { code.Close(); data.Close() })
	return &Asm{Code: code, Data: data, Relocs: &reloc.Tables{}}
}

func checkBytes(t *testing.T, a *Asm, want []byte) {
	t.Helper()
	if got := a.Code.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("emitted % x, want % x", got, want)
	}
}

// TestPrologueEncoding pins the byte sequence every function starts
// with: push %ebp; mov %esp, %ebp; sub $frame, %esp.
func TestPrologueEncoding(t *testing.T) {
	a := newAsm(t)
	a.Prologue(0x20)
	checkBytes(t, a, []byte{
		0x55,             // push %ebp
		0x89, 0xE5,       // mov %esp, %ebp
		0x81, 0xEC, 0x20, 0x00, 0x00, 0x00, // sub $0x20, %esp
	})
}

// TestPrologueZeroFrameOmitsSub checks a zero frame skips the sub.
func TestPrologueZeroFrameOmitsSub(t *testing.T) {
	a := newAsm(t)
	a.Prologue(0)
	checkBytes(t, a, []byte{0x55, 0x89, 0xE5})
}

// TestFramePointerMoves pins the disp32 EBP-relative load/store/lea
// forms every slot access uses.
func TestFramePointerMoves(t *testing.T) {
	a := newAsm(t)
	a.MovRegMem(EAX, -8)
	a.MovMemReg(-8, ECX)
	a.LeaRegMem(EDX, 12)
	checkBytes(t, a, []byte{
		0x8B, 0x85, 0xF8, 0xFF, 0xFF, 0xFF, // mov -8(%ebp), %eax
		0x89, 0x8D, 0xF8, 0xFF, 0xFF, 0xFF, // mov %ecx, -8(%ebp)
		0x8D, 0x95, 0x0C, 0x00, 0x00, 0x00, // lea 12(%ebp), %edx
	})
}

// TestEspBaseAlwaysCarriesSIB checks the rm=100 quirk: any ESP-based
// memory operand needs a trailing SIB byte, at every mod value.
func TestEspBaseAlwaysCarriesSIB(t *testing.T) {
	a := newAsm(t)
	a.MovMemRegBase(ESP, 4, ECX)
	checkBytes(t, a, []byte{
		0x89, 0x8C, 0x24, 0x04, 0x00, 0x00, 0x00, // mov %ecx, 4(%esp)
	})
}

// TestSizedIndirectLoads pins the three load widths: 0x8A for bytes,
// 0x66-prefixed 0x8B for words, bare 0x8B for dwords.
func TestSizedIndirectLoads(t *testing.T) {
	a := newAsm(t)
	a.LoadIndirect(ECX, EAX, 8)
	a.LoadIndirect(ECX, EAX, 16)
	a.LoadIndirect(ECX, EAX, 32)
	checkBytes(t, a, []byte{
		0x8A, 0x08,       // mov (%eax), %cl
		0x66, 0x8B, 0x08, // mov (%eax), %cx
		0x8B, 0x08,       // mov (%eax), %ecx
	})
}

// TestSizedIndirectStores mirrors TestSizedIndirectLoads for 0x88/0x89.
func TestSizedIndirectStores(t *testing.T) {
	a := newAsm(t)
	a.StoreIndirect(EDX, EAX, 8)
	a.StoreIndirect(EDX, EAX, 16)
	a.StoreIndirect(EDX, EAX, 32)
	checkBytes(t, a, []byte{
		0x88, 0x02,       // mov %al, (%edx)
		0x66, 0x89, 0x02, // mov %ax, (%edx)
		0x89, 0x02,       // mov %eax, (%edx)
	})
}

// TestSetCCEncoding pins the two-byte 0x0F 0x90+cc setcc form and the
// condition-code numbering the icmp predicate table depends on.
func TestSetCCEncoding(t *testing.T) {
	a := newAsm(t)
	a.SetCC(CCEq, EDX)
	a.SetCC(CCSlt, EAX)
	checkBytes(t, a, []byte{
		0x0F, 0x94, 0xC2, // sete %dl
		0x0F, 0x9C, 0xC0, // setl %al
	})
}

// TestTestAlImm8Encoding pins the single-byte-operand test used for i1
// branch/select conditions (only bit 0 of %al is examined).
func TestTestAlImm8Encoding(t *testing.T) {
	a := newAsm(t)
	a.TestAlImm8(1)
	checkBytes(t, a, []byte{0xA8, 0x01})
}

// TestJmpRel32RecordsRelocation checks the jump emits a zeroed
// placeholder and books the site as the offset *after* the 4-byte
// field, the convention reloc.Apply subtracts from.
func TestJmpRel32RecordsRelocation(t *testing.T) {
	a := newAsm(t)
	a.JmpRel32("f.target")
	checkBytes(t, a, []byte{0xE9, 0x00, 0x00, 0x00, 0x00})

	if len(a.Relocs.Jumps) != 1 {
		t.Fatalf("recorded %d jump fixups, want 1", len(a.Relocs.Jumps))
	}
	j := a.Relocs.Jumps[0]
	if j.SiteOffset != a.Code.Offset() {
		t.Errorf("jump fixup site = %d, want the offset after the field (%d)", j.SiteOffset, a.Code.Offset())
	}
	if j.Target != "f.target" {
		t.Errorf("jump fixup target = %q, want %q", j.Target, "f.target")
	}
}

// TestMovRegImm32SymbolRecordsRelocation checks the addend lands in the
// immediate field and the fixup points at that field in the code arena.
func TestMovRegImm32SymbolRecordsRelocation(t *testing.T) {
	a := newAsm(t)
	a.MovRegImm32Symbol(EAX, "some_global", 16)
	checkBytes(t, a, []byte{0xB8, 0x10, 0x00, 0x00, 0x00})

	if len(a.Relocs.Symbols) != 1 {
		t.Fatalf("recorded %d symbol fixups, want 1", len(a.Relocs.Symbols))
	}
	s := a.Relocs.Symbols[0]
	if s.InData {
		t.Errorf("symbol fixup marked in-data for a code-arena site")
	}
	if s.SiteOffset != 1 {
		t.Errorf("symbol fixup site = %d, want 1 (the immediate field)", s.SiteOffset)
	}
	if s.Target != "some_global" {
		t.Errorf("symbol fixup target = %q, want %q", s.Target, "some_global")
	}
}

// TestMovRegImm32Encoding pins the 0xB8+reg short form.
func TestMovRegImm32Encoding(t *testing.T) {
	a := newAsm(t)
	a.MovRegImm32(ECX, 0x11223344)
	checkBytes(t, a, []byte{0xB9, 0x44, 0x33, 0x22, 0x11})
}

// TestMovRRSameRegisterIsElided checks mov r,r emits nothing.
func TestMovRRSameRegisterIsElided(t *testing.T) {
	a := newAsm(t)
	a.MovRR(EAX, EAX)
	if got := len(a.Code.Bytes()); got != 0 {
		t.Errorf("mov %%eax, %%eax emitted %d bytes, want 0", got)
	}
}
