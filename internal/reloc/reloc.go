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

// Package reloc holds the translator's two append-only fixup lists.
// Entries are plain-data records — an arena-relative offset plus a
// target identified by its label or symbol name, never a raw
// pointer — so the tables carry no lifetime dependency on the arenas
// until Apply actually walks them.
package reloc

import "x86jit/internal/assert"

// JumpFixup patches a 4-byte PC-relative displacement inside the code
// arena once the target block's label address is known. The site is
// recorded as the offset of the byte after the 4-byte field, so the
// patched displacement is target minus end-of-field — the value the
// CPU adds to the next instruction's address.
type JumpFixup struct {
	SiteOffset int    // offset in the code arena of the byte *after* the placeholder
	Target     string // mangled block label
}

// SymbolFixup patches a 4-byte field (in code or data) by adding the
// resolved address of Target to the addend already written there.
type SymbolFixup struct {
	SiteOffset int
	InData     bool
	Target     string
}

// Tables collects all pending fixups for one module translation.
type Tables struct {
	Jumps   []JumpFixup
	Symbols []SymbolFixup
}

// AddJump records a jump relocation.
func (t *Tables) AddJump(siteOffsetAfterField int, target string) {
	t.Jumps = append(t.Jumps, JumpFixup{SiteOffset: siteOffsetAfterField, Target: target})
}

// AddSymbol records a symbol relocation.
func (t *Tables) AddSymbol(siteOffset int, inData bool, target string) {
	t.Symbols = append(t.Symbols, SymbolFixup{SiteOffset: siteOffset, InData: inData, Target: target})
}

// Arena is the minimal surface reloc.Apply needs from internal/arena.Arena,
// kept narrow so this package never imports arena (and can be unit
// tested with a fake).
type Arena interface {
	PatchWord32(offset int, v uint32)
	ReadWord32(offset int) uint32
	AddrAt(offset int) uintptr
}

// Apply walks every recorded fixup, patching code and data in place.
// labelAddr resolves a block label to its absolute address; symbolAddr
// resolves a global/function name. Every referenced label and symbol
// must resolve or Apply panics.
func Apply(t *Tables, code, data Arena, labelAddr func(label string) (uintptr, bool), symbolAddr func(name string) (uintptr, bool)) {
	for _, j := range t.Jumps {
		target, ok := labelAddr(j.Target)
		assert.That(ok, "reloc: jump target block %q has no label at fixup time", j.Target)
		patchSite := j.SiteOffset - 4
		disp := int32(int64(target) - int64(code.AddrAt(j.SiteOffset)))
		code.PatchWord32(patchSite, uint32(disp))
	}
	for _, s := range t.Symbols {
		addr, ok := symbolAddr(s.Target)
		assert.That(ok, "reloc: symbol %q is not resolvable at fixup time", s.Target)
		arenaForSite := code
		if s.InData {
			arenaForSite = data
		}
		addend := arenaForSite.ReadWord32(s.SiteOffset)
		arenaForSite.PatchWord32(s.SiteOffset, uint32(uint32(addr)+addend))
	}
}
