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

// Package arena implements the two fixed-size, page-aligned byte buffers
// the translator emits into: one executable (code), one not (data). Both
// are grow-only cursors over a region whose absolute address is stable
// for the arena's lifetime — no byte is ever moved or freed, and the
// cursor never passes the buffer end.
package arena

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"

	"x86jit/internal/assert"
)

// DefaultCodeArenaSize and DefaultDataArenaSize are a fixed 16 MiB per
// arena: large enough that every symbol has a known absolute address
// the instant it is written, so only forward jumps and forward
// references to not-yet-emitted globals/functions need recorded fixups.
const (
	DefaultCodeArenaSize = 16 * 1024 * 1024
	DefaultDataArenaSize = 16 * 1024 * 1024
)

// Kind selects the arena's memory protection.
type Kind int

const (
	// Code arenas are read/write/execute: generated machine code lives
	// here and is invoked directly through a function pointer.
	Code Kind = iota
	// Data arenas are read/write only: globals and interned constants.
	Data
)

// Arena is a grow-only byte buffer with a known base address.
type Arena struct {
	mem    []byte
	cursor int
	base   uintptr
	kind   Kind
}

// New mmaps size bytes with the protection appropriate for kind.
func New(kind Kind, size int) (*Arena, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if kind == Code {
		prot |= unix.PROT_EXEC
	}
	mem, err := unix.Mmap(-1, 0, size, prot, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &Arena{
		mem:  mem,
		base: uintptr(unsafe.Pointer(&mem[0])),
		kind: kind,
	}, nil
}

// Close unmaps the underlying memory. The caller must not touch any
// address derived from this arena afterward.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

// Base returns the arena's absolute start address.
func (a *Arena) Base() uintptr { return a.base }

// Cursor returns the absolute address the next write would land at.
func (a *Arena) Cursor() uintptr { return a.base + uintptr(a.cursor) }

// Offset returns the current cursor position relative to Base.
func (a *Arena) Offset() int { return a.cursor }

// Len returns the number of bytes written so far.
func (a *Arena) Len() int { return a.cursor }

// AddrAt returns the absolute address of the byte at the given offset.
func (a *Arena) AddrAt(offset int) uintptr { return a.base + uintptr(offset) }

// Reserve advances the cursor by n bytes (left zeroed — the arena is
// already zero-initialized by mmap) and returns the absolute address of
// the first reserved byte. Aborts if the arena would overflow — the
// arenas are oversized up front, so running out is a configuration
// error, not a routine failure to recover from.
func (a *Arena) Reserve(n int) uintptr {
	assert.That(a.cursor+n <= len(a.mem), "arena: out of space (kind=%d, want %d more, have %d)", a.kind, n, len(a.mem)-a.cursor)
	addr := a.AddrAt(a.cursor)
	a.cursor += n
	return addr
}

// AppendByte writes one byte at the cursor and advances it.
func (a *Arena) AppendByte(b byte) uintptr {
	addr := a.Reserve(1)
	a.mem[a.cursor-1] = b
	return addr
}

// AppendBytes copies buf at the cursor and advances it.
func (a *Arena) AppendBytes(buf []byte) uintptr {
	addr := a.Reserve(len(buf))
	copy(a.mem[a.cursor-len(buf):a.cursor], buf)
	return addr
}

// AppendWord16 writes a little-endian 16-bit word at the cursor.
func (a *Arena) AppendWord16(v uint16) uintptr {
	addr := a.Reserve(2)
	binary.LittleEndian.PutUint16(a.mem[a.cursor-2:a.cursor], v)
	return addr
}

// AppendWord32 writes a little-endian 32-bit word at the cursor.
func (a *Arena) AppendWord32(v uint32) uintptr {
	addr := a.Reserve(4)
	binary.LittleEndian.PutUint32(a.mem[a.cursor-4:a.cursor], v)
	return addr
}

// AppendWord64 writes a little-endian 64-bit word at the cursor.
func (a *Arena) AppendWord64(v uint64) uintptr {
	addr := a.Reserve(8)
	binary.LittleEndian.PutUint64(a.mem[a.cursor-8:a.cursor], v)
	return addr
}

// PatchWord32 overwrites the 4-byte field at offset with v. Used by the
// relocation fixup pass once every symbol/label address is known.
func (a *Arena) PatchWord32(offset int, v uint32) {
	assert.That(offset >= 0 && offset+4 <= len(a.mem), "arena: patch site %d out of range", offset)
	binary.LittleEndian.PutUint32(a.mem[offset:offset+4], v)
}

// ReadWord32 reads the 4-byte field at offset (the already-written
// addend a symbol relocation adds the resolved address into).
func (a *Arena) ReadWord32(offset int) uint32 {
	return binary.LittleEndian.Uint32(a.mem[offset : offset+4])
}

// PatchByte overwrites a single byte at offset.
func (a *Arena) PatchByte(offset int, b byte) {
	assert.That(offset >= 0 && offset < len(a.mem), "arena: patch site %d out of range", offset)
	a.mem[offset] = b
}

// Bytes exposes the written prefix of the arena, for tests and
// dump_code diagnostics.
func (a *Arena) Bytes() []byte { return a.mem[:a.cursor] }

// Slice returns the bytes between two absolute addresses previously
// handed out by this arena, for dump_code diagnostics.
func (a *Arena) Slice(fromAddr, toAddr uintptr) []byte {
	from := int(fromAddr - a.base)
	to := int(toAddr - a.base)
	assert.That(from >= 0 && to <= len(a.mem) && from <= to, "arena: slice [%d:%d) out of range", from, to)
	return a.mem[from:to]
}
