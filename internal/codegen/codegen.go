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

// Package codegen is the module driver: given an IR module it runs the
// rewrite passes, lays out every global, translates every defined
// function to machine code, patches every relocation, and exposes the
// result as a name -> address symbol table. It is the one place that
// sequences internal/rewrite, internal/layout, internal/x86,
// internal/reloc and internal/arena against each other, in that fixed
// order, once per module.
package codegen

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"

	"x86jit/internal/arena"
	"x86jit/internal/assert"
	"x86jit/internal/datalayout"
	"x86jit/internal/ir"
	"x86jit/internal/nativefunc"
	"x86jit/internal/obslog"
	"x86jit/internal/reloc"
	"x86jit/internal/rewrite"
	"x86jit/internal/rtsupport"
	"x86jit/internal/x86"
)

// CodeGenOptions configures a Module. The zero value is usable: default
// arena sizes, a discarding logger, no extra intrinsic bindings.
type CodeGenOptions struct {
	CodeArenaSize int
	DataArenaSize int

	// Log receives per-function translation diagnostics. Unsupported-
	// construct failures always go directly to os.Stderr at invocation
	// time via rtsupport; Log additionally gets a structured record of
	// each such site.
	Log *slog.Logger

	// IntrinsicBindings supplies the absolute address bound to an
	// IntrinsicReadTP-style platform intrinsic that the IR references by
	// kind rather than by callee, since this repository has no one
	// canonical implementation of "read the thread pointer" the way it
	// does for memcpy/memmove/memset.
	IntrinsicBindings map[ir.IntrinsicKind]uintptr

	// DumpCode: after each function is emitted its byte range is
	// written to a temp file and handed to the system disassembler,
	// best-effort, diagnostic only.
	DumpCode bool

	// TraceLogging: every function entry and every basic block emits a
	// runtime log call naming itself.
	TraceLogging bool
}

// Module is one JIT translation unit: a pair of arenas, the pending
// relocation tables, and the symbol table they resolve into.
type Module struct {
	opts CodeGenOptions

	Code   *arena.Arena
	Data   *arena.Arena
	relocs *reloc.Tables
	x86    *x86.Asm

	symbols map[string]uintptr
	labels  map[string]uintptr
}

// asm returns the module's instruction emitter.
func (m *Module) asm() *x86.Asm { return m.x86 }

// The fixed names codegen uses to call an internal/rtsupport helper by
// absolute address: the strings a relocation's Target carries. Apart
// from memcpy/memmove/memset, which internal/rewrite declares as IR
// functions, none of them is an externally visible IR name.
const (
	symMemcpy  = "memcpy"
	symMemmove = "memmove"
	symMemset  = "memset"

	symI64Add  = "__x86jit.i64.add"
	symI64Sub  = "__x86jit.i64.sub"
	symI64Mul  = "__x86jit.i64.mul"
	symI64UDiv = "__x86jit.i64.udiv"
	symI64URem = "__x86jit.i64.urem"
	symI64SDiv = "__x86jit.i64.sdiv"
	symI64SRem = "__x86jit.i64.srem"
	symI64And  = "__x86jit.i64.and"
	symI64Or   = "__x86jit.i64.or"
	symI64Xor  = "__x86jit.i64.xor"
	symI64Shl  = "__x86jit.i64.shl"
	symI64LShr = "__x86jit.i64.lshr"
	symI64AShr = "__x86jit.i64.ashr"

	symI64CmpEQ  = "__x86jit.i64.cmp.eq"
	symI64CmpNE  = "__x86jit.i64.cmp.ne"
	symI64CmpUGT = "__x86jit.i64.cmp.ugt"
	symI64CmpUGE = "__x86jit.i64.cmp.uge"
	symI64CmpULT = "__x86jit.i64.cmp.ult"
	symI64CmpULE = "__x86jit.i64.cmp.ule"
	symI64CmpSGT = "__x86jit.i64.cmp.sgt"
	symI64CmpSGE = "__x86jit.i64.cmp.sge"
	symI64CmpSLT = "__x86jit.i64.cmp.slt"
	symI64CmpSLE = "__x86jit.i64.cmp.sle"

	symAtomicXchg = "__x86jit.atomicrmw.xchg"
	symAtomicAdd  = "__x86jit.atomicrmw.add"
	symAtomicSub  = "__x86jit.atomicrmw.sub"
	symAtomicAnd  = "__x86jit.atomicrmw.and"
	symAtomicNand = "__x86jit.atomicrmw.nand"
	symAtomicOr   = "__x86jit.atomicrmw.or"
	symAtomicXor  = "__x86jit.atomicrmw.xor"
	symAtomicMax  = "__x86jit.atomicrmw.max"
	symAtomicMin  = "__x86jit.atomicrmw.min"
	symAtomicUMax = "__x86jit.atomicrmw.umax"
	symAtomicUMin = "__x86jit.atomicrmw.umin"

	symTLSInit = "__x86jit.tls.init"
	symTLSGet  = "__x86jit.tls.get"

	symUnhandledCase  = "__x86jit.unhandled_case"
	symTraceFnEntry   = "__x86jit.trace.fn_entry"
	symTraceBlkEntry  = "__x86jit.trace.block_entry"
)

// New allocates the code and data arenas and seeds the symbol table
// with every runtime helper internal/rtsupport provides.
func New(opts CodeGenOptions) (*Module, error) {
	if opts.CodeArenaSize == 0 {
		opts.CodeArenaSize = arena.DefaultCodeArenaSize
	}
	if opts.DataArenaSize == 0 {
		opts.DataArenaSize = arena.DefaultDataArenaSize
	}
	if opts.Log == nil {
		opts.Log = obslog.Discard
	}

	code, err := arena.New(arena.Code, opts.CodeArenaSize)
	if err != nil {
		return nil, fmt.Errorf("codegen: allocate code arena: %w", err)
	}
	data, err := arena.New(arena.Data, opts.DataArenaSize)
	if err != nil {
		code.Close()
		return nil, fmt.Errorf("codegen: allocate data arena: %w", err)
	}

	relocs := &reloc.Tables{}
	m := &Module{
		opts:    opts,
		Code:    code,
		Data:    data,
		relocs:  relocs,
		x86:     &x86.Asm{Code: code, Data: data, Relocs: relocs},
		symbols: map[string]uintptr{},
		labels:  map[string]uintptr{},
	}
	m.bindRuntimeHelpers()
	for kind, addr := range opts.IntrinsicBindings {
		m.symbols[intrinsicSymbolName(kind)] = addr
	}
	return m, nil
}

func intrinsicSymbolName(kind ir.IntrinsicKind) string {
	return fmt.Sprintf("__x86jit.intrinsic.%d", int(kind))
}

func (m *Module) bindRuntimeHelpers() {
	bind := func(name string, fn interface{}) { m.symbols[name] = nativefunc.AddressOf(fn) }

	bind(symMemcpy, rtsupport.Memcpy)
	bind(symMemmove, rtsupport.Memmove)
	bind(symMemset, rtsupport.Memset)

	bind(symI64Add, rtsupport.I64Add)
	bind(symI64Sub, rtsupport.I64Sub)
	bind(symI64Mul, rtsupport.I64Mul)
	bind(symI64UDiv, rtsupport.I64UDiv)
	bind(symI64URem, rtsupport.I64URem)
	bind(symI64SDiv, rtsupport.I64SDiv)
	bind(symI64SRem, rtsupport.I64SRem)
	bind(symI64And, rtsupport.I64And)
	bind(symI64Or, rtsupport.I64Or)
	bind(symI64Xor, rtsupport.I64Xor)
	bind(symI64Shl, rtsupport.I64Shl)
	bind(symI64LShr, rtsupport.I64LShr)
	bind(symI64AShr, rtsupport.I64AShr)

	bind(symI64CmpEQ, rtsupport.I64CmpEQ)
	bind(symI64CmpNE, rtsupport.I64CmpNE)
	bind(symI64CmpUGT, rtsupport.I64CmpUGT)
	bind(symI64CmpUGE, rtsupport.I64CmpUGE)
	bind(symI64CmpULT, rtsupport.I64CmpULT)
	bind(symI64CmpULE, rtsupport.I64CmpULE)
	bind(symI64CmpSGT, rtsupport.I64CmpSGT)
	bind(symI64CmpSGE, rtsupport.I64CmpSGE)
	bind(symI64CmpSLT, rtsupport.I64CmpSLT)
	bind(symI64CmpSLE, rtsupport.I64CmpSLE)

	bind(symAtomicXchg, rtsupport.AtomicRMW32Xchg)
	bind(symAtomicAdd, rtsupport.AtomicRMW32Add)
	bind(symAtomicSub, rtsupport.AtomicRMW32Sub)
	bind(symAtomicAnd, rtsupport.AtomicRMW32And)
	bind(symAtomicNand, rtsupport.AtomicRMW32Nand)
	bind(symAtomicOr, rtsupport.AtomicRMW32Or)
	bind(symAtomicXor, rtsupport.AtomicRMW32Xor)
	bind(symAtomicMax, rtsupport.AtomicRMW32Max)
	bind(symAtomicMin, rtsupport.AtomicRMW32Min)
	bind(symAtomicUMax, rtsupport.AtomicRMW32UMax)
	bind(symAtomicUMin, rtsupport.AtomicRMW32UMin)

	bind(symTLSInit, rtsupport.TLSInit)
	bind(symTLSGet, rtsupport.TLSGet)

	// The thread-pointer-read intrinsic defaults to the TLS-get helper;
	// CodeGenOptions.IntrinsicBindings (installed after this runs)
	// overrides it for embeddings with their own thread-pointer scheme.
	bind(intrinsicSymbolName(ir.IntrinsicReadTP), rtsupport.TLSGet)

	bind(symUnhandledCase, rtsupport.RuntimeUnhandledCase)
	bind(symTraceFnEntry, rtsupport.TraceFunctionEntry)
	bind(symTraceBlkEntry, rtsupport.TraceBlockEntry)
}

// Symbol resolves a name (a global, a defined function, or one of the
// fixed runtime-helper names above) to its absolute address.
func (m *Module) Symbol(name string) (uintptr, bool) {
	addr, ok := m.symbols[name]
	return addr, ok
}

// Translate rewrites irMod in place, emits every global and function
// into this Module's arenas, and applies every recorded relocation.
// Safe to call at most once per Module: a second call would re-run the
// rewrite passes over an already-rewritten module.
func (m *Module) Translate(irMod *ir.Module) error {
	// Invariant violations are bugs, not recoverable conditions: log
	// them for context, then keep the abort.
	defer func() {
		if r := recover(); r != nil {
			m.opts.Log.Error("translation aborted on invariant violation", "panic", r)
			panic(r)
		}
	}()

	rewrite.Pipeline{}.Run(irMod)

	for _, g := range irMod.Globals {
		if g.Init == nil {
			if m.hasSymbol(g.Name) {
				continue
			}
			// Only the fixed extern-weak whitelist is tolerated
			// unbound; it resolves to address 0.
			assert.That(g.Linkage == ir.LinkageWeak && ir.KnownWeakExternals[g.Name],
				"codegen: disallowed extern symbol %q", g.Name)
			m.symbols[g.Name] = 0
			continue
		}
		addr := m.layoutGlobal(g.Init)
		m.symbols[g.Name] = addr
	}

	for _, fn := range irMod.Funcs {
		if fn.Blocks == nil {
			assert.That(m.hasSymbol(fn.Name), "codegen: external function %q has no bound address", fn.Name)
			continue
		}
		if err := m.translateFunction(fn); err != nil {
			return err
		}
	}

	reloc.Apply(m.relocs, m.Code, m.Data,
		func(label string) (uintptr, bool) { a, ok := m.labels[label]; return a, ok },
		func(name string) (uintptr, bool) { return m.Symbol(name) },
	)
	return nil
}

func (m *Module) hasSymbol(name string) bool { _, ok := m.symbols[name]; return ok }

// blockLabel mangles a block into a module-unique relocation target.
func blockLabel(fn *ir.Function, b *ir.Block) string { return fn.Name + "." + b.Name }

// layoutGlobal writes a constant's bytes into the data arena (recursing
// through aggregates) and returns its address.
func (m *Module) layoutGlobal(v ir.Value) uintptr {
	switch c := v.(type) {
	case ir.ConstZero:
		return m.Data.Reserve(datalayout.SizeOf(c.Ty))
	case ir.ConstInt:
		// Written at the type's allocation size so aggregate elements
		// stay at their data-layout offsets.
		switch datalayout.SizeOf(c.Ty) {
		case 1:
			return m.Data.AppendByte(byte(c.Val))
		case 2:
			return m.Data.AppendWord16(uint16(c.Val))
		case 8:
			return m.Data.AppendWord64(uint64(c.Val))
		default:
			return m.Data.AppendWord32(uint32(c.Val))
		}
	case ir.ConstFP:
		return m.Data.AppendWord64(math.Float64bits(c.Val))
	case ir.ConstNull:
		return m.Data.AppendWord32(0)
	case ir.ConstBytes:
		return m.Data.AppendBytes(c.Data)
	case ir.ConstGlobalAddr:
		site := m.Data.Offset()
		m.Data.AppendWord32(uint32(c.Offset))
		m.relocs.AddSymbol(site, true, c.G.Name)
		return m.Data.AddrAt(site)
	case ir.ConstArray:
		start := m.Data.Offset()
		first := true
		var base uintptr
		for _, e := range c.Elems {
			a := m.layoutGlobal(e)
			if first {
				base = a
				first = false
			}
		}
		if len(c.Elems) == 0 {
			base = m.Data.AddrAt(start)
		}
		return base
	case ir.ConstStruct:
		start := m.Data.Offset()
		for i, f := range c.Fields {
			want := datalayout.FieldOffset(c.Ty, i)
			pad := (start + want) - m.Data.Offset()
			for pad > 0 {
				m.Data.AppendByte(0)
				pad--
			}
			m.layoutGlobal(f)
		}
		end := start + datalayout.SizeOf(c.Ty)
		for m.Data.Offset() < end {
			m.Data.AppendByte(0)
		}
		return m.Data.AddrAt(start)
	default:
		assert.ShouldNotReachHere("codegen: unknown constant shape in layoutGlobal")
		return 0
	}
}

// x86.Reg aliases used throughout function/instruction translation.
var (
	regScratch0 = x86.EAX
	regScratch1 = x86.ECX
	regScratch2 = x86.EDX
)

// internCString writes s, NUL-terminated, into the data arena and
// returns its address — used for the function/block name literals
// trace_logging and the unhandled-case diagnostic pass by pointer.
func (m *Module) internCString(s string) uintptr {
	addr := m.Data.AppendBytes([]byte(s))
	m.Data.AppendByte(0)
	return addr
}

// internFloat64 writes v into the data arena and returns its address —
// used to give a double constant that owns no stack slot an address
// FldQwordAbs can load from.
func (m *Module) internFloat64(v float64) uintptr {
	return m.Data.AppendWord64(math.Float64bits(v))
}

// dumpFunctionCode best-effort disassembles [start, end) with the
// system objdump. Every failure is swallowed: this is a developer
// convenience, never a translation-correctness concern.
func (m *Module) dumpFunctionCode(name string, start, end uintptr) {
	code := m.Code.Slice(start, end)
	f, err := os.CreateTemp("", "x86jit-dump-*.bin")
	if err != nil {
		return
	}
	defer os.Remove(f.Name())
	defer f.Close()
	if _, err := f.Write(code); err != nil {
		return
	}
	out, err := exec.Command("objdump", "-D", "-b", "binary", "-m", "i386", f.Name()).CombinedOutput()
	if err != nil {
		m.opts.Log.Debug("dump_code: objdump unavailable", "function", name, "error", err)
		return
	}
	m.opts.Log.Info("dump_code", "function", name, "disassembly", string(out))
}
