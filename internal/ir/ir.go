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

// Package ir is the in-memory IR object model the translator consumes:
// a module owning globals and functions, functions owning ordered basic
// blocks, blocks owning instructions terminated by control flow, and
// values (arguments, instruction results, constants) each carrying a
// type. Ordinarily this shape would arrive from a separate parser
// library; this package is a minimal Go encoding of the same entities
// so the translator has a concrete type to operate on.
package ir

import "fmt"

// Kind enumerates the value types the translator understands: integers
// of width 1/8/16/32/64, 32-bit pointers, double, array, struct.
type Kind int

const (
	Int1 Kind = iota
	Int8
	Int16
	Int32
	Int64
	Pointer
	Double
	Array
	Struct
	Void
)

type Type struct {
	Kind    Kind
	Elem    *Type   // Pointer element type, Array element type
	Len     int     // Array length
	Fields  []*Type // Struct field types, in declared order
	Name    string  // Struct tag, for diagnostics only
}

func (t *Type) IntWidth() int {
	switch t.Kind {
	case Int1:
		return 1
	case Int8:
		return 8
	case Int16:
		return 16
	case Int32, Pointer:
		return 32
	case Int64:
		return 64
	default:
		return 0
	}
}

func (t *Type) IsInteger() bool { return t.Kind >= Int1 && t.Kind <= Int64 }

func (t *Type) String() string {
	switch t.Kind {
	case Int1:
		return "i1"
	case Int8:
		return "i8"
	case Int16:
		return "i16"
	case Int32:
		return "i32"
	case Int64:
		return "i64"
	case Pointer:
		return t.Elem.String() + "*"
	case Double:
		return "double"
	case Array:
		return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	case Struct:
		return "%" + t.Name
	case Void:
		return "void"
	}
	return "?"
}

var (
	TypeI1  = &Type{Kind: Int1}
	TypeI8  = &Type{Kind: Int8}
	TypeI16 = &Type{Kind: Int16}
	TypeI32 = &Type{Kind: Int32}
	TypeI64 = &Type{Kind: Int64}
	TypeF64 = &Type{Kind: Double}
	TypeVoid = &Type{Kind: Void}
)

// PointerTo returns (and, per call, allocates) a pointer-to-elem type.
func PointerTo(elem *Type) *Type { return &Type{Kind: Pointer, Elem: elem} }

// ArrayOf returns an [n x elem] type.
func ArrayOf(elem *Type, n int) *Type { return &Type{Kind: Array, Elem: elem, Len: n} }

// StructOf returns a struct type with the given field types, in order.
func StructOf(name string, fields ...*Type) *Type { return &Type{Kind: Struct, Name: name, Fields: fields} }

// Value is anything usable as an instruction operand: a function
// argument, an instruction result, or a constant.
type Value interface {
	Type() *Type
	String() string
}

// Argument is a function parameter; one per declared parameter, in
// order. Arguments are SSA values defined on function entry.
type Argument struct {
	Name string
	Ty   *Type
	Idx  int
}

func (a *Argument) Type() *Type  { return a.Ty }
func (a *Argument) String() string { return "%" + a.Name }

// Opcode enumerates every IR instruction and constant-expression shape
// this translator understands.
type Opcode int

const (
	OpAdd Opcode = iota
	OpSub
	OpMul
	OpUDiv
	OpURem
	OpSDiv
	OpSRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr
	OpICmp
	OpLoad
	OpStore
	OpAlloca
	OpGetElementPtr
	OpBitCast
	OpTrunc
	OpZExt
	OpSExt
	OpPtrToInt
	OpIntToPtr
	OpSelect
	OpBr        // unconditional branch
	OpCondBr    // conditional branch
	OpSwitch
	OpRet
	OpRetVoid
	OpUnreachable
	OpPhi
	OpCall
	OpAtomicRMW
	OpIntrinsic
)

func (op Opcode) String() string {
	names := [...]string{
		"add", "sub", "mul", "udiv", "urem", "sdiv", "srem", "and", "or", "xor",
		"shl", "lshr", "ashr", "icmp", "load", "store", "alloca", "getelementptr",
		"bitcast", "trunc", "zext", "sext", "ptrtoint", "inttoptr", "select",
		"br", "condbr", "switch", "ret", "retvoid", "unreachable", "phi", "call",
		"atomicrmw", "intrinsic",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}

// IsNoOpCast reports whether op, given matching operand/result widths,
// never needs machine code: its result is the same bits as its operand.
func (op Opcode) IsNoOpCast() bool {
	return op == OpBitCast || op == OpPtrToInt || op == OpIntToPtr
}

// ICmpPred is the predicate of an icmp instruction.
type ICmpPred int

const (
	ICmpEQ ICmpPred = iota
	ICmpNE
	ICmpUGT
	ICmpUGE
	ICmpULT
	ICmpULE
	ICmpSGT
	ICmpSGE
	ICmpSLT
	ICmpSLE
)

func (p ICmpPred) Signed() bool { return p >= ICmpSGT }
func (p ICmpPred) String() string {
	names := [...]string{"eq", "ne", "ugt", "uge", "ult", "ule", "sgt", "sge", "slt", "sle"}
	return names[p]
}

// AtomicOp is the RMW operation of an atomicrmw instruction.
type AtomicOp int

const (
	AtomicXchg AtomicOp = iota
	AtomicAdd
	AtomicSub
	AtomicAnd
	AtomicNand
	AtomicOr
	AtomicXor
	AtomicMax
	AtomicMin
	AtomicUMax
	AtomicUMin
)

// Ordering and Scope record what the IR annotated on an atomicrmw
// rather than having the translator silently assume it: only
// sequentially-consistent, cross-thread atomics are supported, and
// anything else takes the unsupported-construct path at its emit site.
type Ordering int

const (
	SeqCst Ordering = iota
	Acquire
	Release
	AcqRel
	Monotonic
)

type Scope int

const (
	CrossThread Scope = iota
	SingleThread
)

// IntrinsicKind distinguishes the intrinsics the translator recognizes.
type IntrinsicKind int

const (
	IntrinsicMemcpy IntrinsicKind = iota
	IntrinsicMemmove
	IntrinsicMemset
	IntrinsicVAStart
	IntrinsicVAArg
	IntrinsicVAEnd
	IntrinsicLifetimeStart
	IntrinsicLifetimeEnd
	IntrinsicDbgValue
	IntrinsicDbgDeclare
	IntrinsicReadTP // llvm.nacl.read.tp-equivalent, bound via CodeGenOptions.IntrinsicBindings
)

// Instr is both an instruction and the SSA value its result defines.
// One Instr may serve as a terminator (Br/CondBr/Switch/Ret/RetVoid/
// Unreachable), in which case Ty is Void and the instruction
// must be the block's last entry.
type Instr struct {
	Op   Opcode
	Name string // result name, for diagnostics; "" for void/terminators
	Ty   *Type  // result type (Void for terminators and Store)
	Args []Value

	Block *Block // owning block, set by Block.Append

	// ICmp
	Pred ICmpPred
	// GetElementPtr
	Indices []Value
	// AtomicRMW
	AtomicOp  AtomicOp
	Order     Ordering
	AtomicScp Scope
	// Switch: Args[0] is the selector; Cases pairs a constant with a target block
	Cases   []SwitchCase
	Default *Block
	// Br/CondBr targets
	Then, Else *Block
	// Phi: Incoming[i] corresponds to Block.Preds[i]
	Incoming []Value
	// Call
	Callee   Value
	CalleeFn *Function // set when the callee is statically known, for direct calls
	// Intrinsic
	Intrinsic IntrinsicKind
	// Alloca
	AllocSize int // bytes
	// Call: when CalleeFn.VarArg is true, the first FixedArgCount
	// entries of Args are fixed parameters and the rest are packed by
	// the variadic-expansion pass into a trailing buffer argument.
	FixedArgCount int
}

type SwitchCase struct {
	Value  int64
	Target *Block
}

func (i *Instr) Type() *Type { return i.Ty }
func (i *Instr) String() string {
	if i.Name != "" {
		return "%" + i.Name
	}
	return i.Op.String()
}

// IsTerminator reports whether i ends its basic block.
func (i *Instr) IsTerminator() bool {
	switch i.Op {
	case OpBr, OpCondBr, OpSwitch, OpRet, OpRetVoid, OpUnreachable:
		return true
	}
	return false
}

// Block is a maximal straight-line instruction sequence ending in
// exactly one terminator.
type Block struct {
	Name   string
	Instrs []*Instr
	Func   *Function
	Preds  []*Block
	Succs  []*Block
}

// Append adds instr to the end of the block and sets its owner.
func (b *Block) Append(instr *Instr) {
	instr.Block = b
	b.Instrs = append(b.Instrs, instr)
}

// InsertBefore inserts instr immediately before mark in b's instruction
// list. Used by the ConstantExpr/GetElementPtr expanders to splice in
// synthesized instructions ahead of a use or a terminator.
func (b *Block) InsertBefore(mark, instr *Instr) {
	instr.Block = b
	for idx, in := range b.Instrs {
		if in == mark {
			b.Instrs = append(b.Instrs[:idx], append([]*Instr{instr}, b.Instrs[idx:]...)...)
			return
		}
	}
	panic("ir: InsertBefore: mark not found in block")
}

// InsertFront inserts instr as the first instruction in the block,
// ahead of any existing phis — used for the per-call vararg buffer
// alloca, which must live at the entry block's front.
func (b *Block) InsertFront(instr *Instr) {
	instr.Block = b
	b.Instrs = append([]*Instr{instr}, b.Instrs...)
}

// Terminator returns the block's final instruction, which must be a
// terminator in a well-formed block.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if !last.IsTerminator() {
		return nil
	}
	return last
}

// Linkage describes a global's visibility.
type Linkage int

const (
	LinkageInternal Linkage = iota
	LinkageExternal
	LinkageWeak
)

// KnownWeakExternals lists the only extern-weak declarations the module
// driver tolerates with no initializer and no bound address: linker
// symbols a NaCl-style host program may reference but never define,
// resolved to address 0. Anything else without an initializer must have
// been bound by the embedder before translation.
var KnownWeakExternals = map[string]bool{
	"__ehdr_start":          true,
	"__preinit_array_start": true,
	"__preinit_array_end":   true,
}

// Global is a module-level variable.
type Global struct {
	Name    string
	Ty      *Type // the type of the pointee, not the pointer
	Init    Value // a Constant, or nil for an external declaration
	Linkage Linkage
}

func (g *Global) Type() *Type    { return PointerTo(g.Ty) }
func (g *Global) String() string { return "@" + g.Name }

// Function owns an ordered sequence of basic blocks; the first is the
// entry block, which must have no predecessors.
type Function struct {
	Name     string
	Params   []*Argument
	RetTy    *Type
	VarArg   bool
	Blocks   []*Block
	Linkage  Linkage
}

func (f *Function) Type() *Type    { return PointerTo(TypeVoid) }
func (f *Function) String() string { return "@" + f.Name }
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NewBlock appends and returns a fresh block owned by f.
func (f *Function) NewBlock(name string) *Block {
	b := &Block{Name: name, Func: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// BuildCFG (re)computes every block's Preds/Succs from its terminator.
// Must be called after constructing or rewriting a function's blocks
// before the translator relies on predecessor order for phi resolution.
func (f *Function) BuildCFG() {
	for _, b := range f.Blocks {
		b.Preds = nil
		b.Succs = nil
	}
	wire := func(from, to *Block) {
		from.Succs = append(from.Succs, to)
		to.Preds = append(to.Preds, from)
	}
	for _, b := range f.Blocks {
		term := b.Terminator()
		if term == nil {
			continue
		}
		switch term.Op {
		case OpBr:
			wire(b, term.Then)
		case OpCondBr:
			wire(b, term.Then)
			wire(b, term.Else)
		case OpSwitch:
			for _, c := range term.Cases {
				wire(b, c.Target)
			}
			wire(b, term.Default)
		}
	}
}

// Module is the top-level translation unit: an ordered collection of
// globals and functions.
type Module struct {
	Globals []*Global
	Funcs   []*Function
}

func (m *Module) FindGlobal(name string) *Global {
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}
	return nil
}

func (m *Module) FindFunc(name string) *Function {
	for _, fn := range m.Funcs {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}
