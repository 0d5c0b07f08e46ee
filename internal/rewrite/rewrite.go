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

// Package rewrite implements the mechanical IR transformations that
// run before value placement and encoding: ConstantExpr expansion,
// GetElementPtr expansion, variadic expansion, and memory-intrinsic
// lowering. The pass order is fixed at the driver level — variadic and
// ConstantExpr expansion both introduce new instructions that still
// need slots, so both must finish before layout.Compute runs —
// and Pipeline.Run is that fixed order, the single place the module
// driver calls into this package.
package rewrite

import "x86jit/internal/ir"

// Pipeline runs every IR-rewrite pass over a module in the required
// order: variadic expansion once per module, then per function
// ConstantExpr expansion (function-scope) to a fixed point, then per
// block GetElementPtr expansion and memory-intrinsic lowering
// (block-scope) to a fixed point.
type Pipeline struct{}

// Run rewrites mod in place. Must be called exactly once per module,
// before layout.Compute runs on any function.
func (Pipeline) Run(mod *ir.Module) {
	ExpandVarArgs(mod)

	for _, fn := range mod.Funcs {
		if fn.Blocks == nil {
			continue // external declaration, nothing to rewrite
		}
		for ExpandConstantExpr(fn) {
			// run to a fixed point: a freshly-expanded operand may
			// itself have introduced another constant expression.
		}
		for _, b := range fn.Blocks {
			for ExpandGetElementPtr(fn, b) {
			}
		}
		for _, b := range fn.Blocks {
			for ExpandMemIntrinsics(mod, fn, b) {
			}
		}
		fn.BuildCFG()
	}
}
