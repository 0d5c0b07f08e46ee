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

// ReplaceAllUses walks every instruction in fn and substitutes new for
// every occurrence of old as an operand (Args, Incoming, Indices,
// Callee). Used by the IR-rewrite passes when a synthesized
// instruction replaces the value a GetElementPtr/ConstantExpr used to
// produce. A full-function scan, since this IR model does not maintain
// use-list back-links.
func ReplaceAllUses(fn *Function, old, new Value) {
	replace := func(vals []Value) {
		for i, v := range vals {
			if v == old {
				vals[i] = new
			}
		}
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			replace(instr.Args)
			replace(instr.Incoming)
			replace(instr.Indices)
			if instr.Callee == old {
				instr.Callee = new
			}
		}
	}
}
