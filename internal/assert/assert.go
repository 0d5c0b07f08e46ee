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

// Package assert holds the translator's invariant-violation idiom:
// programmer errors are bugs, not recoverable conditions, so they panic
// immediately instead of threading an error value through every call site.
package assert

import "fmt"

// That panics with a formatted message if cond is false.
func That(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Unimplemented panics to mark a construct this translator never supports.
func Unimplemented(what string) {
	panic("unimplemented: " + what)
}

// ShouldNotReachHere panics for switch defaults that a well-formed IR
// module must never trigger.
func ShouldNotReachHere(context string) {
	panic("should not reach here: " + context)
}

// Fatal panics after printing msg, mirroring an abort-on-detect invariant
// violation that a caller has no way to recover from.
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	println(msg)
	panic(msg)
}

// Abs returns the absolute value of x.
func Abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// AlignTo rounds n up to the next multiple of k, k a power of two.
func AlignTo(n, k int) int {
	return (n + k - 1) &^ (k - 1)
}
