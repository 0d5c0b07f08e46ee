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

// Command x86jit is a smoke-test driver for the translator: IR parsing
// belongs to a separate host library this repository never implements,
// so there is no "compile this source file" entry point to offer.
// Instead x86jit run builds one of
// internal/samples' programmatic IR modules, translates it, calls the
// result through internal/nativefunc, and prints what came back — the
// same scenarios internal/codegen's tests exercise, runnable by hand.
package main

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/spf13/cobra"

	"x86jit/internal/codegen"
	"x86jit/internal/ir"
	"x86jit/internal/nativefunc"
	"x86jit/internal/obslog"
	"x86jit/internal/rtsupport"
	"x86jit/internal/samples"
)

// nulTerminatedString reads a C string out of the data arena at addr,
// the same layout internCString wrote it in.
func nulTerminatedString(addr uintptr) string {
	var b []byte
	for p := addr; ; p++ {
		c := *(*byte)(unsafe.Pointer(p))
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b)
}

// scenario pairs a named sample module with the closure that invokes
// its entry point through the right internal/nativefunc wrapper and
// formats the result, so main doesn't need a reflective calling
// convention on top of nativefunc's fixed set of wrapper shapes.
type scenario struct {
	build func() *ir.Module
	run   func(m *codegen.Module) string
}

var scenarios = map[string]scenario{
	"return": {
		build: samples.ReturnConst,
		run: func(m *codegen.Module) string {
			fn := nativefunc.AsInt32Func(symbol(m, "test_return"))
			return fmt.Sprintf("test_return(0) = %d", fn(0))
		},
	},
	"sub": {
		build: samples.Sub,
		run: func(m *codegen.Module) string {
			fn := nativefunc.AsInt32Func(symbol(m, "test_sub"))
			return fmt.Sprintf("test_sub(37) = %d", fn(37))
		},
	},
	"phi": {
		build: samples.Phi,
		run: func(m *codegen.Module) string {
			fn := nativefunc.AsInt32Func(symbol(m, "test_phi"))
			return fmt.Sprintf("test_phi(99) = %d, test_phi(1) = %d", fn(99), fn(1))
		},
	},
	"switch": {
		build: samples.Switch,
		run: func(m *codegen.Module) string {
			fn := nativefunc.AsInt32Func(symbol(m, "test_switch"))
			return fmt.Sprintf("test_switch(1) = %d, test_switch(5) = %d, test_switch(9) = %d", fn(1), fn(5), fn(9))
		},
	},
	"call": {
		build: samples.CallFn,
		run: func(m *codegen.Module) string {
			inner := symbol(m, "test_call_inner")
			outer := nativefunc.AsInt32x3Func(symbol(m, "test_call"))
			return fmt.Sprintf("test_call(inner, 7, 3) = %d", outer(int32(inner), 7, 3))
		},
	},
	"i64-arg": {
		build: samples.I64Arg1,
		run: func(m *codegen.Module) string {
			fn := nativefunc.AsInt64x2Func(symbol(m, "test_i64_arg1"))
			return fmt.Sprintf("test_i64_arg1(0x1122334455667788, 1) = %#x", fn(0x1122334455667788, 1))
		},
	},
	"i64-add": {
		build: samples.I64Add,
		run: func(m *codegen.Module) string {
			fn := nativefunc.AsInt64x2Func(symbol(m, "test_i64_add"))
			return fmt.Sprintf("test_i64_add(0xFFFFFFFF, 1) = %#x", fn(0xFFFFFFFF, 1))
		},
	},
	"alloca": {
		build: samples.AllocaRoundTrip,
		run: func(m *codegen.Module) string {
			fn := nativefunc.AsInt32Func(symbol(m, "test_alloca"))
			return fmt.Sprintf("test_alloca(41) = %d", fn(41))
		},
	},
	"varargs": {
		build: samples.VarArgSum,
		run: func(m *codegen.Module) string {
			fn := nativefunc.AsInt32x3Func(symbol(m, "test_va_caller"))
			return fmt.Sprintf("test_va_caller(5, 7, 9) = %d", fn(5, 7, 9))
		},
	},
	"bit0-branch": {
		build: samples.Bit0Branch,
		run: func(m *codegen.Module) string {
			fn := nativefunc.AsInt32Func(symbol(m, "test_i1_bit0"))
			return fmt.Sprintf("test_i1_bit0(0x10) = %d, test_i1_bit0(0x11) = %d", fn(0x10), fn(0x11))
		},
	},
	"global-string": {
		build: samples.GlobalString,
		run: func(m *codegen.Module) string {
			fn := nativefunc.AsPtrReturningFunc(symbol(m, "get_global_string"))
			addr := fn()
			return fmt.Sprintf("get_global_string() -> %q", nulTerminatedString(addr))
		},
	},
}

func symbol(m *codegen.Module, name string) uintptr {
	addr, ok := m.Symbol(name)
	if !ok {
		panic("x86jit: scenario referenced an unbound symbol " + name)
	}
	return addr
}

func main() {
	var dumpCode bool
	var traceLogging bool

	rootCmd := &cobra.Command{
		Use:   "x86jit",
		Short: "single-pass x86-32 JIT code generator smoke-test driver",
	}

	runCmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "translate and execute one named sample scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, ok := scenarios[args[0]]
			if !ok {
				return fmt.Errorf("unknown scenario %q (see x86jit list)", args[0])
			}
			log := obslog.New(os.Stderr, traceLogging)
			rtsupport.Log = log
			m, err := codegen.New(codegen.CodeGenOptions{
				Log:          log,
				DumpCode:     dumpCode,
				TraceLogging: traceLogging,
			})
			if err != nil {
				return fmt.Errorf("allocate translator: %w", err)
			}
			if err := m.Translate(sc.build()); err != nil {
				return fmt.Errorf("translate: %w", err)
			}
			fmt.Println(sc.run(m))
			return nil
		},
	}
	runCmd.Flags().BoolVar(&dumpCode, "dump-code", false, "disassemble each translated function via objdump")
	runCmd.Flags().BoolVar(&traceLogging, "trace-logging", false, "emit a runtime log line on every function/block entry")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list the available scenario names",
		RunE: func(cmd *cobra.Command, args []string) error {
			for name := range scenarios {
				fmt.Println(name)
			}
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, listCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
