package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"rook-vm/internal/chunk"
	"rook-vm/internal/compiler"
	"rook-vm/internal/lexer"
	"rook-vm/internal/stdlib"
	"rook-vm/internal/vm"
)

type runCmd struct {
	cfg         envConfig
	disassembly bool
	trace       bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "Compile and execute a Rook source file" }
func (*runCmd) Usage() string {
	return `rook run [-disassembly] [-trace] <file.rk>
  Compile the file and run it to completion.
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.disassembly, "disassembly", r.cfg.Disassemble, "show bytecode disassembly before running")
	f.BoolVar(&r.trace, "trace", r.cfg.Trace, "trace each instruction during execution")
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "rook run: file not provided")
		return subcommands.ExitUsageError
	}
	filename := args[0]

	source, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rook run: reading %s: %v\n", filename, err)
		return subcommands.ExitFailure
	}

	p := compiler.New(lexer.New(string(source)))
	p.FileName = filename
	fn, err := p.Compile()
	if err != nil {
		// The compiler returns a structurally valid function even after
		// errors; it must not run.
		fmt.Fprintln(os.Stderr, err)
		return exitCompileError
	}

	if r.disassembly {
		fn.Chunk.(*chunk.Chunk).DisassembleAll(filename)
		fmt.Println()
	}

	machine := vm.NewWithConfig(vm.Config{Trace: r.trace})
	stdlib.Register(machine)
	closeDBs := stdlib.RegisterDB(machine)
	defer closeDBs()

	if err := machine.Interpret(fn); err != nil {
		return exitRuntimeError
	}
	return subcommands.ExitSuccess
}
