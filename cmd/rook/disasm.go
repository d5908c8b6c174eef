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
)

type disasmCmd struct{}

func (*disasmCmd) Name() string     { return "disasm" }
func (*disasmCmd) Synopsis() string { return "Compile a source file and print its bytecode" }
func (*disasmCmd) Usage() string {
	return `rook disasm <file.rk>
  Compile the file and print the disassembly of every chunk without
  running anything.
`
}

func (*disasmCmd) SetFlags(f *flag.FlagSet) {}

func (d *disasmCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "rook disasm: file not provided")
		return subcommands.ExitUsageError
	}
	filename := args[0]

	source, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rook disasm: reading %s: %v\n", filename, err)
		return subcommands.ExitFailure
	}

	p := compiler.New(lexer.New(string(source)))
	p.FileName = filename
	fn, err := p.Compile()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCompileError
	}

	fn.Chunk.(*chunk.Chunk).DisassembleAll(filename)
	return subcommands.ExitSuccess
}
