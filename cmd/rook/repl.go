package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/subcommands"

	"rook-vm/internal/chunk"
	"rook-vm/internal/compiler"
	"rook-vm/internal/lexer"
	"rook-vm/internal/stdlib"
	"rook-vm/internal/token"
	"rook-vm/internal/vm"
)

type replCmd struct {
	cfg         envConfig
	disassembly bool
}

func (*replCmd) Name() string     { return "repl" }
func (*replCmd) Synopsis() string { return "Start an interactive Rook session" }
func (*replCmd) Usage() string {
	return `rook repl [-disassembly]
  Read, compile and run lines interactively. Globals persist across
  lines; type 'exit' to quit.
`
}

func (r *replCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.disassembly, "disassembly", r.cfg.Disassemble, "show bytecode disassembly for each input")
}

func (r *replCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rl, err := readline.New(">>> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "rook repl: %v\n", err)
		return subcommands.ExitFailure
	}
	defer rl.Close()

	fmt.Printf("Rook REPL %s\n", Version)
	fmt.Println("Type 'exit' to quit.")

	// One VM for the whole session; globals survive across inputs.
	machine := vm.NewWithConfig(vm.Config{Trace: r.cfg.Trace})
	stdlib.Register(machine)
	closeDBs := stdlib.RegisterDB(machine)
	defer closeDBs()

	var buffer strings.Builder

	for {
		if buffer.Len() == 0 {
			rl.SetPrompt(">>> ")
		} else {
			rl.SetPrompt("... ")
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			buffer.Reset()
			continue
		}
		if err == io.EOF {
			return subcommands.ExitSuccess
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "rook repl: %v\n", err)
			return subcommands.ExitFailure
		}

		if strings.TrimSpace(line) == "exit" && buffer.Len() == 0 {
			return subcommands.ExitSuccess
		}
		if strings.TrimSpace(line) == "" && buffer.Len() == 0 {
			continue
		}

		if buffer.Len() > 0 {
			buffer.WriteString("\n")
		}
		buffer.WriteString(line)
		source := buffer.String()

		// An unclosed brace or paren means the statement continues on
		// the next line.
		if !balanced(source) {
			continue
		}
		buffer.Reset()

		p := compiler.New(lexer.New(source))
		p.FileName = "repl"
		fn, err := p.Compile()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		if r.disassembly {
			fn.Chunk.(*chunk.Chunk).DisassembleAll("repl")
		}

		// Interpret resets the stack but the globals table persists.
		machine.Interpret(fn)
	}
}

func balanced(source string) bool {
	l := lexer.New(source)
	depth := 0
	for {
		tok := l.NextToken()
		switch tok.Type {
		case token.LBRACE, token.LPAREN:
			depth++
		case token.RBRACE, token.RPAREN:
			depth--
		case token.EOF:
			return depth <= 0
		}
	}
}
