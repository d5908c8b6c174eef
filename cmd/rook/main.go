package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/google/subcommands"
)

const Version = "v0.3.0"

// Exit codes follow sysexits: 65 for a program that does not compile,
// 70 for one that fails at runtime.
const (
	exitCompileError subcommands.ExitStatus = 65
	exitRuntimeError subcommands.ExitStatus = 70
)

// envConfig collects the ROOK_* environment toggles shared by the verbs.
type envConfig struct {
	Trace       bool `env:"ROOK_TRACE"`
	Disassemble bool `env:"ROOK_DISASSEMBLE"`
}

func main() {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "rook: bad environment: %v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{cfg: cfg}, "")
	subcommands.Register(&replCmd{cfg: cfg}, "")
	subcommands.Register(&disasmCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

type versionCmd struct{}

func (*versionCmd) Name() string             { return "version" }
func (*versionCmd) Synopsis() string         { return "Print the rook version" }
func (*versionCmd) Usage() string            { return "rook version\n" }
func (*versionCmd) SetFlags(f *flag.FlagSet) {}

func (*versionCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	fmt.Printf("Rook %s\n", Version)
	return subcommands.ExitSuccess
}
