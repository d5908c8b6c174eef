// Package stdlib installs the host-provided native functions into a VM's
// globals before execution. Natives are Go closures over host state; the
// dispatch loop never suspends inside them.
package stdlib

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"rook-vm/internal/value"
	"rook-vm/internal/vm"
)

var processStart = time.Now()

// Register installs the core natives writing to stdout.
func Register(machine *vm.VM) {
	RegisterWriter(machine, os.Stdout)
}

// RegisterWriter installs the core natives with program output routed to
// out. Tests capture output through this.
func RegisterWriter(machine *vm.VM, out io.Writer) {
	machine.DefineNative("print", func(args []value.Value) value.Value {
		if len(args) != 1 {
			return value.NewInt(-1)
		}
		fmt.Fprintln(out, args[0].String())
		return value.NewInt(0)
	})

	machine.DefineNative("clock", func(args []value.Value) value.Value {
		return value.NewFloat(time.Since(processStart).Seconds())
	})

	machine.DefineNative("time_now_ms", func(args []value.Value) value.Value {
		return value.NewInt(time.Now().UnixMilli())
	})

	machine.DefineNative("uuid", func(args []value.Value) value.Value {
		return value.NewString(uuid.NewString())
	})
}
