package stdlib

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"rook-vm/internal/value"
	"rook-vm/internal/vm"
)

// dbState owns the open database handles a script refers to by integer.
// Handles outlive a single Interpret call so the REPL can reuse them.
type dbState struct {
	mu     sync.Mutex
	dbs    map[int64]*sql.DB
	nextID int64
}

// RegisterDB installs the sqlite natives and returns a closer for the
// handles the script leaves open.
func RegisterDB(machine *vm.VM) func() {
	state := &dbState{dbs: make(map[int64]*sql.DB), nextID: 1}

	machine.DefineNative("db_open", func(args []value.Value) value.Value {
		if len(args) != 1 || args[0].Type != value.VAL_STRING {
			return value.NewNil()
		}
		db, err := sql.Open("sqlite", args[0].Str)
		if err != nil {
			return value.NewNil()
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return value.NewNil()
		}

		state.mu.Lock()
		id := state.nextID
		state.nextID++
		state.dbs[id] = db
		state.mu.Unlock()
		return value.NewInt(id)
	})

	machine.DefineNative("db_exec", func(args []value.Value) value.Value {
		db := state.handle(args)
		if db == nil || len(args) < 2 || args[1].Type != value.VAL_STRING {
			return value.NewNil()
		}
		res, err := db.Exec(args[1].Str)
		if err != nil {
			return value.NewNil()
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return value.NewInt(0)
		}
		return value.NewInt(affected)
	})

	// db_query flattens the result set into text: columns joined by '|',
	// rows joined by newlines. The surface language has no aggregate
	// values to hand back.
	machine.DefineNative("db_query", func(args []value.Value) value.Value {
		db := state.handle(args)
		if db == nil || len(args) < 2 || args[1].Type != value.VAL_STRING {
			return value.NewNil()
		}
		rows, err := db.Query(args[1].Str)
		if err != nil {
			return value.NewNil()
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return value.NewNil()
		}

		var lines []string
		for rows.Next() {
			cells := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range cells {
				ptrs[i] = &cells[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return value.NewNil()
			}
			fields := make([]string, len(cols))
			for i, cell := range cells {
				fields[i] = formatCell(cell)
			}
			lines = append(lines, strings.Join(fields, "|"))
		}
		if err := rows.Err(); err != nil {
			return value.NewNil()
		}
		return value.NewString(strings.Join(lines, "\n"))
	})

	machine.DefineNative("db_close", func(args []value.Value) value.Value {
		if len(args) != 1 || args[0].Type != value.VAL_INT {
			return value.NewInt(-1)
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		if db, ok := state.dbs[args[0].AsInt]; ok {
			db.Close()
			delete(state.dbs, args[0].AsInt)
			return value.NewInt(0)
		}
		return value.NewInt(-1)
	})

	return func() {
		state.mu.Lock()
		defer state.mu.Unlock()
		for id, db := range state.dbs {
			db.Close()
			delete(state.dbs, id)
		}
	}
}

func (s *dbState) handle(args []value.Value) *sql.DB {
	if len(args) < 1 || args[0].Type != value.VAL_INT {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dbs[args[0].AsInt]
}

func formatCell(cell interface{}) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
