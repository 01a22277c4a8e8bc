// pkg/cli/repl.go
package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"omendb/pkg/engine"
)

// REPL provides a Read-Eval-Print Loop for interactive use of an engine.Engine.
type REPL struct {
	db *engine.Engine

	shell *Shell

	output    io.Writer
	errOutput io.Writer

	running       bool
	exitRequested bool
}

// NewREPL opens dbPath with the engine's default configuration and wraps it
// in a REPL reading from stdin.
func NewREPL(dbPath string, output, errOutput io.Writer) (*REPL, error) {
	return NewREPLWithInput(dbPath, os.Stdin, output, errOutput)
}

// NewREPLWithInput creates a REPL with custom input/output streams, useful
// for scripted or test invocation.
func NewREPLWithInput(dbPath string, input io.Reader, output, errOutput io.Writer) (*REPL, error) {
	db, err := engine.Open(dbPath, engine.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}

	shell := NewShell(input, output, errOutput)

	return &REPL{
		db:        db,
		shell:     shell,
		output:    output,
		errOutput: errOutput,
	}, nil
}

// Close closes the underlying engine.
func (r *REPL) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Run starts the REPL loop, reading and executing commands until EOF or
// "exit".
func (r *REPL) Run() {
	r.running = true
	r.exitRequested = false

	fmt.Fprintln(r.output, "omendb version 0.1.0")
	fmt.Fprintln(r.output, "Enter \"help\" for usage hints.")

	for r.running && !r.exitRequested {
		line, eof := r.shell.ReadCommand()

		if eof && line == "" {
			fmt.Fprintln(r.output)
			break
		}

		if line != "" {
			r.execute(line)
		}

		if eof {
			break
		}
	}

	r.running = false
}

// execute parses and runs a single command line.
func (r *REPL) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch strings.ToLower(fields[0]) {
	case "exit", "quit":
		r.exitRequested = true
	case "help":
		r.printHelp()
	case "put":
		r.cmdPut(fields[1:])
	case "get":
		r.cmdGet(fields[1:])
	case "del", "delete":
		r.cmdDelete(fields[1:])
	case "range":
		r.cmdRange(fields[1:])
	case "flush":
		r.cmdCheck(r.db.Flush())
	case "checkpoint":
		r.cmdCheck(r.db.Checkpoint())
	case "compact":
		r.cmdCheck(r.db.CompactValues())
	case "stats":
		r.cmdStats()
	default:
		fmt.Fprintf(r.errOutput, "Unknown command: %s\n", fields[0])
		fmt.Fprintln(r.errOutput, "Use \"help\" for usage hints.")
	}
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.errOutput, "usage: put <key> <value>")
		return
	}
	key, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(r.errOutput, "invalid key: %v\n", err)
		return
	}
	value := strings.Join(args[1:], " ")
	if err := r.db.Insert(key, []byte(value)); err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.output, "OK")
}

func (r *REPL) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.errOutput, "usage: get <key>")
		return
	}
	key, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(r.errOutput, "invalid key: %v\n", err)
		return
	}
	value, err := r.db.Get(key)
	if err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.output, string(value))
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.errOutput, "usage: del <key>")
		return
	}
	key, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(r.errOutput, "invalid key: %v\n", err)
		return
	}
	if err := r.db.Delete(key); err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.output, "OK")
}

func (r *REPL) cmdRange(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(r.errOutput, "usage: range <lo> <hi>")
		return
	}
	lo, err1 := strconv.ParseInt(args[0], 10, 64)
	hi, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		fmt.Fprintln(r.errOutput, "invalid range bounds")
		return
	}

	cur, err := r.db.Range(lo, hi)
	if err != nil {
		r.printError(err)
		return
	}

	count := 0
	for {
		key, value, ok, err := cur.Next()
		if err != nil {
			r.printError(err)
			return
		}
		if !ok {
			break
		}
		fmt.Fprintf(r.output, "%d\t%s\n", key, string(value))
		count++
	}
	fmt.Fprintf(r.output, "%d row(s)\n", count)
}

func (r *REPL) cmdStats() {
	s := r.db.Stats()
	fmt.Fprintf(r.output, "entries:          %d\n", s.Entries)
	fmt.Fprintf(r.output, "main_len:         %d\n", s.MainLen)
	fmt.Fprintf(r.output, "pending_inserts:  %d\n", s.PendingInserts)
	fmt.Fprintf(r.output, "generation:       %d\n", s.Generation)
	fmt.Fprintf(r.output, "index_generation: %d\n", s.IndexGeneration)
	fmt.Fprintf(r.output, "index_height:     %d\n", s.IndexHeight)
	fmt.Fprintf(r.output, "index_leaf_count: %d\n", s.IndexLeafCount)
	fmt.Fprintf(r.output, "active_readers:   %d\n", s.ActiveReaders)
	fmt.Fprintf(r.output, "dirty_mutations:  %d\n", s.DirtyMutations)
	fmt.Fprintf(r.output, "cache_hits:       %d\n", s.Cache.Hits)
	fmt.Fprintf(r.output, "cache_misses:     %d\n", s.Cache.Misses)
	fmt.Fprintf(r.output, "cache_entries:    %d\n", s.Cache.Entries)
}

func (r *REPL) cmdCheck(err error) {
	if err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.output, "OK")
}

func (r *REPL) printHelp() {
	help := `
put <key> <value>   Insert or overwrite key with value
get <key>           Look up key
del <key>           Delete key
range <lo> <hi>     List all keys in [lo, hi]
flush               Flush WAL and value store to disk
checkpoint          Compact, retrain, snapshot, and truncate the WAL
compact             Reclaim space in the value store
stats               Show internal engine statistics
help                Show this help message
exit, quit          Exit this program
`
	fmt.Fprintln(r.output, help)
}

func (r *REPL) printError(err error) {
	fmt.Fprintf(r.errOutput, "Error: %v\n", err)
}
