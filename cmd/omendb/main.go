// cmd/omendb/main.go
//
// omendb - Interactive shell for OmenDB, an embedded key/value storage
// engine with a learned index in place of a B-tree.
//
// Usage:
//
//	omendb [data-directory]
//
// If no directory is given, opens (creating if necessary) ./omendb-data.
package main

import (
	"fmt"
	"os"

	"omendb/pkg/cli"
)

func main() {
	dir := "omendb-data"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	repl, err := cli.NewREPL(dir, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer repl.Close()

	repl.Run()
}
