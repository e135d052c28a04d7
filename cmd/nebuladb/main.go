// Command nebuladb is a flag-driven smoke-test binary over the nebuladb
// storage engine: it issues one Store operation per invocation and exits.
// It is not an interactive shell - there is no line-editing, no REPL loop,
// and no persistent process state between invocations.
package main

import (
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	nebuladb "github.com/AadeshGurav/nebuladb"
)

func main() {
	os.Exit(run(os.Stdout, os.Stderr, os.Args[1:]))
}

const usage = `Usage: nebuladb [--data-dir DIR] <command> [args]

Commands:
  insert <collection> <id> <value>   Insert a document
  get <collection> <id>              Print a document's value
  delete <collection> <id>           Logically delete a document
  scan <collection>                  List live document ids
  tx <collection> <id> <value>       Insert inside a transaction, then commit
       --abort                      Abort instead of committing
  checkpoint                        Checkpoint every collection touched this run
`

func run(out, errOut io.Writer, args []string) int {
	flagSet := flag.NewFlagSet("nebuladb", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	// Flags after the command name (tx --abort) belong to that command.
	flagSet.SetInterspersed(false)

	dataDir := flagSet.String("data-dir", nebuladb.DefaultStorageConfig().DataDir, "root directory for collection data")

	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		fmt.Fprint(out, usage)

		return 0
	}

	storageCfg := nebuladb.DefaultStorageConfig()
	storageCfg.DataDir = *dataDir

	store, err := nebuladb.Open(storageCfg, nebuladb.DefaultWALConfig(*dataDir))
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	defer store.Close()

	cmd, cmdArgs := rest[0], rest[1:]

	switch cmd {
	case "insert":
		return cmdInsert(out, errOut, store, cmdArgs)
	case "get":
		return cmdGet(out, errOut, store, cmdArgs)
	case "delete":
		return cmdDelete(out, errOut, store, cmdArgs)
	case "scan":
		return cmdScan(out, errOut, store, cmdArgs)
	case "tx":
		return cmdTx(out, errOut, store, cmdArgs)
	case "checkpoint":
		return cmdCheckpoint(out, errOut, store)
	default:
		fmt.Fprintf(errOut, "error: unknown command %q\n", cmd)
		fmt.Fprint(out, usage)

		return 1
	}
}

func cmdInsert(out, errOut io.Writer, store *nebuladb.Store, args []string) int {
	if len(args) != 3 {
		fmt.Fprintln(errOut, "usage: nebuladb insert <collection> <id> <value>")
		return 1
	}

	if err := store.Insert(args[0], []byte(args[1]), []byte(args[2])); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintln(out, "ok")

	return 0
}

func cmdGet(out, errOut io.Writer, store *nebuladb.Store, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(errOut, "usage: nebuladb get <collection> <id>")
		return 1
	}

	value, ok, err := store.Get(args[0], []byte(args[1]))
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if !ok {
		fmt.Fprintln(out, "(not found)")
		return 0
	}

	fmt.Fprintln(out, string(value))

	return 0
}

func cmdDelete(out, errOut io.Writer, store *nebuladb.Store, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(errOut, "usage: nebuladb delete <collection> <id>")
		return 1
	}

	deleted, err := store.Delete(args[0], []byte(args[1]))
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintln(out, deleted)

	return 0
}

func cmdScan(out, errOut io.Writer, store *nebuladb.Store, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "usage: nebuladb scan <collection>")
		return 1
	}

	ids, err := store.Scan(args[0])
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	for _, id := range ids {
		fmt.Fprintln(out, string(id))
	}

	return 0
}

func cmdTx(out, errOut io.Writer, store *nebuladb.Store, args []string) int {
	flagSet := flag.NewFlagSet("tx", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	abort := flagSet.Bool("abort", false, "abort instead of committing")

	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	rest := flagSet.Args()
	if len(rest) != 3 {
		fmt.Fprintln(errOut, "usage: nebuladb tx <collection> <id> <value> [--abort]")
		return 1
	}

	tx, err := store.BeginTx()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if err := tx.InsertDoc(rest[0], []byte(rest[1]), []byte(rest[2])); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if *abort {
		if err := tx.Abort(); err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}

		fmt.Fprintln(out, "aborted", tx.ID())

		return 0
	}

	if err := tx.Commit(); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintln(out, "committed", tx.ID())

	return 0
}

func cmdCheckpoint(out, errOut io.Writer, store *nebuladb.Store) int {
	if err := store.Checkpoint(); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintln(out, "ok")

	return 0
}
