// Command crdtsim runs replication scenarios against in-process CRDT stores
// and inspects the command journal they leave behind.
package main

import (
	"fmt"
	"os"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("crdtsim", version)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fatal("%v", err)
	}
	a, err := newApp(cfg)
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	var code int
	switch os.Args[1] {
	case "run":
		code = a.cmdRun(os.Args[2:])
	case "log":
		code = a.cmdLog(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "crdtsim: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'crdtsim --help' for usage.")
		code = 1
	}
	a.Close()
	os.Exit(code)
}

func printUsage() {
	fmt.Print(`crdtsim: replicate CRDTs between simulated nodes

Usage:
  crdtsim <command> [flags]

Commands:
  run [--settle D] [--metrics] [script]   Run a scenario script (stdin if omitted)
  log [--since N] [--crdt ID] [--limit N] Query the command journal
  log --summary [--json]                  Count journal records by outcome
  version                                 Print the version

Script lines:
  node [id...]                            Start nodes (random id if none given)
  connect <a> <b>                         Replicate between two nodes
  disconnect <a> <b>                      Partition two nodes
  create <node> <type> <id|->             Create register, set, graph or list
  register <node> <id> set <value>
  set <node> <id> add|remove <element>
  graph <node> <id> add-vertex|remove-vertex <v>
  graph <node> <id> add-edge|remove-edge <a> <b>
  list <node> <id> append <value>
  list <node> <id> insert <index> <value>
  list <node> <id> remove <index>
  settle                                  Wait until replication is quiet
  show <node> <id>                        Print a replica
  expect <node> <id> <rendering>          Fail unless the replica prints as given
  frontier <id>                           Print convergence of one CRDT
  # comment

Environment:
  CRDTSIM_DB              Journal path (default: .crdtsim/journal.db)
  CRDTSIM_JOURNAL         Write the journal (default: true)
  CRDTSIM_LOG_LEVEL       debug, info, warn or error (default: warn)
  CRDTSIM_SETTLE_TIMEOUT  Default settle timeout (default: 5s)

Exit codes:
  0  success
  1  error or failed expectation
`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "crdtsim: "+format+"\n", args...)
	os.Exit(1)
}
