package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "weave":
		err = cmdWeave(os.Args[2:])
	case "scan":
		err = cmdScan(os.Args[2:])
	case "check":
		err = cmdCheck(os.Args[2:])
	case "hierarchy":
		err = cmdHierarchy(os.Args[2:])
	case "common":
		err = cmdCommon(os.Args[2:])
	case "disasm":
		err = cmdDisasm(os.Args[2:])
	case "graph":
		err = cmdGraph(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `classweave: redirect classloading calls in JVM class binaries

Usage:
  classweave weave     --in <jar> --out <jar> [--cp <path>]...  Rewrite eligible classes of a jar
  classweave scan      --in <jar|class>                         List recognised call sites
  classweave check     --in <jar>                               Explain eligibility per class
  classweave hierarchy --cp <path> --class <name>               Print the ancestor chain of a type
  classweave common    --cp <path> --a <name> --b <name>        Print the nearest common ancestor
  classweave disasm    --in <jar|class> [--class <name>] [--woven] [--out <dir>]
                                                                Disassemble method bodies
  classweave graph     --in <jar> --out <dir>                   Write call graph and CFG DOT files

Flags:
  --config <file>    Configuration file (default: nearest classweave.toml, else built-in)
  --cp <path>        Extra jar or class directory for ancestor lookups (repeatable)
  --log-json         Structured logs as JSON
  --log-level <lvl>  DEBUG, INFO, WARN or ERROR (default from CLASSWEAVE_LOG_LEVEL)
`)
}
