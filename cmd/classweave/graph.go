package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"classweave/internal/callgraph"
	"classweave/internal/classfile"
	"classweave/internal/output"
	"classweave/internal/rewrite"
)

func cmdGraph(args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	inPath := fs.String("in", "", "input jar or class file")
	outDir := fs.String("out", "", "output directory")
	all := fs.Bool("all", false, "keep every call, not just classloading ones")
	summary := fs.Bool("summary", false, "one block per method instead of full CFGs")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outDir == "" {
		return errors.New("--out is required")
	}
	cfg, err := cf.setup()
	if err != nil {
		return err
	}
	engine, err := rewrite.NewEngine(cfg.Resolver)
	if err != nil {
		return err
	}
	in, err := openInput(*inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	keep := classloadingCallees(engine.Table(), cfg.Resolver.Owner)
	if *all {
		keep = nil
	}

	var funcs []callgraph.FuncInfo
	err = in.each(func(name string, bin []byte) error {
		parsed, err := classfile.Parse(bin)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fi, err := callgraph.Methods(parsed, keep)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, f := range fi {
			if len(f.Calls) > 0 || *all {
				funcs = append(funcs, f)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	g := callgraph.BuildCallGraph(funcs)
	if err := output.WriteDOT(*outDir, "callgraph", render.DOT(g, *inPath)); err != nil {
		return err
	}

	cfgs := 0
	for _, f := range funcs {
		var lcfg *lattice.FuncCFG
		if *summary {
			lcfg = callgraph.BuildSummaryFuncCFG(f)
		} else {
			var nblocks int
			if lcfg, nblocks = callgraph.BuildFuncCFG(f); nblocks < 2 {
				continue
			}
		}
		name := "cfg/" + strings.NewReplacer("<", "_", ">", "_").Replace(strings.SplitN(f.Name, "(", 2)[0])
		name = fmt.Sprintf("%s_%08x", name, hashDesc(f.Name))
		if err := output.WriteDOT(*outDir, name, render.DOTCFG(&lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}, f.Name)); err != nil {
			return err
		}
		cfgs++
	}
	fmt.Fprintf(os.Stderr, "%d methods, %d edges, %d control flow graphs in %s\n", len(g.Nodes), len(g.Edges), cfgs, *outDir)
	return nil
}

// classloadingCallees keeps calls to the recognised classloading methods
// and to the resolver itself, so woven and unwoven jars graph alike.
func classloadingCallees(t *rewrite.Table, resolverOwner string) func(string) bool {
	known := make(map[string]bool)
	for _, e := range t.Entries() {
		known[e.Match.Owner+"."+e.Match.Name] = true
	}
	prefix := resolverOwner + "."
	return func(callee string) bool {
		return known[callee] || strings.HasPrefix(callee, prefix)
	}
}
