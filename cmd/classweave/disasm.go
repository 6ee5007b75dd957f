package main

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"classweave/internal/bytecode"
	"classweave/internal/output"
	"classweave/internal/rewrite"
)

func cmdDisasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	inPath := fs.String("in", "", "input jar or class file")
	class := fs.String("class", "", "only this class (dotted or slashed)")
	method := fs.String("method", "", "only methods with this name")
	woven := fs.Bool("woven", false, "show the rewritten instruction stream; inserted instructions are marked +")
	outDir := fs.String("out", "", "write listings to <dir>/asm instead of stdout")

	if err := fs.Parse(args); err != nil {
		return err
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
	extra, closeExtra, err := openSources(cf.cp)
	if err != nil {
		return err
	}
	defer closeExtra()
	src := in.source(extra)

	want := rewrite.InternalName(*class)
	listed := 0
	err = in.each(func(name string, bin []byte) error {
		if want != "" && name != "" && name != want {
			return nil
		}
		out, plans, err := engine.Plan(bin, src)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if name == "" {
			if name, err = out.Name(); err != nil {
				return err
			}
			if want != "" && name != want {
				return nil
			}
		}
		for _, p := range plans {
			if *method != "" && p.Method.Name != *method {
				continue
			}
			insts := p.Original
			if *woven {
				insts = p.Insts
			}
			ann := siteAnnotator(p.Sites)
			if *outDir != "" {
				if err := output.WriteASM(*outDir, asmName(name, p.Method), insts, out.Pool, ann); err != nil {
					return err
				}
			} else {
				fmt.Printf("%s.%s\n", name, p.Method)
				fmt.Print(bytecode.Format(insts, out.Pool, ann))
				fmt.Println()
			}
			listed++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if *outDir != "" {
		fmt.Fprintf(os.Stderr, "wrote %d listings to %s\n", listed, *outDir)
	}
	return nil
}

// siteAnnotator marks the recognised call sites of a method by their
// original pc. In a woven listing the mark lands on the first instruction
// of the replacement.
func siteAnnotator(sites []rewrite.Site) bytecode.Annotator {
	byPC := make(map[int]rewrite.Site, len(sites))
	for _, s := range sites {
		byPC[s.PC] = s
	}
	return func(in bytecode.Inst) string {
		if in.PC < 0 {
			return ""
		}
		s, ok := byPC[in.PC]
		if !ok {
			return ""
		}
		if s.Guarded {
			return s.Action.String() + " (guarded)"
		}
		return s.Action.String()
	}
}

// asmName maps a method to a file name under asm/, grouping by class.
// Angle brackets of initializer names are not portable in file names.
func asmName(class string, m rewrite.Method) string {
	name := strings.NewReplacer("<", "_", ">", "_").Replace(m.Name)
	return fmt.Sprintf("%s/%s_%08x", class, name, hashDesc(m.Desc))
}

// hashDesc distinguishes overloads.
func hashDesc(desc string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(desc))
	return h.Sum32()
}
