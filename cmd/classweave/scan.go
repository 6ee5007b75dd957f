package main

import (
	"flag"
	"fmt"
	"os"

	"classweave/internal/classfile"
	"classweave/internal/output"
	"classweave/internal/rewrite"
)

func cmdScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	inPath := fs.String("in", "", "input jar or class file")
	jsonOut := fs.Bool("json", false, "output as JSON lines")

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

	var (
		records []output.SiteRecord
		classes int
	)
	err = in.each(func(name string, bin []byte) error {
		if name == "" {
			h, err := classfile.ReadHeader(bin)
			if err != nil {
				return err
			}
			name = h.Name
		}
		sites, err := engine.Scan(bin, src)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if len(sites) > 0 {
			classes++
		}
		for _, s := range sites {
			records = append(records, output.SiteRecord{
				Class:   name,
				Method:  s.Method,
				PC:      s.PC,
				Action:  s.Action.String(),
				Call:    s.Call,
				Guarded: s.Guarded,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		return output.WriteJSONL(os.Stdout, records)
	}
	for _, r := range records {
		action := r.Action
		if r.Guarded {
			action = yellow(action + " (guarded)")
		}
		fmt.Printf("%s.%s  pc %-5d %-24s %s\n", r.Class, r.Method, r.PC, action, r.Call)
	}
	fmt.Fprintf(os.Stderr, "%d call sites in %d classes\n", len(records), classes)
	return nil
}
