package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"classweave/internal/hierarchy"
	"classweave/internal/rewrite"
)

func cmdHierarchy(args []string) error {
	fs := flag.NewFlagSet("hierarchy", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	class := fs.String("class", "", "type name (dotted or slashed)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *class == "" {
		return errors.New("--class is required")
	}
	if _, err := cf.setup(); err != nil {
		return err
	}
	src, closeSrc, err := openSources(cf.cp)
	if err != nil {
		return err
	}
	defer closeSrc()

	chain := hierarchy.Ancestors(rewrite.InternalName(*class), src).Slice()
	for i, t := range chain {
		fmt.Printf("%s%s\n", strings.Repeat("  ", i), t)
	}
	if last := chain[len(chain)-1]; last != hierarchy.Root {
		fmt.Printf("%s%s\n", strings.Repeat("  ", len(chain)), faint("(bytes for "+last+" not found)"))
	}
	return nil
}

func cmdCommon(args []string) error {
	fs := flag.NewFlagSet("common", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	a := fs.String("a", "", "first type")
	b := fs.String("b", "", "second type")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *a == "" || *b == "" {
		return errors.New("--a and --b are required")
	}
	if _, err := cf.setup(); err != nil {
		return err
	}
	src, closeSrc, err := openSources(cf.cp)
	if err != nil {
		return err
	}
	defer closeSrc()

	t, err := hierarchy.CommonAncestor(rewrite.InternalName(*a), rewrite.InternalName(*b), src)
	if err != nil {
		return err
	}
	fmt.Println(t)
	return nil
}
