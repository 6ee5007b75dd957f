package main

import (
	"flag"
	"fmt"
	"os"

	"classweave/internal/bundle"
	"classweave/internal/classpath"
	"classweave/internal/eligibility"
)

func cmdCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	inPath := fs.String("in", "", "input jar")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" {
		return fmt.Errorf("--in is required")
	}
	cfg, err := cf.setup()
	if err != nil {
		return err
	}
	policy, err := eligibility.NewPolicy(cfg.Policy)
	if err != nil {
		return err
	}
	jar, err := classpath.OpenJar(*inPath)
	if err != nil {
		return err
	}
	defer jar.Close()

	manifest := &bundle.Manifest{}
	if data, ok := jar.File(bundle.ManifestPath); ok {
		if manifest, err = bundle.ParseManifest(data); err != nil {
			return err
		}
	}
	c := manifest.Component()

	name := c.SymbolicName
	if name == "" {
		name = "(no symbolic name)"
	}
	switch {
	case !policy.ComponentEligible(c):
		fmt.Printf("component %s: %s\n", name, red("not eligible"))
		return nil
	case policy.IsWebModule(c):
		fmt.Printf("component %s: %s (web module importing %s)\n", name, green("eligible"), cfg.Policy.FrameworkPackage)
	default:
		fmt.Printf("component %s: %s (allow-listed)\n", name, green("eligible"))
	}

	eligible := 0
	classes := jar.Classes()
	for _, class := range classes {
		bin, ok := jar.ClassBytes(class)
		if !ok {
			fmt.Printf("  %s  %s\n", red("unreadable"), class)
			continue
		}
		d := policy.Eligible(c, class, bin)
		if d.Eligible {
			eligible++
			fmt.Printf("  %s  %s\n", green("eligible"), class)
			continue
		}
		fmt.Printf("  %s  %s  %s\n", faint("skipped "), class, faint(d.Reason))
	}
	fmt.Fprintf(os.Stderr, "%d of %d classes eligible\n", eligible, len(classes))
	return nil
}
