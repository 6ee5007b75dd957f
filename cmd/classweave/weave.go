package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"classweave/internal/eligibility"
	"classweave/internal/logger"
	"classweave/internal/output"
	"classweave/internal/rewrite"
	"classweave/internal/weave"
)

func cmdWeave(args []string) error {
	fs := flag.NewFlagSet("weave", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	inPath := fs.String("in", "", "input jar")
	outPath := fs.String("out", "", "output jar")
	jobs := fs.Int("jobs", 0, "classes woven concurrently (default: configuration, else one per CPU)")
	reportDir := fs.String("report", "", "directory for report.json and sites.jsonl")
	verbose := fs.Bool("v", false, "print every class, not only rewritten and failed ones")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" || *outPath == "" {
		return errors.New("--in and --out are required")
	}

	cfg, err := cf.setup()
	if err != nil {
		return err
	}
	engine, err := rewrite.NewEngine(cfg.Resolver)
	if err != nil {
		return err
	}
	policy, err := eligibility.NewPolicy(cfg.Policy)
	if err != nil {
		return err
	}
	extra, closeExtra, err := openSources(cf.cp)
	if err != nil {
		return err
	}
	defer closeExtra()

	d := &weave.Driver{Engine: engine, Policy: policy, Logger: logger.Logger, Jobs: cfg.Weave.Jobs}
	if *jobs > 0 {
		d.Jobs = *jobs
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep, err := d.WeaveFile(ctx, *inPath, *outPath, extra)
	if err != nil {
		return err
	}

	for _, o := range rep.Outcomes {
		if !*verbose && o.Status != weave.StatusRewritten && o.Status != weave.StatusFailed {
			continue
		}
		line := fmt.Sprintf("  %-10s %s", statusText(o.Status), o.Class)
		if o.Status == weave.StatusRewritten {
			line += fmt.Sprintf(" (%d sites)", len(o.Sites))
		}
		if o.Reason != "" && o.Status != weave.StatusRewritten {
			line += "  " + faint(o.Reason)
		}
		fmt.Fprintln(os.Stderr, line)
	}
	if !rep.Eligible {
		fmt.Fprintf(os.Stderr, "%s: %s; copied unchanged\n", *inPath, rep.Reason)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d rewritten, %d unchanged, %d skipped, %d failed)\n",
		*outPath,
		rep.Count(weave.StatusRewritten),
		rep.Count(weave.StatusUnchanged),
		rep.Count(weave.StatusSkipped),
		rep.Count(weave.StatusFailed))

	if *reportDir != "" {
		if err := os.MkdirAll(*reportDir, 0755); err != nil {
			return fmt.Errorf("mkdir report: %w", err)
		}
		if err := output.WriteReportJSON(*reportDir, rep); err != nil {
			return err
		}
		if err := output.WriteSitesJSONL(*reportDir, rep); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s/report.json, %s/sites.jsonl\n", *reportDir, *reportDir)
	}
	return nil
}
