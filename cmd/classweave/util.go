package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"classweave/internal/classpath"
	"classweave/internal/config"
	"classweave/internal/hierarchy"
	"classweave/internal/logger"
	"classweave/internal/weave"
)

// pathList is a repeatable flag; each value may also hold several paths
// separated by the OS list separator.
type pathList []string

func (p *pathList) String() string { return strings.Join(*p, string(os.PathListSeparator)) }

func (p *pathList) Set(v string) error {
	for _, s := range strings.Split(v, string(os.PathListSeparator)) {
		if s != "" {
			*p = append(*p, s)
		}
	}
	return nil
}

// commonFlags are shared by every subcommand that loads configuration.
type commonFlags struct {
	config   string
	cp       pathList
	logJSON  bool
	logLevel string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "configuration file")
	fs.Var(&c.cp, "cp", "extra jar or class directory for ancestor lookups (repeatable)")
	fs.BoolVar(&c.logJSON, "log-json", false, "structured logs as JSON")
	fs.StringVar(&c.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
}

// setup applies the logging flags and loads the configuration.
func (c *commonFlags) setup() (*config.Config, error) {
	if c.logLevel != "" {
		logger.SetLevel(logger.ParseLevel(c.logLevel))
	}
	logger.SetOutput(os.Stderr, c.logJSON)

	if c.config != "" {
		return config.Load(c.config)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg.Path != "" {
		logger.Logger.Debug("loaded configuration", "path", cfg.Path)
	}
	return cfg, nil
}

// openSources opens every --cp entry as a byte-source. The returned close
// function releases opened jars.
func openSources(paths []string) (hierarchy.Source, func(), error) {
	var (
		chain classpath.Chain
		jars  []*classpath.Jar
	)
	closeAll := func() {
		for _, j := range jars {
			j.Close()
		}
	}
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		if st.IsDir() {
			chain = append(chain, classpath.Dir(p))
			continue
		}
		j, err := classpath.OpenJar(p)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		jars = append(jars, j)
		chain = append(chain, j)
	}
	return chain, closeAll, nil
}

// input is a jar or a single class file given by --in.
type input struct {
	jar   *classpath.Jar
	class []byte // set for a single class file
}

func openInput(path string) (*input, error) {
	if path == "" {
		return nil, errors.New("--in is required")
	}
	if strings.HasSuffix(path, classpath.ClassSuffix) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &input{class: data}, nil
	}
	j, err := classpath.OpenJar(path)
	if err != nil {
		return nil, err
	}
	return &input{jar: j}, nil
}

func (in *input) Close() {
	if in.jar != nil {
		in.jar.Close()
	}
}

// each calls fn for every class of the input, in name order. For a single
// class file the name is empty.
func (in *input) each(fn func(name string, bin []byte) error) error {
	if in.class != nil {
		return fn("", in.class)
	}
	for _, name := range in.jar.Classes() {
		bin, ok := in.jar.ClassBytes(name)
		if !ok {
			return fmt.Errorf("cannot read %s", classpath.EntryName(name))
		}
		if err := fn(name, bin); err != nil {
			return err
		}
	}
	return nil
}

// source returns the input itself as a byte-source, followed by extra.
func (in *input) source(extra hierarchy.Source) hierarchy.Source {
	if in.jar == nil {
		return extra
	}
	return classpath.Chain{in.jar, extra}
}

func init() {
	color.NoColor = !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd())
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// statusText colours a class status for terminal output.
func statusText(s weave.Status) string {
	switch s {
	case weave.StatusRewritten:
		return green(string(s))
	case weave.StatusFailed:
		return red(string(s))
	case weave.StatusSkipped:
		return faint(string(s))
	}
	return string(s)
}
