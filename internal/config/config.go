// Package config handles classweave.toml configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-version"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "classweave.toml"

// Guard modes for rewriting inside initialisers of context subtypes.
const (
	GuardForName = "forname"
	GuardMethod  = "method"
	GuardOff     = "off"
)

var ErrInvalid = errors.New("config: invalid configuration")

// Config represents a classweave.toml file.
type Config struct {
	Policy   Policy   `toml:"policy"`
	Resolver Resolver `toml:"resolver"`
	Weave    Weave    `toml:"weave"`

	// Path is the file the configuration was read from; empty for defaults.
	Path string `toml:"-"`
}

// Policy decides which components and classes are rewritten.
type Policy struct {
	AllowedComponents []string `toml:"allowed_components"`
	WebContextHeader  string   `toml:"web_context_header"`
	DependencyHeader  string   `toml:"dependency_header"`
	FrameworkPackage  string   `toml:"framework_package"`
	MinFormatVersion  string   `toml:"min_format_version"`
	ExcludedPrefixes  []string `toml:"excluded_prefixes"`
}

// Resolver names the module-aware replacement for classloading calls.
type Resolver struct {
	Owner            string   `toml:"owner"`
	ContextType      string   `toml:"context_type"`
	ContextMethod    string   `toml:"context_method"`
	DynamicImport    string   `toml:"dynamic_import"`
	ClassLoaderTypes []string `toml:"class_loader_types"`
	ContextInitGuard string   `toml:"context_init_guard"`
}

// Weave tunes the batch driver.
type Weave struct {
	Jobs int `toml:"jobs"` // 0 means one per CPU
}

// Default returns the configuration of the stock deployment.
func Default() *Config {
	return &Config{
		Policy: Policy{
			AllowedComponents: []string{
				"org.glassfish.javax.faces",
				"com.liferay.faces.util",
				"com.liferay.faces.bridge.api",
				"com.liferay.faces.bridge.impl",
				"com.liferay.faces.bridge.ext",
			},
			WebContextHeader: "Web-ContextPath",
			DependencyHeader: "Import-Package",
			FrameworkPackage: "javax.faces",
			MinFormatVersion: "50.0",
			ExcludedPrefixes: []string{
				"com.liferay.faces.osgi",
				"com.liferay.faces.bridge.ext.mojarra.spi",
			},
		},
		Resolver: Resolver{
			Owner:            "com/liferay/faces/osgi/util/OSGiClassProviderUtil",
			ContextType:      "javax/faces/context/FacesContext",
			ContextMethod:    "getCurrentInstance",
			DynamicImport:    "com.liferay.faces.osgi.util;bundle-symbolic-name=com.liferay.faces.osgi.util",
			ClassLoaderTypes: []string{"java/lang/ClassLoader"},
			ContextInitGuard: GuardForName,
		},
	}
}

// Load parses the file at path on top of the defaults. Keys missing from the
// file keep their default values; unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Parse decodes TOML text on top of the defaults and validates the result.
func Parse(text string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(text, c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir looking for classweave.toml. When none
// is found the defaults are returned.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate reports the first configuration error. Errors match ErrInvalid.
func (c *Config) Validate() error {
	r := c.Resolver
	switch {
	case r.Owner == "":
		return fmt.Errorf("%w: resolver.owner is empty", ErrInvalid)
	case strings.Contains(r.Owner, "."):
		return fmt.Errorf("%w: resolver.owner %q must use slashes", ErrInvalid, r.Owner)
	case r.ContextType == "" || r.ContextMethod == "":
		return fmt.Errorf("%w: resolver.context_type and context_method are required", ErrInvalid)
	case len(r.ClassLoaderTypes) == 0:
		return fmt.Errorf("%w: resolver.class_loader_types is empty", ErrInvalid)
	case !slices.Contains([]string{GuardForName, GuardMethod, GuardOff}, r.ContextInitGuard):
		return fmt.Errorf("%w: resolver.context_init_guard %q (want %s, %s or %s)",
			ErrInvalid, r.ContextInitGuard, GuardForName, GuardMethod, GuardOff)
	}
	if _, err := version.NewVersion(c.Policy.MinFormatVersion); err != nil {
		return fmt.Errorf("%w: policy.min_format_version: %v", ErrInvalid, err)
	}
	if c.Weave.Jobs < 0 {
		return fmt.Errorf("%w: weave.jobs is negative", ErrInvalid)
	}
	return nil
}
