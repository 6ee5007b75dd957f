// Package eligibility decides which components and classes are rewritten.
//
// A component qualifies when its symbolic name is allow-listed or when it is
// a web module importing the framework API. A class then qualifies when it is
// outside the excluded packages and its format version is high enough for
// the rewriter to handle.
package eligibility

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"

	"classweave/internal/classfile"
	"classweave/internal/config"
)

// Component is the metadata of one deployable unit.
type Component struct {
	SymbolicName string
	Headers      map[string]string
}

// Header returns a manifest header value.
func (c Component) Header(name string) (string, bool) {
	v, ok := c.Headers[name]
	return v, ok
}

// Decision is the outcome of Eligible.
type Decision struct {
	Eligible bool
	Reason   string
}

// Policy holds the allow-list and thresholds. It is immutable after
// NewPolicy and safe for concurrent use.
type Policy struct {
	allowed    map[string]bool
	webHeader  string
	depHeader  string
	framework  string
	minVersion *version.Version
	excluded   []string // dotted prefixes
}

// NewPolicy builds a Policy from configuration.
func NewPolicy(cfg config.Policy) (*Policy, error) {
	threshold, err := version.NewVersion(cfg.MinFormatVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: min_format_version %q: %v", config.ErrInvalid, cfg.MinFormatVersion, err)
	}
	p := &Policy{
		allowed:    make(map[string]bool, len(cfg.AllowedComponents)),
		webHeader:  cfg.WebContextHeader,
		depHeader:  cfg.DependencyHeader,
		framework:  cfg.FrameworkPackage,
		minVersion: threshold,
	}
	for _, name := range cfg.AllowedComponents {
		p.allowed[name] = true
	}
	for _, prefix := range cfg.ExcludedPrefixes {
		p.excluded = append(p.excluded, dotted(prefix))
	}
	return p, nil
}

func dotted(name string) string { return strings.ReplaceAll(name, "/", ".") }

// ComponentEligible reports whether classes of c may be rewritten at all.
func (p *Policy) ComponentEligible(c Component) bool {
	return p.allowed[c.SymbolicName] || p.IsWebModule(c)
}

// IsWebModule reports whether c carries the web context marker and imports
// the framework package. A missing dependency header means no import.
func (p *Policy) IsWebModule(c Component) bool {
	if _, ok := c.Header(p.webHeader); !ok {
		return false
	}
	deps, ok := c.Header(p.depHeader)
	return ok && strings.Contains(deps, p.framework)
}

// ClassEligible reports whether className lies outside every excluded
// prefix. Dotted and slashed names are both accepted.
func (p *Policy) ClassEligible(className string) bool {
	name := dotted(className)
	for _, prefix := range p.excluded {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

// FormatVersion reads the major.minor format version of a class binary.
func FormatVersion(binary []byte) (*version.Version, error) {
	major, minor, err := classfile.Version(binary)
	if err != nil {
		return nil, err
	}
	return version.NewVersion(fmt.Sprintf("%d.%d", major, minor))
}

// FormatEligible reports whether binary is a class at or above the minimum
// format version. Malformed headers are not eligible.
func (p *Policy) FormatEligible(binary []byte) bool {
	v, err := FormatVersion(binary)
	return err == nil && !v.LessThan(p.minVersion)
}

// Eligible combines the three checks and explains a refusal.
func (p *Policy) Eligible(c Component, className string, binary []byte) Decision {
	if !p.ComponentEligible(c) {
		return Decision{Reason: fmt.Sprintf("component %q is not eligible", c.SymbolicName)}
	}
	if !p.ClassEligible(className) {
		return Decision{Reason: "class is in an excluded package"}
	}
	v, err := FormatVersion(binary)
	if err != nil {
		return Decision{Reason: fmt.Sprintf("unreadable class header: %v", err)}
	}
	if v.LessThan(p.minVersion) {
		return Decision{Reason: fmt.Sprintf("format version %s is below %s", v, p.minVersion)}
	}
	return Decision{Eligible: true}
}
