// Package hierarchy walks superclass chains by reading class binaries
// directly, so computing a common ancestor never loads or initialises a
// class in the host runtime.
package hierarchy

import (
	"errors"
	"fmt"
	"iter"

	"classweave/internal/classfile"
)

// Root is the universal root type every chain ends at.
const Root = "java/lang/Object"

var ErrAncestorNotFound = errors.New("hierarchy: no common ancestor")

// AncestorNotFoundError reports two types whose chains never intersected
// with the bytes available.
type AncestorNotFoundError struct {
	Type1 string
	Type2 string
}

func (e *AncestorNotFoundError) Error() string {
	return fmt.Sprintf("hierarchy: %s and %s have no common ancestor", e.Type1, e.Type2)
}

func (e *AncestorNotFoundError) Is(target error) bool { return target == ErrAncestorNotFound }

// Source resolves a slash-separated type name to its raw class binary.
// Implementations must allow concurrent independent lookups.
type Source interface {
	ClassBytes(name string) ([]byte, bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(name string) ([]byte, bool)

func (f SourceFunc) ClassBytes(name string) ([]byte, bool) { return f(name) }

// Chain is the restartable ancestor sequence of one type.
type Chain struct {
	start string
	src   Source
}

// Ancestors returns the chain of t: t itself, then each declared superclass
// up to Root. The chain ends early, without error, at the first type whose
// binary src cannot supply.
func Ancestors(t string, src Source) *Chain {
	return &Chain{start: t, src: src}
}

// Cursor returns a fresh cursor positioned before the first element.
func (c *Chain) Cursor() *Cursor {
	return &Cursor{src: c.src, prev: c.start, first: true}
}

// All iterates the chain with a new cursor.
func (c *Chain) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		cur := c.Cursor()
		for {
			t, ok := cur.Next()
			if !ok || !yield(t) {
				return
			}
		}
	}
}

// Slice materialises the whole chain.
func (c *Chain) Slice() []string {
	var out []string
	for t := range c.All() {
		out = append(out, t)
	}
	return out
}

// Contains reports whether name appears in the chain. It stops at the first
// match.
func (c *Chain) Contains(name string) bool {
	for t := range c.All() {
		if t == name {
			return true
		}
	}
	return false
}

// Cursor is a pull iterator over a Chain. Not safe for concurrent use.
type Cursor struct {
	src     Source
	prev    string
	pending *string // superclass read ahead by HasNext
	first   bool
	done    bool
	seen    map[string]bool // yielded so far; a repeat means a cyclic declaration
}

// HasNext reports whether Next will produce an element. It performs the
// byte-source lookup for the next superclass at most once.
func (c *Cursor) HasNext() bool {
	if c.done {
		return false
	}
	if c.first || c.pending != nil {
		return true
	}
	if c.prev == Root {
		c.done = true
		return false
	}
	data, ok := c.src.ClassBytes(c.prev)
	if !ok {
		c.done = true
		return false
	}
	h, err := classfile.ReadHeader(data)
	if err != nil {
		// An unreadable binary truncates the chain like a missing one.
		c.done = true
		return false
	}
	super := h.SuperName
	if super == "" {
		super = Root
	}
	if c.seen[super] {
		c.done = true
		return false
	}
	c.pending = &super
	return true
}

// Next returns the next type in the chain.
func (c *Cursor) Next() (string, bool) {
	if !c.HasNext() {
		return "", false
	}
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if c.first {
		c.first = false
		c.seen[c.prev] = true
		return c.prev, true
	}
	t := *c.pending
	c.pending = nil
	c.prev = t
	c.seen[t] = true
	return t, true
}

// CommonAncestor returns the nearest type that appears in both chains.
//
// The two chains are advanced in lock-step and every element produced is
// remembered, so neither chain is read further than the first match
// requires. Single inheritance makes the first element seen in both chains
// the nearest common one.
func CommonAncestor(t1, t2 string, src Source) (string, error) {
	if t1 == t2 {
		return t1, nil
	}
	if t1 == Root || t2 == Root {
		return Root, nil
	}

	c1 := Ancestors(t1, src).Cursor()
	c2 := Ancestors(t2, src).Cursor()
	seen1 := make(map[string]bool)
	seen2 := make(map[string]bool)
	for {
		a, ok1 := c1.Next()
		if ok1 {
			if seen2[a] {
				return a, nil
			}
			seen1[a] = true
		}
		b, ok2 := c2.Next()
		if ok2 {
			if seen1[b] {
				return b, nil
			}
			seen2[b] = true
		}
		if !ok1 && !ok2 {
			break
		}
	}
	return "", &AncestorNotFoundError{Type1: t1, Type2: t2}
}
