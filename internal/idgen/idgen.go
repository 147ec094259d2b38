// Package idgen generates identities for objects created by a worker.
//
// An identity is the host-assigned worker scope plus a local sequence number.
// The sequence never repeats within a process, and the host guarantees scopes
// are distinct across workers, so identities are globally unique without any
// coordination between workers.
package idgen

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// ID is a generated identity.
type ID struct {
	Scope string `json:"scope,omitempty"`
	Seq   int64  `json:"seq"`
}

// String renders the id as "<scope>.<seq>", or just "<seq>" when unscoped.
func (id ID) String() string {
	if id.Scope == "" {
		return strconv.FormatInt(id.Seq, 10)
	}
	return id.Scope + "." + strconv.FormatInt(id.Seq, 10)
}

// Parse is the inverse of ID.String.
func Parse(s string) (ID, error) {
	i := strings.LastIndexByte(s, '.')
	seq, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("parse id %q: %w", s, err)
	}
	if i < 0 {
		return ID{Seq: seq}, nil
	}
	if i == 0 {
		return ID{}, fmt.Errorf("parse id %q: empty scope", s)
	}
	return ID{Scope: s[:i], Seq: seq}, nil
}

// Generator produces identities. Implementations are safe for concurrent use.
type Generator interface {
	Next() ID
}

// Sequence is an unscoped, strictly increasing counter starting at 1.
type Sequence struct {
	n atomic.Int64
}

func NewSequence() *Sequence {
	return &Sequence{}
}

func (s *Sequence) Next() ID {
	return ID{Seq: s.n.Add(1)}
}

// Composite scopes the ids of an inner generator with a fixed prefix.
type Composite struct {
	scope string
	inner Generator
}

// NewComposite returns a generator scoped by scope. inner's own scope, if any,
// is replaced.
func NewComposite(scope string, inner Generator) *Composite {
	return &Composite{scope: scope, inner: inner}
}

func (c *Composite) Next() ID {
	id := c.inner.Next()
	id.Scope = c.scope
	return id
}

func (c *Composite) Scope() string {
	return c.scope
}
