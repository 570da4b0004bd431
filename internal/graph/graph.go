// Package graph defines the backing property-graph store contract. The rest
// of the pipeline speaks this interface; the neo4j adapter in this package is
// the only code that touches the driver.
package graph

import (
	"context"
	"fmt"
	"strings"
)

// Node is a concept or proposition node as returned by the store.
type Node struct {
	InternalID int64
	Labels     []string
	Props      map[string]interface{}
}

// HasLabel reports whether the node carries the given label.
func (n Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Record is one row of a query result, keyed by the plan's return aliases.
type Record map[string]interface{}

// NodeValue returns the node stored under key, if any.
func (r Record) NodeValue(key string) (Node, bool) {
	n, ok := r[key].(Node)
	return n, ok
}

// IntValue returns the integer stored under key. Stores return counts and
// internal ids as int64.
func (r Record) IntValue(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// StringValue returns the string stored under key.
func (r Record) StringValue(key string) (string, bool) {
	s, ok := r[key].(string)
	return s, ok
}

// Statement is one parameterized query. Literals never appear in Query; they
// travel in Params.
type Statement struct {
	Query  string
	Params map[string]interface{}
}

// Session is a request-scoped store session. Sessions are not safe for
// concurrent use; each request acquires its own and must Close it on every
// path.
type Session interface {
	// Run executes a single statement and materializes all rows.
	Run(ctx context.Context, query string, params map[string]interface{}) ([]Record, error)

	// RunAll executes the statements inside one write transaction. Either
	// every statement commits or none do.
	RunAll(ctx context.Context, stmts []Statement) error

	Close(ctx context.Context) error
}

// Store hands out sessions against the backing graph database.
type Store interface {
	// Session opens a session. Write sessions are routed to a writable
	// store member; read sessions may be served by any member.
	Session(ctx context.Context, write bool) (Session, error)

	// Verify checks connectivity at startup.
	Verify(ctx context.Context) error

	Close(ctx context.Context) error
}

// sanitizeError wraps a store error while stripping anything that looks like
// embedded credentials from a connection URI. Store errors flow into client
// envelopes and logs.
func sanitizeError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if at := strings.Index(msg, "@"); at > 0 {
		if scheme := strings.Index(msg, "://"); scheme >= 0 && scheme < at {
			msg = msg[:scheme+3] + "***" + msg[at:]
		}
	}
	return fmt.Errorf("%s: %s", op, msg)
}
