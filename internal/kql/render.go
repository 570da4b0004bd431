package kql

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Render re-prints the AST in canonical form: uppercase keywords, single
// spaces, single-quoted strings. parse(Render(ast)) reproduces the AST up to
// token positions.
func (q *Query) Render() string {
	var b strings.Builder
	b.WriteString(q.renderFind())
	if len(q.Where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(renderConditions(q.Where))
	}
	if len(q.Filter) > 0 {
		b.WriteString(" FILTER ")
		b.WriteString(renderConditions(q.Filter))
	}
	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		parts := make([]string, len(q.GroupBy))
		for i, f := range q.GroupBy {
			parts[i] = f.String()
		}
		b.WriteString(strings.Join(parts, ", "))
	}
	if len(q.Aggregates) > 0 {
		b.WriteString(" AGGREGATE ")
		parts := make([]string, len(q.Aggregates))
		for i, a := range q.Aggregates {
			arg := "*"
			if !a.Star {
				arg = a.Field.String()
			}
			parts[i] = a.Fn + "(" + arg + ")"
		}
		b.WriteString(strings.Join(parts, ", "))
	}
	if q.RawLimit != nil {
		b.WriteString(" LIMIT ")
		b.WriteString(q.RawLimit.Text)
	}
	if q.Cursor != "" {
		b.WriteString(" CURSOR '")
		b.WriteString(q.Cursor)
		b.WriteString("'")
	}
	return b.String()
}

func (q *Query) renderFind() string {
	if q.Find == nil {
		return ""
	}
	if q.Find.All {
		return "FIND *"
	}
	parts := make([]string, len(q.Find.Fields))
	for i, f := range q.Find.Fields {
		parts[i] = f.String()
	}
	return "FIND " + strings.Join(parts, ", ")
}

func renderConditions(conds []Condition) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.Field.String() + " " + c.Op + " " + renderLiteral(c.Value)
	}
	return strings.Join(parts, " AND ")
}

func renderLiteral(lit Literal) string {
	switch lit.Kind {
	case LiteralString:
		return "'" + lit.Text + "'"
	case LiteralBoolean:
		return strings.ToLower(lit.Text)
	default:
		return lit.Text
	}
}

// Hash returns the normalized query hash binding a cursor to its query: the
// first 16 hex characters of SHA-256 over the canonical rendering of the
// FIND, WHERE, and FILTER clauses. GROUP BY, AGGREGATE, LIMIT, and CURSOR do
// not participate, so paging continues across limit changes.
func (q *Query) Hash() string {
	var b strings.Builder
	b.WriteString(q.renderFind())
	if len(q.Where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(renderConditions(q.Where))
	}
	if len(q.Filter) > 0 {
		b.WriteString(" FILTER ")
		b.WriteString(renderConditions(q.Filter))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// HashText hashes raw request text the way Query.Hash hashes a rendered
// query. It serves bookkeeping for writes and direct operations that never
// mint cursors and so have no normalized AST to hash.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])[:16]
}
