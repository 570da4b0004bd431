package kql

import (
	"strings"
)

// Query is the parsed AST: an ordered list of clauses. It is created by the
// parser, enriched by the validator, consumed by the plan generator, and
// discarded with the request.
type Query struct {
	Find    *FindClause
	Where   []Condition
	Filter  []Condition
	GroupBy []FieldPath
	Aggregates []Aggregate

	// Limit is the effective row limit, clamped to [MinLimit, MaxLimit] at
	// parse time. RawLimit keeps the literal as written for validation.
	Limit    int
	RawLimit *Literal

	// Cursor is the opaque cursor token string, empty when absent.
	// Validation is deferred to the cursor manager.
	Cursor string

	// Unsupported records OPTIONAL/UNION/NOT clauses, which parse but are
	// rejected by the validator until their behavior is specified.
	Unsupported []UnsupportedClause

	// LegacyRewrite is set when the query text was rewritten from the
	// restricted legacy dialect before parsing.
	LegacyRewrite bool
}

// Limit bounds. Out-of-range LIMIT values clamp rather than fail.
const (
	MinLimit     = 1
	MaxLimit     = 1000
	DefaultLimit = 100
)

// FindClause is the projection: `*`, a bare concept type name, or a list of
// field paths.
type FindClause struct {
	All    bool
	Fields []FieldPath
	Pos    int
}

// TypeName returns the concept type name when the projection is a single
// bare identifier beginning with an uppercase letter, else "".
func (f *FindClause) TypeName() string {
	if f == nil || f.All || len(f.Fields) != 1 {
		return ""
	}
	p := f.Fields[0]
	if len(p.Parts) != 1 {
		return ""
	}
	name := p.Parts[0]
	if name[0] >= 'A' && name[0] <= 'Z' {
		return name
	}
	return ""
}

// FieldProjection returns the explicit field paths of the projection, or nil
// when the projection is `*` or a concept type name.
func (f *FindClause) FieldProjection() []FieldPath {
	if f == nil || f.All || f.TypeName() != "" {
		return nil
	}
	return f.Fields
}

// FieldPath is a dotted field path `a.b.c`. A dotted path names a Proposition
// whose predicate is the literal joined string; it is never rewritten into a
// node attribute lookup.
type FieldPath struct {
	Parts []string
	Pos   int
}

func (f FieldPath) String() string { return strings.Join(f.Parts, ".") }

// Alias returns the deterministic projection alias: dots replaced by
// underscores.
func (f FieldPath) Alias() string { return strings.Join(f.Parts, "_") }

// IsDotted reports whether the path has more than one segment.
func (f FieldPath) IsDotted() bool { return len(f.Parts) > 1 }

// Condition is a single `<fieldPath> <op> <literal>` pattern or expression.
type Condition struct {
	Field FieldPath
	Op    string
	Value Literal
	Pos   int
}

// Literal is a typed literal value attached at lex time.
type Literal struct {
	Kind  LiteralKind
	Text  string
	Value interface{}
	Pos   int
}

// Aggregate is one `<fn>(* | fieldPath)` call.
type Aggregate struct {
	Fn    string // COUNT, SUM, AVG, MIN, MAX, DISTINCT (uppercase)
	Star  bool
	Field FieldPath
	Pos   int
}

// Alias returns the deterministic output alias `<fnLower>_<argOrAll>` with
// dots in the path replaced by underscores.
func (a Aggregate) Alias() string {
	fn := strings.ToLower(a.Fn)
	if a.Star {
		return fn + "_all"
	}
	return fn + "_" + a.Field.Alias()
}

// UnsupportedClause records a parsed but untranslated clause keyword.
type UnsupportedClause struct {
	Keyword string
	Pos     int
}

// HasAggregation reports whether the query carries an AGGREGATE or GROUP BY
// clause and therefore takes the project-then-reduce path.
func (q *Query) HasAggregation() bool {
	return len(q.Aggregates) > 0 || len(q.GroupBy) > 0
}
