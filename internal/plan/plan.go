// Package plan translates a validated query AST into a parameterized
// statement for the backing graph store. Literal values never appear in the
// statement text; every one is bound as a parameter.
package plan

import (
	"fmt"
	"strings"

	"kipgate/internal/kql"
	"kipgate/internal/logging"
)

// Plan is the executable form of a query. Limit is the client-visible page
// size; non-aggregated plans bind limit+1 rows so the executor can detect a
// further page without a second round-trip.
type Plan struct {
	QueryText       string
	Parameters      map[string]interface{}
	Limit           int
	CursorApplied   bool
	AggregationMode bool
}

// Generate builds the plan for q. cursorLastID is non-nil only when the
// caller decoded a cursor whose query hash matches q; a nil cursorLastID
// yields a plan identical to the cursorless one.
func Generate(q *kql.Query, cursorLastID *int64) *Plan {
	timer := logging.StartTimer(logging.CategoryPlanner, "Generate")
	defer timer.Stop()

	b := &builder{
		q:    q,
		plan: &Plan{Parameters: make(map[string]interface{}), Limit: q.Limit},
	}
	if q.HasAggregation() {
		b.plan.AggregationMode = true
		b.buildAggregation()
	} else {
		b.buildStandard(cursorLastID)
	}

	logging.PlannerDebug("Plan generated: aggregation=%v cursor=%v params=%d",
		b.plan.AggregationMode, b.plan.CursorApplied, len(b.plan.Parameters))
	return b.plan
}

type builder struct {
	q     *kql.Query
	plan  *Plan
	lines []string
}

func (b *builder) emit(format string, args ...interface{}) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *builder) bind(name string, value interface{}) string {
	b.plan.Parameters[name] = value
	return "$" + name
}

// conditions returns WHERE and FILTER conditions in source order. The two
// clauses are one conjunction at the plan level.
func (b *builder) conditions() []kql.Condition {
	return append(append([]kql.Condition{}, b.q.Where...), b.q.Filter...)
}

// conditionClauses renders every condition. Dotted fields traverse EXPRESSES
// to a Proposition matched by predicate; bare fields compare attributes on
// the Concept node directly.
func (b *builder) conditionClauses() (matches, parts, vars []string) {
	if tn := b.typeName(); tn != "" {
		parts = append(parts, "c.type = "+b.bind("concept_type", tn))
	}
	for i, c := range b.conditions() {
		valueParam := fmt.Sprintf("cond%d", i)
		if !c.Field.IsDotted() {
			parts = append(parts, comparison("c."+c.Field.String(), b.bind(valueParam, c.Value.Value), c.Op))
			continue
		}

		v := fmt.Sprintf("f%d", i)
		predRef := b.bind(valueParam+"_pred", c.Field.String())
		valRef := b.bind(valueParam, c.Value.Value)
		if c.Op == "!=" {
			// Anti-join: a concept passes when it has no proposition for the
			// predicate, or the proposition's object differs.
			matches = append(matches, fmt.Sprintf("OPTIONAL MATCH (c)-[:EXPRESSES]->(%s:Proposition {predicate: %s})", v, predRef))
			parts = append(parts, fmt.Sprintf("(%s IS NULL OR %s.object <> %s)", v, v, valRef))
		} else {
			matches = append(matches, fmt.Sprintf("MATCH (c)-[:EXPRESSES]->(%s:Proposition {predicate: %s})", v, predRef))
			parts = append(parts, comparison(v+".object", valRef, c.Op))
		}
		vars = append(vars, v)
	}
	return matches, parts, vars
}

func (b *builder) buildStandard(cursorLastID *int64) {
	matches, parts, vars := b.conditionClauses()

	if cursorLastID != nil {
		parts = append(parts, "id(c) > "+b.bind("cursor_last_id", *cursorLastID))
		b.plan.CursorApplied = true
	}

	b.emit("MATCH (c:Concept)")
	b.lines = append(b.lines, matches...)
	if len(vars) > 0 {
		b.emit("WITH c, %s", strings.Join(vars, ", "))
	}
	if len(parts) > 0 {
		b.emit("WHERE %s", strings.Join(parts, " AND "))
	}
	b.emit("WITH DISTINCT c")

	if fields := b.fieldProjection(); len(fields) > 0 {
		var returns []string
		for j, f := range fields {
			if !f.IsDotted() {
				returns = append(returns, fmt.Sprintf("c.%s AS %s", f.String(), f.Alias()))
				continue
			}
			v := fmt.Sprintf("proj%d", j)
			predRef := b.bind(fmt.Sprintf("proj%d_pred", j), f.String())
			b.emit("OPTIONAL MATCH (c)-[:EXPRESSES]->(%s:Proposition {predicate: %s})", v, predRef)
			returns = append(returns, fmt.Sprintf("%s.object AS %s", v, f.Alias()))
		}
		// The internal id rides along so the executor can mint a cursor for
		// projected rows too; it is stripped before the response.
		returns = append(returns, "id(c) AS internal_id")
		b.emit("RETURN %s", strings.Join(returns, ", "))
	} else {
		b.emit("OPTIONAL MATCH (c)-[:EXPRESSES]->(p:Proposition)")
		b.emit("WITH c, collect(p) AS propositions")
		b.emit("RETURN c AS concept, propositions")
	}

	b.emit("ORDER BY id(c)")
	b.emit("LIMIT %s", b.bind("limit", b.q.Limit+1))
	b.plan.QueryText = strings.Join(b.lines, "\n")
}

// buildAggregation emits a project-then-reduce statement. Aggregated plans
// read every grouped row; there is no cursor and no limit.
func (b *builder) buildAggregation() {
	matches, parts, vars := b.conditionClauses()

	if len(matches) == 0 && len(b.q.GroupBy) == 0 {
		// Global reduction. The optional match guarantees one zero row from
		// an empty store.
		b.emit("WITH 1 as dummy")
		b.emit("OPTIONAL MATCH (c:Concept)")
		if len(parts) > 0 {
			b.emit("WHERE %s", strings.Join(parts, " AND "))
		}
		b.emit("RETURN %s", strings.Join(b.aggregateReturns(), ", "))
		b.plan.QueryText = strings.Join(b.lines, "\n")
		return
	}

	b.emit("MATCH (c:Concept)")
	b.lines = append(b.lines, matches...)
	if len(vars) > 0 {
		b.emit("WITH c, %s", strings.Join(vars, ", "))
	}
	if len(parts) > 0 {
		b.emit("WHERE %s", strings.Join(parts, " AND "))
	}
	b.emit("WITH DISTINCT c")

	var groups []string
	for k, f := range b.q.GroupBy {
		groups = append(groups, fmt.Sprintf("%s AS %s", b.fieldExpr(f, fmt.Sprintf("group%d", k)), f.Alias()))
	}
	if len(groups) > 0 {
		b.emit("WITH c, %s", strings.Join(groups, ", "))
	}

	var returns []string
	for _, f := range b.q.GroupBy {
		returns = append(returns, f.Alias())
	}
	returns = append(returns, b.aggregateReturns()...)
	b.emit("RETURN %s", strings.Join(returns, ", "))
	b.plan.QueryText = strings.Join(b.lines, "\n")
}

// aggregateReturns renders each aggregate under its deterministic alias.
func (b *builder) aggregateReturns() []string {
	var out []string
	for m, a := range b.q.Aggregates {
		var expr string
		if a.Star {
			expr = "count(c)"
		} else {
			arg := b.fieldExpr(a.Field, fmt.Sprintf("agg%d", m))
			switch a.Fn {
			case "DISTINCT":
				// DISTINCT yields a distinct count, not the value list.
				expr = fmt.Sprintf("count(DISTINCT %s)", arg)
			default:
				expr = fmt.Sprintf("%s(%s)", strings.ToLower(a.Fn), arg)
			}
		}
		out = append(out, fmt.Sprintf("%s AS %s", expr, a.Alias()))
	}
	return out
}

// fieldExpr resolves a field reference inside a projection: bare fields
// read the node property, dotted fields traverse EXPRESSES through a
// dedicated optional match variable.
func (b *builder) fieldExpr(f kql.FieldPath, v string) string {
	if !f.IsDotted() {
		return "c." + f.String()
	}
	predRef := b.bind(v+"_pred", f.String())
	b.emit("OPTIONAL MATCH (c)-[:EXPRESSES]->(%s:Proposition {predicate: %s})", v, predRef)
	return v + ".object"
}

func (b *builder) typeName() string {
	if b.q.Find == nil {
		return ""
	}
	tn := b.q.Find.TypeName()
	// "Concept" is the node label itself, not a type discriminator. Binding
	// it as a type filter would exclude every row, since no concept stores
	// type = 'Concept'.
	if tn == "Concept" {
		return ""
	}
	return tn
}

func (b *builder) fieldProjection() []kql.FieldPath {
	if b.q.Find == nil {
		return nil
	}
	return b.q.Find.FieldProjection()
}

func comparison(expr, paramRef, op string) string {
	switch op {
	case "=":
		return expr + " = " + paramRef
	case "!=":
		return expr + " <> " + paramRef
	case "<", ">", "<=", ">=":
		return expr + " " + op + " " + paramRef
	case "CONTAINS":
		return fmt.Sprintf("toLower(%s) CONTAINS toLower(%s)", expr, paramRef)
	case "MATCHES":
		return expr + " =~ " + paramRef
	default:
		// The validator rejects every other operator before planning.
		return expr + " = " + paramRef
	}
}
