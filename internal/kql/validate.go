package kql

import (
	"fmt"
	"strings"

	"kipgate/internal/logging"
)

// FieldKind is the inferred kind of a field path.
type FieldKind string

const (
	FieldString           FieldKind = "string"
	FieldInteger          FieldKind = "integer"
	FieldBoolean          FieldKind = "boolean"
	FieldUUID             FieldKind = "uuid"
	FieldPropositionValue FieldKind = "proposition_value"
)

// Violation codes.
const (
	CodeTypeMismatch        = "TYPE_MISMATCH"
	CodeInvalidAggregate    = "INVALID_AGGREGATE"
	CodeIncompatibleClauses = "INCOMPATIBLE_CLAUSES"
	CodeMissingFindClause   = "MISSING_FIND_CLAUSE"
	CodeInvalidLimit        = "INVALID_LIMIT"
	CodeUnsupportedClause   = "UNSUPPORTED_CLAUSE"
)

// Violation is one failed semantic check attached to the AST.
type Violation struct {
	Code       string
	Message    string
	Field      string
	Pos        int
	Suggestion string
}

// TypeInfo is the validator's output: per-field inferred kinds, the flat
// violation list, and the advisory compliance score. The score is metadata,
// not a gate; presence of any Violation converts the request into a typed
// error regardless of the score.
type TypeInfo struct {
	FieldKinds      map[string]FieldKind
	Violations      []Violation
	ComplianceScore float64
}

// Valid reports whether the query passed all semantic checks.
func (ti *TypeInfo) Valid() bool { return len(ti.Violations) == 0 }

// InferFieldKind maps a field path to its kind. The identity and bookkeeping
// attributes live on the Concept node; every other path, dotted or not, is a
// string-stored Proposition predicate.
func InferFieldKind(path FieldPath) FieldKind {
	if path.IsDotted() {
		return FieldPropositionValue
	}
	switch path.String() {
	case "name", "type":
		return FieldString
	case "id":
		return FieldUUID
	case "created", "updated":
		return FieldInteger
	default:
		return FieldPropositionValue
	}
}

// IsConceptAttribute reports whether the path is stored on the Concept node
// itself rather than behind an EXPRESSES edge.
func IsConceptAttribute(path FieldPath) bool {
	return InferFieldKind(path) != FieldPropositionValue
}

// Validate walks the AST, infers field and literal kinds, checks operator
// and value compatibility, enforces the clause-composition rules, and
// computes the compliance score.
func Validate(q *Query) *TypeInfo {
	timer := logging.StartTimer(logging.CategoryValidator, "Validate")
	defer timer.Stop()

	ti := &TypeInfo{FieldKinds: make(map[string]FieldKind)}
	totalChecks := 0
	passed := 0

	// Check: FIND presence.
	totalChecks++
	if q.Find == nil {
		ti.addViolation(Violation{
			Code:       CodeMissingFindClause,
			Message:    "query has no FIND clause",
			Suggestion: "start the query with FIND followed by a projection",
		})
	} else {
		passed++
	}

	// Checks: operator/value compatibility per condition.
	for _, c := range append(append([]Condition{}, q.Where...), q.Filter...) {
		totalChecks++
		kind := InferFieldKind(c.Field)
		ti.FieldKinds[c.Field.String()] = kind
		if v, ok := checkCompatibility(c, kind); !ok {
			ti.addViolation(v)
		} else {
			passed++
		}
	}

	// Record kinds for projection and grouping fields too.
	if q.Find != nil {
		for _, f := range q.Find.FieldProjection() {
			ti.FieldKinds[f.String()] = InferFieldKind(f)
		}
	}
	for _, f := range q.GroupBy {
		ti.FieldKinds[f.String()] = InferFieldKind(f)
	}

	// Checks: aggregate compatibility.
	for _, a := range q.Aggregates {
		totalChecks++
		if v, ok := checkAggregate(a); !ok {
			ti.addViolation(v)
		} else {
			passed++
		}
	}

	// Check: a non-trivial field projection may not combine with AGGREGATE.
	totalChecks++
	if q.Find != nil && len(q.Find.FieldProjection()) > 0 && len(q.Aggregates) > 0 {
		ti.addViolation(Violation{
			Code:       CodeIncompatibleClauses,
			Message:    "a field projection cannot be combined with an AGGREGATE clause",
			Pos:        q.Find.Pos,
			Suggestion: "project * or a concept type name when aggregating",
		})
	} else {
		passed++
	}

	// Check: LIMIT must be a whole number. Out-of-range values were clamped
	// at parse time and are not violations.
	totalChecks++
	if q.RawLimit != nil && q.RawLimit.Kind == LiteralFloat {
		ti.addViolation(Violation{
			Code:    CodeInvalidLimit,
			Message: fmt.Sprintf("LIMIT must be an integer, got %s", q.RawLimit.Text),
			Pos:     q.RawLimit.Pos,
		})
	} else {
		passed++
	}

	// OPTIONAL/UNION/NOT parse but have no defined translation yet.
	for _, u := range q.Unsupported {
		totalChecks++
		ti.addViolation(Violation{
			Code:       CodeUnsupportedClause,
			Message:    fmt.Sprintf("%s clauses are not supported", u.Keyword),
			Pos:        u.Pos,
			Suggestion: "remove the " + u.Keyword + " clause",
		})
	}

	consistencyErrors := countConsistencyErrors(q)

	// Compliance score: (passed − violations − consistencyErrors) / total,
	// clamped into [0,1]. Advisory only.
	score := 0.0
	if totalChecks > 0 {
		score = float64(passed-len(ti.Violations)-consistencyErrors) / float64(totalChecks)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	ti.ComplianceScore = score

	logging.ValidatorDebug("Validation complete: checks=%d passed=%d violations=%d score=%.2f",
		totalChecks, passed, len(ti.Violations), score)
	return ti
}

func (ti *TypeInfo) addViolation(v Violation) {
	ti.Violations = append(ti.Violations, v)
	logging.ValidatorDebug("Violation %s: %s", v.Code, v.Message)
}

// checkCompatibility enforces the operator/value compatibility table.
func checkCompatibility(c Condition, kind FieldKind) (Violation, bool) {
	lk := c.Value.Kind
	ok := false
	switch c.Op {
	case "=", "!=":
		switch kind {
		case FieldString:
			ok = lk == LiteralString
		case FieldInteger:
			ok = lk == LiteralInteger || lk == LiteralFloat || lk == LiteralString
		case FieldBoolean:
			ok = lk == LiteralBoolean || lk == LiteralString
		case FieldUUID:
			ok = lk == LiteralUUID || lk == LiteralString
		case FieldPropositionValue:
			ok = lk == LiteralString
		}
	case "<", ">", "<=", ">=":
		ok = kind == FieldInteger && (lk == LiteralInteger || lk == LiteralFloat)
	case "CONTAINS":
		ok = (kind == FieldString || kind == FieldPropositionValue) && lk == LiteralString
	case "MATCHES":
		ok = kind == FieldString && lk == LiteralString
	default:
		// IN and NOT_IN lex as operators but have no compatibility row.
		ok = false
	}
	if ok {
		return Violation{}, true
	}
	return Violation{
		Code: CodeTypeMismatch,
		Message: fmt.Sprintf("TYPE_MISMATCH: operator %s on %s field %q does not accept %s literal %s",
			c.Op, kind, c.Field.String(), literalKindName(lk), c.Value.Text),
		Field:      c.Field.String(),
		Pos:        c.Pos,
		Suggestion: suggestionFor(c, kind),
	}, false
}

// checkAggregate enforces the aggregate compatibility rules. COUNT and
// DISTINCT accept any kind; SUM and AVG require numeric; MIN and MAX require
// an ordered kind. Proposition values are string-stored, so they order
// lexicographically but never sum.
func checkAggregate(a Aggregate) (Violation, bool) {
	switch a.Fn {
	case "COUNT":
		return Violation{}, true
	case "DISTINCT":
		if a.Star {
			return Violation{
				Code:    CodeInvalidAggregate,
				Message: "DISTINCT requires a field argument",
				Pos:     a.Pos,
			}, false
		}
		return Violation{}, true
	case "SUM", "AVG":
		if a.Star {
			return Violation{
				Code:    CodeInvalidAggregate,
				Message: fmt.Sprintf("%s requires a numeric field argument, not *", a.Fn),
				Pos:     a.Pos,
			}, false
		}
		if InferFieldKind(a.Field) != FieldInteger {
			return Violation{
				Code: CodeInvalidAggregate,
				Message: fmt.Sprintf("%s requires a numeric field, %q is %s",
					a.Fn, a.Field.String(), InferFieldKind(a.Field)),
				Field: a.Field.String(),
				Pos:   a.Pos,
			}, false
		}
		return Violation{}, true
	case "MIN", "MAX":
		if a.Star {
			return Violation{
				Code:    CodeInvalidAggregate,
				Message: fmt.Sprintf("%s requires a field argument, not *", a.Fn),
				Pos:     a.Pos,
			}, false
		}
		kind := InferFieldKind(a.Field)
		if kind == FieldBoolean || kind == FieldUUID {
			return Violation{
				Code: CodeInvalidAggregate,
				Message: fmt.Sprintf("%s requires an ordered field, %q is %s",
					a.Fn, a.Field.String(), kind),
				Field: a.Field.String(),
				Pos:   a.Pos,
			}, false
		}
		return Violation{}, true
	default:
		return Violation{
			Code:    CodeInvalidAggregate,
			Message: fmt.Sprintf("unknown aggregate function %s", a.Fn),
			Pos:     a.Pos,
		}, false
	}
}

// countConsistencyErrors counts fields constrained by equality against
// conflicting literal kinds across WHERE and FILTER, e.g.
// `x = 'a' AND x = 5`. These depress the compliance score without being
// violations in their own right.
func countConsistencyErrors(q *Query) int {
	kinds := make(map[string]LiteralKind)
	conflicting := make(map[string]bool)
	for _, c := range append(append([]Condition{}, q.Where...), q.Filter...) {
		if c.Op != "=" {
			continue
		}
		key := c.Field.String()
		if prev, seen := kinds[key]; seen && prev != c.Value.Kind {
			conflicting[key] = true
		}
		kinds[key] = c.Value.Kind
	}
	return len(conflicting)
}

func literalKindName(lk LiteralKind) string {
	if lk == LiteralNone {
		return "untyped"
	}
	return string(lk)
}

func suggestionFor(c Condition, kind FieldKind) string {
	if kind == FieldPropositionValue && c.Value.Kind != LiteralString {
		return fmt.Sprintf("proposition values are stored as strings; try %s = '%s'", c.Field.String(), c.Value.Text)
	}
	if strings.EqualFold(c.Op, "IN") || strings.EqualFold(c.Op, "NOT_IN") {
		return "IN and NOT_IN are not supported; use repeated equality patterns"
	}
	return ""
}
