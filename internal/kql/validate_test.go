package kql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, input string) *Query {
	t.Helper()
	q, err := Parse(input)
	require.NoError(t, err, "Parse(%q)", input)
	return q
}

func TestValidateCleanQuery(t *testing.T) {
	ti := Validate(mustParse(t, "FIND Task WHERE status = 'active' AND created > 100 LIMIT 10"))
	assert.True(t, ti.Valid())
	assert.Equal(t, 1.0, ti.ComplianceScore)
	assert.Equal(t, FieldPropositionValue, ti.FieldKinds["status"])
	assert.Equal(t, FieldInteger, ti.FieldKinds["created"])
}

func TestValidateFieldKindInference(t *testing.T) {
	tests := []struct {
		path string
		want FieldKind
	}{
		{"name", FieldString},
		{"type", FieldString},
		{"id", FieldUUID},
		{"created", FieldInteger},
		{"updated", FieldInteger},
		{"priority", FieldPropositionValue},
		{"metadata.priority", FieldPropositionValue},
	}
	for _, tt := range tests {
		got := InferFieldKind(FieldPath{Parts: strings.Split(tt.path, ".")})
		assert.Equal(t, tt.want, got, "path %s", tt.path)
	}
}

func TestValidateTypeMismatchOnPropositionNumber(t *testing.T) {
	// A number literal against a string-stored proposition predicate is the
	// canonical mismatch: propositions only compare against strings.
	ti := Validate(mustParse(t, "FIND Task WHERE priority = 5"))
	require.False(t, ti.Valid())
	assert.Equal(t, CodeTypeMismatch, ti.Violations[0].Code)
	assert.Contains(t, ti.Violations[0].Message, "TYPE_MISMATCH")
	assert.NotEmpty(t, ti.Violations[0].Suggestion)
}

func TestValidateCompatibilityTable(t *testing.T) {
	tests := []struct {
		name  string
		query string
		valid bool
	}{
		{"StringEquality", "FIND Task WHERE name = 'x'", true},
		{"StringRange", "FIND Task WHERE name > 'x'", false},
		{"StringContains", "FIND Task WHERE name CONTAINS 'x'", true},
		{"StringMatches", "FIND Task WHERE name MATCHES 'x.*'", true},
		{"IntegerNumber", "FIND Task WHERE created = 10", true},
		{"IntegerString", "FIND Task WHERE created = '10'", true},
		{"IntegerRange", "FIND Task WHERE created >= 10", true},
		{"IntegerRangeString", "FIND Task WHERE created >= '10'", false},
		{"IntegerContains", "FIND Task WHERE created CONTAINS '1'", false},
		{"UUIDEquality", "FIND Task WHERE id = 6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
		{"UUIDString", "FIND Task WHERE id = 'abc'", true},
		{"UUIDNumber", "FIND Task WHERE id = 5", false},
		{"PropositionString", "FIND Task WHERE status = 'active'", true},
		{"PropositionBoolean", "FIND Task WHERE status = true", false},
		{"PropositionContains", "FIND Task WHERE status CONTAINS 'act'", true},
		{"PropositionMatches", "FIND Task WHERE status MATCHES 'a.*'", false},
		{"InOperator", "FIND Task WHERE status IN 'a'", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ti := Validate(mustParse(t, tt.query))
			assert.Equal(t, tt.valid, ti.Valid(), "violations: %+v", ti.Violations)
		})
	}
}

func TestValidateAggregates(t *testing.T) {
	tests := []struct {
		name  string
		query string
		valid bool
	}{
		{"CountStar", "FIND Task AGGREGATE COUNT(*)", true},
		{"CountField", "FIND Task AGGREGATE COUNT(status)", true},
		{"SumInteger", "FIND Task AGGREGATE SUM(created)", true},
		{"SumProposition", "FIND Task AGGREGATE SUM(metadata.score)", false},
		{"SumStar", "FIND Task AGGREGATE SUM(*)", false},
		{"AvgInteger", "FIND Task AGGREGATE AVG(updated)", true},
		{"MinProposition", "FIND Task AGGREGATE MIN(status)", true},
		{"MaxUUID", "FIND Task AGGREGATE MAX(id)", false},
		{"DistinctField", "FIND Task AGGREGATE DISTINCT(status)", true},
		{"DistinctStar", "FIND Task AGGREGATE DISTINCT(*)", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ti := Validate(mustParse(t, tt.query))
			assert.Equal(t, tt.valid, ti.Valid(), "violations: %+v", ti.Violations)
			if !tt.valid {
				assert.Equal(t, CodeInvalidAggregate, ti.Violations[0].Code)
			}
		})
	}
}

func TestValidateCompositionRules(t *testing.T) {
	// Field projection plus AGGREGATE is rejected.
	ti := Validate(mustParse(t, "FIND name, status AGGREGATE COUNT(*)"))
	require.False(t, ti.Valid())
	assert.Equal(t, CodeIncompatibleClauses, ti.Violations[0].Code)

	// A concept-type projection with AGGREGATE is fine.
	ti = Validate(mustParse(t, "FIND Task GROUP BY status AGGREGATE COUNT(*)"))
	assert.True(t, ti.Valid(), "violations: %+v", ti.Violations)

	// Star projection with AGGREGATE is fine.
	ti = Validate(mustParse(t, "FIND * AGGREGATE COUNT(*)"))
	assert.True(t, ti.Valid(), "violations: %+v", ti.Violations)
}

func TestValidateMissingFind(t *testing.T) {
	ti := Validate(mustParse(t, "WHERE status = 'active'"))
	require.False(t, ti.Valid())
	assert.Equal(t, CodeMissingFindClause, ti.Violations[0].Code)
}

func TestValidateFractionalLimit(t *testing.T) {
	ti := Validate(mustParse(t, "FIND Task LIMIT 1.5"))
	require.False(t, ti.Valid())
	assert.Equal(t, CodeInvalidLimit, ti.Violations[0].Code)
}

func TestValidateUnsupportedClause(t *testing.T) {
	ti := Validate(mustParse(t, "FIND Task UNION other"))
	require.False(t, ti.Valid())
	assert.Equal(t, CodeUnsupportedClause, ti.Violations[0].Code)
}

func TestComplianceScoreAdvisory(t *testing.T) {
	// One violation out of several checks: score drops but stays in [0,1].
	ti := Validate(mustParse(t, "FIND Task WHERE status = 'active' AND priority = 5"))
	require.False(t, ti.Valid())
	assert.GreaterOrEqual(t, ti.ComplianceScore, 0.0)
	assert.Less(t, ti.ComplianceScore, 1.0)

	// Consistency errors depress the score without adding violations.
	ti = Validate(mustParse(t, "FIND Task WHERE status = 'a' FILTER status = 'b'"))
	assert.True(t, ti.Valid())
	assert.Equal(t, 1.0, ti.ComplianceScore)
}
