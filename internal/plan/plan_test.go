package plan

import (
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kipgate/internal/kql"
)

func parse(t *testing.T, input string) *kql.Query {
	t.Helper()
	q, err := kql.Parse(input)
	require.NoError(t, err)
	return q
}

func TestGenerateStandardPlan(t *testing.T) {
	p := Generate(parse(t, "FIND Task WHERE status = 'active' LIMIT 2"), nil)

	assert.False(t, p.AggregationMode)
	assert.False(t, p.CursorApplied)
	assert.Equal(t, 2, p.Limit)

	assert.Contains(t, p.QueryText, "MATCH (c:Concept)")
	assert.Contains(t, p.QueryText, "c.type = $concept_type")
	assert.Contains(t, p.QueryText, "c.status = $cond0")
	assert.Contains(t, p.QueryText, "RETURN c AS concept, propositions")
	assert.Contains(t, p.QueryText, "ORDER BY id(c)")
	assert.Contains(t, p.QueryText, "LIMIT $limit")

	want := map[string]interface{}{
		"concept_type": "Task",
		"cond0":        "active",
		"limit":        3,
	}
	if diff := cmp.Diff(want, p.Parameters); diff != "" {
		t.Errorf("parameters mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateNeverInterpolatesLiterals(t *testing.T) {
	p := Generate(parse(t, "FIND Task WHERE status = 'activeVALUE' FILTER metadata.owner = 'aliceVALUE'"), nil)
	assert.NotContains(t, p.QueryText, "activeVALUE")
	assert.NotContains(t, p.QueryText, "aliceVALUE")
	assert.Equal(t, "activeVALUE", p.Parameters["cond0"])
	assert.Equal(t, "aliceVALUE", p.Parameters["cond1"])
}

func TestGenerateDottedFieldTraversal(t *testing.T) {
	p := Generate(parse(t, "FIND Task FILTER metadata.priority = 'high'"), nil)

	assert.Contains(t, p.QueryText, "MATCH (c)-[:EXPRESSES]->(f0:Proposition {predicate: $cond0_pred})")
	assert.Contains(t, p.QueryText, "WITH c, f0")
	assert.Contains(t, p.QueryText, "f0.object = $cond0")
	assert.Equal(t, "metadata.priority", p.Parameters["cond0_pred"])
	assert.Equal(t, "high", p.Parameters["cond0"])
}

func TestGenerateNotEqualAntiJoin(t *testing.T) {
	p := Generate(parse(t, "FIND Task FILTER metadata.state != 'done'"), nil)

	assert.Contains(t, p.QueryText, "OPTIONAL MATCH (c)-[:EXPRESSES]->(f0:Proposition {predicate: $cond0_pred})")
	assert.Contains(t, p.QueryText, "(f0 IS NULL OR f0.object <> $cond0)")
}

func TestGenerateContainsIsCaseInsensitive(t *testing.T) {
	p := Generate(parse(t, "FIND Task WHERE name CONTAINS 'Wid'"), nil)
	assert.Contains(t, p.QueryText, "toLower(c.name) CONTAINS toLower($cond0)")
}

func TestGenerateCursorInjection(t *testing.T) {
	q := parse(t, "FIND Task WHERE status = 'active' LIMIT 2")

	base := Generate(q, nil)
	lastID := int64(17)
	paged := Generate(q, &lastID)

	assert.True(t, paged.CursorApplied)
	assert.Contains(t, paged.QueryText, "id(c) > $cursor_last_id")
	assert.Equal(t, int64(17), paged.Parameters["cursor_last_id"])

	// Without a matching cursor the plan must be byte-identical to the
	// cursorless one.
	again := Generate(q, nil)
	assert.Equal(t, base.QueryText, again.QueryText)
	if diff := cmp.Diff(base.Parameters, again.Parameters); diff != "" {
		t.Errorf("cursorless plans diverged (-first +second):\n%s", diff)
	}
	assert.NotEqual(t, base.QueryText, paged.QueryText)
}

func TestGenerateFieldProjection(t *testing.T) {
	p := Generate(parse(t, "FIND name, metadata.priority WHERE created > 5"), nil)

	assert.Contains(t, p.QueryText, "OPTIONAL MATCH (c)-[:EXPRESSES]->(proj1:Proposition {predicate: $proj1_pred})")
	assert.Contains(t, p.QueryText, "RETURN c.name AS name, proj1.object AS metadata_priority")
	assert.Equal(t, "metadata.priority", p.Parameters["proj1_pred"])
	assert.Equal(t, int64(5), p.Parameters["cond0"])
}

func TestGenerateGlobalAggregation(t *testing.T) {
	p := Generate(parse(t, "FIND Task AGGREGATE COUNT(*)"), nil)

	require.True(t, p.AggregationMode)
	lines := strings.Split(p.QueryText, "\n")
	assert.Equal(t, "WITH 1 as dummy", lines[0])
	assert.Equal(t, "OPTIONAL MATCH (c:Concept)", lines[1])
	assert.Contains(t, p.QueryText, "RETURN count(c) AS count_all")
	assert.NotContains(t, p.QueryText, "LIMIT")
}

func TestGenerateGroupedAggregation(t *testing.T) {
	p := Generate(parse(t, "FIND Task GROUP BY status AGGREGATE COUNT(*), SUM(created)"), nil)

	assert.Contains(t, p.QueryText, "WITH DISTINCT c")
	assert.Contains(t, p.QueryText, "WITH c, c.status AS status")
	assert.Contains(t, p.QueryText, "RETURN status, count(c) AS count_all, sum(c.created) AS sum_created")
	assert.NotContains(t, p.QueryText, "ORDER BY")
}

func TestGenerateDottedGroupBy(t *testing.T) {
	p := Generate(parse(t, "FIND Task GROUP BY metadata.team AGGREGATE COUNT(*)"), nil)

	assert.Contains(t, p.QueryText, "OPTIONAL MATCH (c)-[:EXPRESSES]->(group0:Proposition {predicate: $group0_pred})")
	assert.Contains(t, p.QueryText, "group0.object AS metadata_team")
	assert.Contains(t, p.QueryText, "RETURN metadata_team, count(c) AS count_all")
	assert.Equal(t, "metadata.team", p.Parameters["group0_pred"])
}

func TestGenerateDistinctAggregate(t *testing.T) {
	p := Generate(parse(t, "FIND Task AGGREGATE DISTINCT(status)"), nil)
	assert.Contains(t, p.QueryText, "count(DISTINCT c.status) AS distinct_status")
}

func TestGenerateConceptProjectionHasNoTypeFilter(t *testing.T) {
	p := Generate(parse(t, "FIND Concept WHERE type = 'Task'"), nil)

	assert.NotContains(t, p.Parameters, "concept_type")
	assert.Contains(t, p.QueryText, "c.type = $cond0")
	assert.Equal(t, "Task", p.Parameters["cond0"])
}

// A rewritten legacy query must produce conditions a single stored concept
// can satisfy: exactly one constraint on c.type, bound to the legacy label.
func TestGenerateLegacyRewriteIsSatisfiable(t *testing.T) {
	text, rewritten := kql.RewriteLegacy("FIND Task WHERE status = 'active'")
	require.True(t, rewritten)
	p := Generate(parse(t, text), nil)

	typeRefs := regexp.MustCompile(`c\.type = \$(\w+)`).FindAllStringSubmatch(p.QueryText, -1)
	require.Len(t, typeRefs, 1)
	assert.Equal(t, "Task", p.Parameters[typeRefs[0][1]])
	assert.Contains(t, p.QueryText, "c.status = $cond1")
	assert.Equal(t, "active", p.Parameters["cond1"])
}

func TestGenerateAggregationIgnoresCursorAndLimit(t *testing.T) {
	lastID := int64(5)
	p := Generate(parse(t, "FIND Task AGGREGATE COUNT(*) LIMIT 10"), &lastID)

	assert.False(t, p.CursorApplied)
	assert.NotContains(t, p.QueryText, "cursor_last_id")
	assert.NotContains(t, p.QueryText, "$limit")
}

func TestGenerateStarProjectionNoTypeFilter(t *testing.T) {
	p := Generate(parse(t, "FIND *"), nil)
	assert.NotContains(t, p.QueryText, "concept_type")
	assert.NotContains(t, p.QueryText, "WHERE")
	assert.Contains(t, p.QueryText, "RETURN c AS concept, propositions")
	assert.Equal(t, 101, p.Parameters["limit"])
}
