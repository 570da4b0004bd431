package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kipgate/internal/cursor"
	"kipgate/internal/graph"
	"kipgate/internal/kql"
)

const testCursorSecret = "kipgate-test-cursor-secret-32bb!"

func newTestEngine(t *testing.T, sess *MockSession) (*Engine, *MockStore, *MockTelemetry) {
	t.Helper()
	mgr, err := cursor.NewManager(testCursorSecret, time.Hour)
	require.NoError(t, err)
	store := &MockStore{Sess: sess}
	tel := &MockTelemetry{}
	return New(store, mgr, tel), store, tel
}

func conceptRecord(id int64, name string, props map[string]interface{}) graph.Record {
	all := map[string]interface{}{"name": name, "type": "Task"}
	for k, v := range props {
		all[k] = v
	}
	return graph.Record{
		"concept":      graph.Node{InternalID: id, Labels: []string{"Concept"}, Props: all},
		"propositions": []interface{}{},
	}
}

// taskStore serves three matching concepts with ids 1, 2, 3 and honors the
// cursor predicate and the fetch limit like a real store would.
func taskStore() *MockSession {
	return &MockSession{
		RunFunc: func(ctx context.Context, query string, params map[string]interface{}) ([]graph.Record, error) {
			var after int64
			if v, ok := params["cursor_last_id"]; ok {
				after = v.(int64)
			}
			limit := params["limit"].(int)
			var out []graph.Record
			for id := int64(1); id <= 3 && len(out) < limit; id++ {
				if id > after {
					out = append(out, conceptRecord(id, "task-"+string(rune('0'+id)), nil))
				}
			}
			return out, nil
		},
	}
}

func TestExecuteQueryPaginatesAcrossRequests(t *testing.T) {
	sess := taskStore()
	eng, store, tel := newTestEngine(t, sess)

	env, qe := eng.ExecuteQuery(context.Background(), "FIND Task WHERE status = 'active' LIMIT 2", true)
	require.Nil(t, qe)
	require.True(t, env.OK)

	rows := env.Data.([]interface{})
	assert.Len(t, rows, 2)
	require.NotNil(t, env.Pagination)
	assert.True(t, env.Pagination.HasMore)
	require.NotNil(t, env.Pagination.Cursor)
	assert.Equal(t, 2, env.Pagination.Limit)
	assert.Equal(t, QueryTypeStandard, env.Metadata.QueryType)
	assert.False(t, env.Metadata.HasAggregation)
	assert.Equal(t, 1.0, env.Metadata.ComplianceScore)

	// Second page picks up after internal id 2 and exhausts the result.
	env2, qe := eng.ExecuteQuery(context.Background(),
		"FIND Task WHERE status = 'active' LIMIT 2 CURSOR '"+*env.Pagination.Cursor+"'", true)
	require.Nil(t, qe)
	rows2 := env2.Data.([]interface{})
	assert.Len(t, rows2, 1)
	assert.False(t, env2.Pagination.HasMore)
	assert.Nil(t, env2.Pagination.Cursor)
	assert.False(t, env2.Metadata.CursorIgnored)

	// Both requests released their sessions and recorded telemetry.
	assert.Equal(t, store.Opened(), sess.Closed())
	assert.Len(t, tel.Entries(), 2)
	assert.Equal(t, 2, tel.Entries()[0].RecordsReturned)
}

func TestExecuteQueryExactLimitHasNoMore(t *testing.T) {
	sess := &MockSession{
		RunFunc: func(ctx context.Context, query string, params map[string]interface{}) ([]graph.Record, error) {
			return []graph.Record{
				conceptRecord(1, "a", nil),
				conceptRecord(2, "b", nil),
			}, nil
		},
	}
	eng, _, _ := newTestEngine(t, sess)

	env, qe := eng.ExecuteQuery(context.Background(), "FIND Task LIMIT 2", true)
	require.Nil(t, qe)
	assert.Len(t, env.Data.([]interface{}), 2)
	assert.False(t, env.Pagination.HasMore)
	assert.Nil(t, env.Pagination.Cursor)
}

func TestExecuteQueryAggregation(t *testing.T) {
	sess := &MockSession{
		RunFunc: func(ctx context.Context, query string, params map[string]interface{}) ([]graph.Record, error) {
			return []graph.Record{
				{"status": "active", "count_all": int64(15)},
				{"status": "done", "count_all": int64(8)},
			}, nil
		},
	}
	eng, _, _ := newTestEngine(t, sess)

	env, qe := eng.ExecuteQuery(context.Background(), "FIND Task GROUP BY status AGGREGATE COUNT(*)", true)
	require.Nil(t, qe)
	assert.Nil(t, env.Pagination)
	assert.Equal(t, QueryTypeAggregation, env.Metadata.QueryType)
	assert.True(t, env.Metadata.HasAggregation)

	rows := env.Data.([]map[string]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, int64(15), rows[0]["count_all"])
	assert.Equal(t, "active", rows[0]["status"])
}

func TestExecuteQueryTypeMismatchIsTyped(t *testing.T) {
	eng, store, _ := newTestEngine(t, &MockSession{})

	_, qe := eng.ExecuteQuery(context.Background(), "FIND Task WHERE priority = 5", true)
	require.NotNil(t, qe)
	assert.Equal(t, KindValidation, qe.Kind)
	assert.Equal(t, CodeValidation, qe.Code)
	assert.Contains(t, qe.Message, "TYPE_MISMATCH")
	assert.Equal(t, 400, qe.HTTPStatus())
	assert.Equal(t, 0, store.Opened(), "invalid queries must not touch the store")
}

func TestExecuteQuerySyntaxErrorCarriesOffset(t *testing.T) {
	eng, _, _ := newTestEngine(t, &MockSession{})

	_, qe := eng.ExecuteQuery(context.Background(), "FIND Task WHERE a = #", true)
	require.NotNil(t, qe)
	assert.Equal(t, KindSyntax, qe.Kind)
	assert.Equal(t, CodeSyntax, qe.Code)
	assert.Equal(t, 20, qe.Position)
}

func TestExecuteQueryForeignCursorIgnored(t *testing.T) {
	sess := taskStore()
	eng, _, _ := newTestEngine(t, sess)

	other, err := kql.Parse("FIND Task WHERE status = 'done'")
	require.NoError(t, err)
	foreign, err := eng.cursors.Issue(2, 2, other.Hash())
	require.NoError(t, err)

	env, qe := eng.ExecuteQuery(context.Background(),
		"FIND Task WHERE status = 'active' LIMIT 2 CURSOR '"+foreign+"'", true)
	require.Nil(t, qe)
	assert.True(t, env.Metadata.CursorIgnored)
	assert.Len(t, env.Data.([]interface{}), 2, "results must start from the top")

	// The plan must not carry a cursor predicate.
	for _, call := range sess.Runs() {
		_, bound := call.Params["cursor_last_id"]
		assert.False(t, bound)
	}
}

func TestExecuteQueryGarbageCursorIsAbsent(t *testing.T) {
	sess := taskStore()
	eng, _, _ := newTestEngine(t, sess)

	env, qe := eng.ExecuteQuery(context.Background(),
		"FIND Task WHERE status = 'active' LIMIT 2 CURSOR 'not-a-real-token'", true)
	require.Nil(t, qe)
	assert.False(t, env.Metadata.CursorIgnored)
	assert.Len(t, env.Data.([]interface{}), 2)
}

func TestExecuteQueryLegacyRewrite(t *testing.T) {
	sess := taskStore()
	eng, _, _ := newTestEngine(t, sess)

	env, qe := eng.ExecuteQuery(context.Background(), "FIND Task WHERE status = 'active'", true)
	require.Nil(t, qe)
	assert.Equal(t, QueryTypeLegacyFind, env.Metadata.QueryType)

	// The rewritten query filters on the concept type through the WHERE
	// condition alone; the base Concept projection adds no filter of its own.
	call := sess.Runs()[0]
	assert.NotContains(t, call.Params, "concept_type")
	assert.Equal(t, "Task", call.Params["cond0"])
	assert.Equal(t, "active", call.Params["cond1"])
}

func TestExecuteQueryLegacyRejectedWhenDisallowed(t *testing.T) {
	eng, store, _ := newTestEngine(t, &MockSession{})

	_, qe := eng.ExecuteQuery(context.Background(), "FIND Task WHERE status = 'active'", false)
	require.NotNil(t, qe)
	assert.Equal(t, KindValidation, qe.Kind)
	assert.Contains(t, qe.Message, "legacy")
	assert.Equal(t, 0, store.Opened())

	// Canonical queries still pass on the strict endpoint.
	sess := taskStore()
	eng2, _, _ := newTestEngine(t, sess)
	env, qe := eng2.ExecuteQuery(context.Background(), "FIND Task WHERE status = 'active' LIMIT 2", false)
	require.Nil(t, qe)
	assert.Equal(t, QueryTypeStandard, env.Metadata.QueryType)
}

func TestExecuteQueryStoreFailureReleasesSession(t *testing.T) {
	sess := &MockSession{
		RunFunc: func(ctx context.Context, query string, params map[string]interface{}) ([]graph.Record, error) {
			return nil, errors.New("running graph query: connection reset")
		},
	}
	eng, store, _ := newTestEngine(t, sess)

	_, qe := eng.ExecuteQuery(context.Background(), "FIND Task LIMIT 1", true)
	require.NotNil(t, qe)
	assert.Equal(t, KindInternal, qe.Kind)
	assert.Equal(t, CodeInternal, qe.Code)
	assert.Equal(t, 500, qe.HTTPStatus())
	assert.Equal(t, store.Opened(), sess.Closed())
}

func TestExecuteQueryDeadlineBecomesTimeout(t *testing.T) {
	sess := &MockSession{
		RunFunc: func(ctx context.Context, query string, params map[string]interface{}) ([]graph.Record, error) {
			return nil, ctx.Err()
		},
	}
	eng, _, _ := newTestEngine(t, sess)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, qe := eng.ExecuteQuery(ctx, "FIND Task LIMIT 1", true)
	require.NotNil(t, qe)
	assert.Equal(t, KindTimeout, qe.Kind)
	assert.Equal(t, CodeTimeout, qe.Code)
	assert.Equal(t, 504, qe.HTTPStatus())
}

func TestExecuteQueryProjectionRows(t *testing.T) {
	sess := &MockSession{
		RunFunc: func(ctx context.Context, query string, params map[string]interface{}) ([]graph.Record, error) {
			return []graph.Record{
				{"name": "Review", "metadata_priority": "high", "internal_id": int64(4)},
			}, nil
		},
	}
	eng, _, _ := newTestEngine(t, sess)

	env, qe := eng.ExecuteQuery(context.Background(), "FIND name, metadata.priority LIMIT 5", true)
	require.Nil(t, qe)
	rows := env.Data.([]interface{})
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, "Review", row["name"])
	assert.Equal(t, "high", row["metadata_priority"])
	_, leaked := row["internal_id"]
	assert.False(t, leaked, "the internal id rider must not reach the client")
}

func TestErrorEnvelopeShape(t *testing.T) {
	env := NewErrorEnvelope(&QueryError{
		Kind:       KindSyntax,
		Code:       CodeSyntax,
		Message:    "unexpected character",
		Position:   20,
		Suggestion: "remove it",
	})
	assert.False(t, env.OK)
	assert.Equal(t, "unexpected character", env.Error)
	assert.Equal(t, "KIP001", env.Code)
	require.NotNil(t, env.Position)
	assert.Equal(t, 20, *env.Position)

	noPos := NewErrorEnvelope(AuthError())
	assert.Nil(t, noPos.Position)
	assert.Equal(t, "KIP002", noPos.Code)
}
