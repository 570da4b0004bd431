package engine

import (
	"context"

	"kipgate/internal/graph"
	"kipgate/internal/kql"
	"kipgate/internal/logging"
	"kipgate/internal/plan"
)

// internalIDKey is the plan's rider column on projected rows.
const internalIDKey = "internal_id"

// executePlan runs a plan inside a request-scoped read session. The session
// is released on every path. It returns the shaped data, pagination for
// standard queries (nil for aggregation), and the emitted row count.
func (e *Engine) executePlan(ctx context.Context, q *kql.Query, p *plan.Plan, priorOffset int64) (interface{}, *Pagination, int, *QueryError) {
	timer := logging.StartTimer(logging.CategoryExecutor, "executePlan")
	defer timer.Stop()

	sess, err := e.store.Session(ctx, false)
	if err != nil {
		return nil, nil, 0, classifyStoreError(ctx, err)
	}
	defer sess.Close(ctx)

	records, err := sess.Run(ctx, p.QueryText, p.Parameters)
	if err != nil {
		return nil, nil, 0, classifyStoreError(ctx, err)
	}

	if p.AggregationMode {
		rows := make([]map[string]interface{}, 0, len(records))
		for _, rec := range records {
			rows = append(rows, map[string]interface{}(rec))
		}
		logging.ExecutorDebug("Aggregation produced %d rows", len(rows))
		return rows, nil, len(rows), nil
	}

	// Pagination sentinel: the plan fetched limit+1 rows; a full fetch means
	// a further page exists.
	hasMore := len(records) > p.Limit
	if hasMore {
		records = records[:p.Limit]
	}

	rows := make([]interface{}, 0, len(records))
	var lastInternalID int64
	for _, rec := range records {
		if n, ok := rec.NodeValue("concept"); ok {
			rows = append(rows, shapeConceptRow(n, rec["propositions"]))
			lastInternalID = n.InternalID
			continue
		}
		if id, ok := rec.IntValue(internalIDKey); ok {
			lastInternalID = id
		}
		row := make(map[string]interface{}, len(rec))
		for k, v := range rec {
			if k == internalIDKey {
				continue
			}
			row[k] = v
		}
		rows = append(rows, row)
	}

	pg := &Pagination{HasMore: hasMore, Limit: p.Limit}
	if hasMore {
		token, err := e.cursors.Issue(lastInternalID, priorOffset+int64(len(rows)), q.Hash())
		if err != nil {
			return nil, nil, 0, classifyStoreError(ctx, err)
		}
		pg.Cursor = &token
	}

	logging.ExecutorDebug("Standard query produced %d rows (hasMore=%v)", len(rows), hasMore)
	return rows, pg, len(rows), nil
}

// shapeConceptRow flattens a concept node and its collected propositions
// into the wire shape.
func shapeConceptRow(n graph.Node, props interface{}) ConceptRow {
	row := ConceptRow{
		Concept:      n.Props,
		Propositions: []map[string]interface{}{},
	}
	if list, ok := props.([]interface{}); ok {
		for _, item := range list {
			if pn, ok := item.(graph.Node); ok {
				row.Propositions = append(row.Propositions, pn.Props)
			}
		}
	}
	return row
}
