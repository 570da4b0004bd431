package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kipgate/internal/graph"
	"kipgate/internal/kql"
	"kipgate/internal/logging"
)

// PropositionRequest is the body of POST /propositions.
type PropositionRequest struct {
	Action    string `json:"action"`
	Subject   string `json:"subject,omitempty"`
	Predicate string `json:"predicate,omitempty"`
	Object    string `json:"object,omitempty"`
	Depth     int    `json:"depth,omitempty"`
}

const (
	defaultGraphDepth = 3
	maxGraphDepth     = 5
)

// Propositions dispatches a direct proposition operation.
func (e *Engine) Propositions(ctx context.Context, req PropositionRequest) (*Envelope, *QueryError) {
	start := time.Now()

	var data interface{}
	var qe *QueryError
	switch req.Action {
	case "create":
		data, qe = e.createProposition(ctx, req)
	case "query":
		data, qe = e.queryPropositions(ctx, req)
	case "find":
		data, qe = e.findConcepts(ctx, req)
	case "graph":
		data, qe = e.traverseGraph(ctx, req)
	default:
		qe = validationMessage(
			fmt.Sprintf("unknown proposition action %q", req.Action),
			"use one of create, query, find, graph")
	}
	if qe != nil {
		return nil, qe
	}

	execMs := time.Since(start).Milliseconds()
	if e.tel != nil {
		e.tel.Record(kql.HashText("propositions/"+req.Action), execMs, resultCount(data))
	}

	return &Envelope{
		OK:   true,
		Data: data,
		Metadata: Metadata{
			QueryType:       "proposition_" + req.Action,
			ExecutionTimeMs: execMs,
			ComplianceScore: 1,
		},
	}, nil
}

func resultCount(data interface{}) int {
	switch v := data.(type) {
	case []map[string]interface{}:
		return len(v)
	case []graphEdge:
		return len(v)
	default:
		return 0
	}
}

func (e *Engine) createProposition(ctx context.Context, req PropositionRequest) (interface{}, *QueryError) {
	if req.Subject == "" || req.Predicate == "" || req.Object == "" {
		return nil, validationMessage("create requires subject, predicate, and object", "")
	}

	now := time.Now().UnixMilli()
	stmts := []graph.Statement{
		{
			Query: "MERGE (c:Concept {name: $subject})\n" +
				"ON CREATE SET c.id = $id, c.created = $now\n" +
				"SET c.updated = $now",
			Params: map[string]interface{}{
				"subject": req.Subject,
				"id":      uuid.NewString(),
				"now":     now,
			},
		},
		{
			Query: "MATCH (c:Concept {name: $subject})\n" +
				"MERGE (c)-[:EXPRESSES]->(p:Proposition {predicate: $predicate})\n" +
				"SET p.object = $object",
			Params: map[string]interface{}{
				"subject":   req.Subject,
				"predicate": req.Predicate,
				"object":    req.Object,
			},
		},
	}

	sess, err := e.store.Session(ctx, true)
	if err != nil {
		return nil, classifyStoreError(ctx, err)
	}
	defer sess.Close(ctx)

	if err := sess.RunAll(ctx, stmts); err != nil {
		return nil, classifyStoreError(ctx, err)
	}
	logging.WriterDebug("Proposition created: %s -[%s]-> %s", req.Subject, req.Predicate, req.Object)
	return []map[string]interface{}{{
		"subject":   req.Subject,
		"predicate": req.Predicate,
		"object":    req.Object,
	}}, nil
}

func (e *Engine) queryPropositions(ctx context.Context, req PropositionRequest) (interface{}, *QueryError) {
	if req.Subject == "" {
		return nil, validationMessage("query requires a subject", "")
	}

	query := "MATCH (c:Concept {name: $subject})-[:EXPRESSES]->(p:Proposition)\n"
	params := map[string]interface{}{"subject": req.Subject}
	if req.Predicate != "" {
		query += "WHERE p.predicate = $predicate\n"
		params["predicate"] = req.Predicate
	}
	query += "RETURN p.predicate AS predicate, p.object AS object\nORDER BY p.predicate"

	sess, err := e.store.Session(ctx, false)
	if err != nil {
		return nil, classifyStoreError(ctx, err)
	}
	defer sess.Close(ctx)

	records, err := sess.Run(ctx, query, params)
	if err != nil {
		return nil, classifyStoreError(ctx, err)
	}
	rows := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		rows = append(rows, map[string]interface{}(rec))
	}
	return rows, nil
}

func (e *Engine) findConcepts(ctx context.Context, req PropositionRequest) (interface{}, *QueryError) {
	if req.Predicate == "" || req.Object == "" {
		return nil, validationMessage("find requires predicate and object", "")
	}

	query := "MATCH (c:Concept)-[:EXPRESSES]->(p:Proposition {predicate: $predicate})\n" +
		"WHERE p.object = $object\n" +
		"RETURN c AS concept"
	params := map[string]interface{}{
		"predicate": req.Predicate,
		"object":    req.Object,
	}

	sess, err := e.store.Session(ctx, false)
	if err != nil {
		return nil, classifyStoreError(ctx, err)
	}
	defer sess.Close(ctx)

	records, err := sess.Run(ctx, query, params)
	if err != nil {
		return nil, classifyStoreError(ctx, err)
	}
	rows := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		if n, ok := rec.NodeValue("concept"); ok {
			rows = append(rows, n.Props)
		}
	}
	return rows, nil
}

// graphEdge is one traversed proposition in a graph action result.
type graphEdge struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// traverseGraph walks concept adjacency breadth-first. A proposition whose
// object names another concept is an edge. With an object the action finds a
// path from subject to object; without one it returns the bounded
// neighborhood.
func (e *Engine) traverseGraph(ctx context.Context, req PropositionRequest) (interface{}, *QueryError) {
	if req.Subject == "" {
		return nil, validationMessage("graph requires a subject", "")
	}
	depth := req.Depth
	if depth <= 0 {
		depth = defaultGraphDepth
	}
	if depth > maxGraphDepth {
		depth = maxGraphDepth
	}

	sess, err := e.store.Session(ctx, false)
	if err != nil {
		return nil, classifyStoreError(ctx, err)
	}
	defer sess.Close(ctx)

	logging.ExecutorDebug("Graph traversal: %s -> %q (depth=%d)", req.Subject, req.Object, depth)

	type queueItem struct {
		name  string
		depth int
	}

	// cameFrom maps a node to the edge that reached it. A nil edge marks the
	// start node; absence marks unvisited.
	cameFrom := map[string]*graphEdge{req.Subject: nil}
	queue := []queueItem{{name: req.Subject, depth: 0}}
	var edges []graphEdge

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if req.Object != "" && current.name == req.Object {
			// Reconstruct the path by backtracking.
			path := make([]graphEdge, current.depth)
			node := current.name
			for i := current.depth - 1; i >= 0; i-- {
				edge := cameFrom[node]
				if edge == nil {
					break
				}
				path[i] = *edge
				node = edge.Subject
			}
			return path, nil
		}
		if current.depth >= depth {
			continue
		}

		records, err := sess.Run(ctx,
			"MATCH (c:Concept {name: $name})-[:EXPRESSES]->(p:Proposition)\n"+
				"RETURN p.predicate AS predicate, p.object AS object",
			map[string]interface{}{"name": current.name})
		if err != nil {
			return nil, classifyStoreError(ctx, err)
		}

		for _, rec := range records {
			predicate, _ := rec.StringValue("predicate")
			object, _ := rec.StringValue("object")
			if object == "" {
				continue
			}
			edge := graphEdge{Subject: current.name, Predicate: predicate, Object: object}
			edges = append(edges, edge)
			if _, visited := cameFrom[object]; !visited {
				ec := edge
				cameFrom[object] = &ec
				queue = append(queue, queueItem{name: object, depth: current.depth + 1})
			}
		}
	}

	if req.Object != "" {
		// No path inside the depth bound.
		return []graphEdge{}, nil
	}
	if edges == nil {
		edges = []graphEdge{}
	}
	return edges, nil
}
