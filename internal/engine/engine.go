// Package engine orchestrates the query pipeline: legacy rewrite, lexing,
// parsing, validation, cursor decoding, plan generation, execution, and
// envelope shaping.
package engine

import (
	"context"
	"time"

	"kipgate/internal/cursor"
	"kipgate/internal/graph"
	"kipgate/internal/kql"
	"kipgate/internal/logging"
	"kipgate/internal/plan"
)

// Query type markers carried in response metadata.
const (
	QueryTypeStandard    = "standard"
	QueryTypeAggregation = "aggregation"
	QueryTypeLegacyFind  = "legacy_find"
)

// TelemetryRecorder receives per-request bookkeeping. Implementations must
// never block the request path.
type TelemetryRecorder interface {
	Record(queryHash string, executionTimeMs int64, recordsReturned int)
}

// Engine owns the full read/write path for one gateway process.
type Engine struct {
	store   graph.Store
	cursors *cursor.Manager
	tel     TelemetryRecorder
}

// New wires the engine. tel may be nil in tests.
func New(store graph.Store, cursors *cursor.Manager, tel TelemetryRecorder) *Engine {
	return &Engine{store: store, cursors: cursors, tel: tel}
}

// ExecuteQuery runs a canonical or legacy KQL query, or an UPSERT, and
// shapes the success envelope. allowLegacy controls whether the legacy FIND
// dialect is rewritten or rejected.
func (e *Engine) ExecuteQuery(ctx context.Context, raw string, allowLegacy bool) (*Envelope, *QueryError) {
	start := time.Now()

	if IsUpsert(raw) {
		req, qe := parseUpsert(raw)
		if qe != nil {
			return nil, qe
		}
		data, qe := e.executeUpsert(ctx, req)
		if qe != nil {
			return nil, qe
		}
		execMs := time.Since(start).Milliseconds()
		if e.tel != nil {
			e.tel.Record(kql.HashText(raw), execMs, 1)
		}
		return &Envelope{
			OK:   true,
			Data: data,
			Metadata: Metadata{
				QueryType:       QueryTypeStandard,
				ExecutionTimeMs: execMs,
				ComplianceScore: 1,
			},
		}, nil
	}

	queryType := QueryTypeStandard
	text, rewritten := kql.RewriteLegacy(raw)
	if rewritten {
		if !allowLegacy {
			return nil, validationMessage(
				"legacy FIND dialect is not accepted on this endpoint",
				"use FIND Concept WHERE type = '…' FILTER … or POST to /execute_kip")
		}
		queryType = QueryTypeLegacyFind
	} else {
		text = raw
	}

	q, err := kql.Parse(text)
	if err != nil {
		return nil, syntaxError(err)
	}

	ti := kql.Validate(q)
	if !ti.Valid() {
		return nil, validationError(ti.Violations)
	}

	// Cursor decoding is soft on every failure mode: an undecodable token is
	// no cursor, a hash mismatch is a fresh start with a metadata marker.
	var lastID *int64
	var priorOffset int64
	cursorIgnored := false
	if q.Cursor != "" {
		if payload, ok := e.cursors.Decode(q.Cursor); ok {
			if payload.QueryHash == q.Hash() {
				id := payload.LastID
				lastID = &id
				priorOffset = payload.Offset
			} else {
				logging.Cursor("Ignoring cursor bound to a different query (hash %s != %s)",
					payload.QueryHash, q.Hash())
				cursorIgnored = true
			}
		}
	}

	if q.HasAggregation() && queryType == QueryTypeStandard {
		queryType = QueryTypeAggregation
	}

	pl := plan.Generate(q, lastID)
	data, pg, count, qe := e.executePlan(ctx, q, pl, priorOffset)
	if qe != nil {
		return nil, qe
	}

	execMs := time.Since(start).Milliseconds()
	if e.tel != nil {
		e.tel.Record(q.Hash(), execMs, count)
	}

	return &Envelope{
		OK:         true,
		Data:       data,
		Pagination: pg,
		Metadata: Metadata{
			QueryType:       queryType,
			HasAggregation:  q.HasAggregation(),
			ExecutionTimeMs: execMs,
			ComplianceScore: ti.ComplianceScore,
			CursorIgnored:   cursorIgnored,
		},
	}, nil
}
