package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"kipgate/internal/logging"
)

// neoStore adapts the bolt driver to the Store contract.
type neoStore struct {
	driver neo4j.DriverWithContext
}

// Connect opens a driver against the given bolt URI. The returned Store is
// safe for concurrent use; the driver pools connections internally.
func Connect(ctx context.Context, uri, user, password string) (Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, sanitizeError("opening graph driver", err)
	}
	logging.Store("Graph driver initialized for %s", uri)
	return &neoStore{driver: driver}, nil
}

func (s *neoStore) Session(ctx context.Context, write bool) (Session, error) {
	mode := neo4j.AccessModeRead
	if write {
		mode = neo4j.AccessModeWrite
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode})
	return &neoSession{sess: sess}, nil
}

func (s *neoStore) Verify(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return sanitizeError("verifying graph connectivity", err)
	}
	return nil
}

func (s *neoStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

type neoSession struct {
	sess neo4j.SessionWithContext
}

func (s *neoSession) Run(ctx context.Context, query string, params map[string]interface{}) ([]Record, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Session.Run")
	defer timer.Stop()

	res, err := s.sess.Run(ctx, query, params)
	if err != nil {
		return nil, sanitizeError("running graph query", err)
	}

	var records []Record
	for res.Next(ctx) {
		records = append(records, convertRecord(res.Record()))
	}
	if err := res.Err(); err != nil {
		return nil, sanitizeError("streaming graph result", err)
	}

	logging.StoreDebug("Graph query returned %d records", len(records))
	return records, nil
}

func (s *neoSession) RunAll(ctx context.Context, stmts []Statement) error {
	timer := logging.StartTimer(logging.CategoryStore, "Session.RunAll")
	defer timer.Stop()

	_, err := s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		for _, st := range stmts {
			res, err := tx.Run(ctx, st.Query, st.Params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return sanitizeError("running graph transaction", err)
	}
	return nil
}

func (s *neoSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

// convertRecord flattens a driver record into the store-agnostic shape.
// Nodes become graph.Node; scalars pass through unchanged.
func convertRecord(rec *neo4j.Record) Record {
	out := make(Record, len(rec.Keys))
	for i, key := range rec.Keys {
		out[key] = convertValue(rec.Values[i])
	}
	return out
}

func convertValue(v interface{}) interface{} {
	switch t := v.(type) {
	case dbtype.Node:
		return Node{InternalID: t.Id, Labels: t.Labels, Props: t.Props}
	case []interface{}:
		converted := make([]interface{}, len(t))
		for i, e := range t {
			converted[i] = convertValue(e)
		}
		return converted
	default:
		return v
	}
}
