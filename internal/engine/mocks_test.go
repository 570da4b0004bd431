package engine

import (
	"context"
	"sync"

	"kipgate/internal/graph"
)

// MockSession implements graph.Session for testing.
type MockSession struct {
	RunFunc    func(ctx context.Context, query string, params map[string]interface{}) ([]graph.Record, error)
	RunAllFunc func(ctx context.Context, stmts []graph.Statement) error

	mu      sync.Mutex
	runs    []runCall
	batches [][]graph.Statement
	closed  int
}

type runCall struct {
	Query  string
	Params map[string]interface{}
}

func (m *MockSession) Run(ctx context.Context, query string, params map[string]interface{}) ([]graph.Record, error) {
	m.mu.Lock()
	m.runs = append(m.runs, runCall{Query: query, Params: params})
	m.mu.Unlock()
	if m.RunFunc != nil {
		return m.RunFunc(ctx, query, params)
	}
	return nil, nil
}

func (m *MockSession) RunAll(ctx context.Context, stmts []graph.Statement) error {
	m.mu.Lock()
	m.batches = append(m.batches, stmts)
	m.mu.Unlock()
	if m.RunAllFunc != nil {
		return m.RunAllFunc(ctx, stmts)
	}
	return nil
}

func (m *MockSession) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *MockSession) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockSession) Runs() []runCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]runCall{}, m.runs...)
}

func (m *MockSession) Batches() [][]graph.Statement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]graph.Statement{}, m.batches...)
}

var _ graph.Session = (*MockSession)(nil)

// MockStore implements graph.Store for testing. By default every acquired
// session is the shared Sess so tests can assert on release.
type MockStore struct {
	Sess        *MockSession
	SessionFunc func(ctx context.Context, write bool) (graph.Session, error)

	mu     sync.Mutex
	opened int
}

func (m *MockStore) Session(ctx context.Context, write bool) (graph.Session, error) {
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	if m.SessionFunc != nil {
		return m.SessionFunc(ctx, write)
	}
	if m.Sess == nil {
		m.Sess = &MockSession{}
	}
	return m.Sess, nil
}

func (m *MockStore) Verify(ctx context.Context) error { return nil }

func (m *MockStore) Close(ctx context.Context) error { return nil }

func (m *MockStore) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

var _ graph.Store = (*MockStore)(nil)

// MockTelemetry records telemetry calls for assertions.
type MockTelemetry struct {
	mu      sync.Mutex
	entries []telemetryCall
}

type telemetryCall struct {
	QueryHash       string
	ExecutionTimeMs int64
	RecordsReturned int
}

func (m *MockTelemetry) Record(queryHash string, executionTimeMs int64, recordsReturned int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, telemetryCall{queryHash, executionTimeMs, recordsReturned})
}

func (m *MockTelemetry) Entries() []telemetryCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]telemetryCall{}, m.entries...)
}

var _ TelemetryRecorder = (*MockTelemetry)(nil)
