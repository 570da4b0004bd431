package server

import "net/http"

// discoveryDoc is the static tool manifest served without authentication so
// agent runtimes can find the gateway.
var discoveryDoc = map[string]interface{}{
	"schema_version":        "v1",
	"name_for_human":        "Knowledge Query Gateway",
	"name_for_model":        "execute_kip",
	"description_for_human": "Query and update the knowledge graph with KQL.",
	"description_for_model": "Execute KQL queries against the knowledge graph. " +
		"Read with FIND <Type> [WHERE ...] [FILTER ...] [GROUP BY ...] [AGGREGATE ...] [LIMIT n] [CURSOR token]. " +
		"Write with UPSERT <Type> { name: '...', field: value, ... }. " +
		"POST {\"query\": \"...\"} to /execute_kip.",
	"auth": map[string]interface{}{
		"type":                "service_http",
		"authorization_type":  "bearer",
		"verification_tokens": map[string]string{},
		"instructions":        "Send Authorization: Bearer <token> on every request.",
	},
	"api": map[string]interface{}{
		"type": "json",
		"endpoints": []map[string]string{
			{"path": "/execute_kip", "method": "POST", "description": "Canonical or legacy KQL, and UPSERT writes."},
			{"path": "/kql", "method": "POST", "description": "Canonical KQL only."},
			{"path": "/propositions", "method": "POST", "description": "Direct proposition create/query/find/graph."},
		},
	},
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, discoveryDoc)
}
