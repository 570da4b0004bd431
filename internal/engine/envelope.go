package engine

// Pagination reports whether a further page exists and the token to fetch
// it. Cursor is null when the result fits in one page.
type Pagination struct {
	HasMore bool    `json:"hasMore"`
	Cursor  *string `json:"cursor"`
	Limit   int     `json:"limit"`
}

// Metadata accompanies every success envelope. The compliance score is
// advisory and never suppresses errors; cursor_ignored marks a decoded
// cursor whose query hash did not match the request.
type Metadata struct {
	QueryType       string  `json:"query_type"`
	HasAggregation  bool    `json:"has_aggregation"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	ComplianceScore float64 `json:"compliance_score"`
	CursorIgnored   bool    `json:"cursor_ignored,omitempty"`
}

// Envelope is the success response shape. Pagination is omitted for
// aggregation and write responses.
type Envelope struct {
	OK         bool        `json:"ok"`
	Data       interface{} `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// ErrorEnvelope is the failure response shape.
type ErrorEnvelope struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Position   *int   `json:"position,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// NewErrorEnvelope shapes a QueryError for the wire.
func NewErrorEnvelope(qe *QueryError) ErrorEnvelope {
	env := ErrorEnvelope{
		OK:         false,
		Error:      qe.Message,
		Code:       qe.Code,
		Suggestion: qe.Suggestion,
	}
	if qe.Position >= 0 {
		pos := qe.Position
		env.Position = &pos
	}
	return env
}

// ConceptRow is one non-aggregated result row: the concept's attributes
// plus every proposition it expresses.
type ConceptRow struct {
	Concept      map[string]interface{}   `json:"concept"`
	Propositions []map[string]interface{} `json:"propositions"`
}
