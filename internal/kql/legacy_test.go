package kql

import "testing"

func TestRewriteLegacy(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      string
		rewritten bool
	}{
		{
			"SimpleLegacy",
			"FIND Task WHERE status = 'active'",
			"FIND Concept WHERE type = 'Task' FILTER status = 'active'",
			true,
		},
		{
			"WhitespaceTolerant",
			"  FIND Person WHERE name='Ada'  ",
			"FIND Concept WHERE type = 'Person' FILTER name = 'Ada'",
			true,
		},
		{
			"DottedFieldIsCanonical",
			"FIND Task WHERE metadata.priority = 'high'",
			"FIND Task WHERE metadata.priority = 'high'",
			false,
		},
		{
			"NumberLiteralIsCanonical",
			"FIND Task WHERE created = 100",
			"FIND Task WHERE created = 100",
			false,
		},
		{
			"ExtraClausesAreCanonical",
			"FIND Task WHERE status = 'active' LIMIT 10",
			"FIND Task WHERE status = 'active' LIMIT 10",
			false,
		},
		{
			"StarProjectionIsCanonical",
			"FIND * WHERE status = 'active'",
			"FIND * WHERE status = 'active'",
			false,
		},
		{
			"KeywordFieldIsCanonical",
			"FIND Task WHERE limit = 'ten'",
			"FIND Task WHERE limit = 'ten'",
			false,
		},
		{
			"FunctionFieldIsCanonical",
			"FIND Task WHERE count = 'high'",
			"FIND Task WHERE count = 'high'",
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rewritten := RewriteLegacy(tt.input)
			if rewritten != tt.rewritten {
				t.Fatalf("RewriteLegacy(%q) rewritten = %v, want %v", tt.input, rewritten, tt.rewritten)
			}
			if rewritten && got != tt.want {
				t.Errorf("RewriteLegacy(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRewriteLegacyOutputParses(t *testing.T) {
	out, ok := RewriteLegacy("FIND Task WHERE status = 'active'")
	if !ok {
		t.Fatal("expected rewrite")
	}
	q, err := Parse(out)
	if err != nil {
		t.Fatalf("rewritten query failed to parse: %v", err)
	}
	if q.Find.TypeName() != "Concept" {
		t.Errorf("TypeName = %q, want Concept", q.Find.TypeName())
	}
	if len(q.Where) != 1 || len(q.Filter) != 1 {
		t.Errorf("unexpected clause shape: where=%d filter=%d", len(q.Where), len(q.Filter))
	}
}
