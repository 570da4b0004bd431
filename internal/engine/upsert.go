package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"kipgate/internal/graph"
	"kipgate/internal/kql"
	"kipgate/internal/logging"
)

// upsertPattern recognizes the write dialect before the read parser runs.
var upsertPattern = regexp.MustCompile(`(?i)^\s*UPSERT\s`)

// IsUpsert reports whether the query uses the write dialect.
func IsUpsert(query string) bool {
	return upsertPattern.MatchString(query)
}

// upsertRequest is the parsed form of `UPSERT <Type> { key:'value', … }`.
type upsertRequest struct {
	ConceptType string
	Name        string
	Fields      []upsertField
}

type upsertField struct {
	Predicate string
	Object    string
}

// parseUpsert tokenizes and parses the write dialect with the same lexer the
// read path uses. UPSERT is not a reserved word; it arrives as an identifier.
func parseUpsert(query string) (*upsertRequest, *QueryError) {
	tokens, err := kql.Lex(query)
	if err != nil {
		return nil, syntaxError(err)
	}

	pos := 0
	next := func() kql.Token {
		t := tokens[pos]
		if t.Kind != kql.KindEOF {
			pos++
		}
		return t
	}
	peek := func() kql.Token { return tokens[pos] }

	if t := next(); !t.IsIdent("UPSERT") {
		return nil, validationMessage("expected UPSERT", "")
	}
	typeTok := next()
	if typeTok.Kind != kql.KindIdentifier {
		return nil, validationMessage("UPSERT requires a concept type name", "write UPSERT <Type> { name:'…', … }")
	}
	if t := next(); t.Kind != kql.KindLBrace {
		return nil, validationMessage("UPSERT requires a braced field block", "write UPSERT <Type> { name:'…', … }")
	}

	req := &upsertRequest{ConceptType: typeTok.Text}
	for {
		if peek().Kind == kql.KindRBrace {
			next()
			break
		}

		key, qe := parseUpsertKey(next, peek)
		if qe != nil {
			return nil, qe
		}
		if t := next(); t.Kind != kql.KindColon {
			return nil, validationMessage(fmt.Sprintf("expected ':' after field %q", key), "")
		}
		valTok := next()
		value, ok := stringifyLiteral(valTok)
		if !ok {
			return nil, validationMessage(fmt.Sprintf("field %q has no literal value", key), "")
		}

		if key == "name" {
			req.Name = value
		} else {
			req.Fields = append(req.Fields, upsertField{Predicate: key, Object: value})
		}

		switch peek().Kind {
		case kql.KindComma:
			next()
		case kql.KindRBrace:
		default:
			return nil, validationMessage(fmt.Sprintf("unexpected %s in UPSERT block", peek().Kind), "")
		}
	}
	if t := next(); t.Kind != kql.KindEOF && t.Kind != kql.KindSemicolon {
		return nil, validationMessage("unexpected trailing input after UPSERT block", "")
	}

	if req.Name == "" {
		return nil, validationMessage("UPSERT requires a name field", "include name:'…' in the field block")
	}
	for _, f := range req.Fields {
		// Migration markers are read-only metadata.
		if strings.HasPrefix(f.Predicate, "_") {
			return nil, validationMessage(fmt.Sprintf("field %q is reserved", f.Predicate), "")
		}
	}
	return req, nil
}

func parseUpsertKey(next func() kql.Token, peek func() kql.Token) (string, *QueryError) {
	// Keywords and function names are legal field names here; the write
	// dialect has no reserved words beyond its own shape.
	t := next()
	if t.Kind != kql.KindIdentifier && t.Kind != kql.KindKeyword && t.Kind != kql.KindFunction {
		return "", validationMessage("expected a field name in UPSERT block", "")
	}
	parts := []string{t.Text}
	for peek().Kind == kql.KindDot {
		next()
		p := next()
		if p.Kind != kql.KindIdentifier {
			return "", validationMessage("expected an identifier after '.' in UPSERT field", "")
		}
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "."), nil
}

// stringifyLiteral renders any literal as the string stored on a
// Proposition. Typing is a read-time concern.
func stringifyLiteral(t kql.Token) (string, bool) {
	switch t.Kind {
	case kql.KindString, kql.KindUUID:
		return fmt.Sprintf("%v", t.Value), true
	case kql.KindNumber:
		switch v := t.Value.(type) {
		case int64:
			return strconv.FormatInt(v, 10), true
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
		return t.Text, true
	case kql.KindBoolean:
		return strconv.FormatBool(t.Value == true), true
	default:
		return "", false
	}
}

// executeUpsert merges the Concept and its Propositions in one write
// transaction. Either everything commits or nothing does.
func (e *Engine) executeUpsert(ctx context.Context, req *upsertRequest) (interface{}, *QueryError) {
	timer := logging.StartTimer(logging.CategoryWriter, "executeUpsert")
	defer timer.Stop()

	now := time.Now().UnixMilli()
	stmts := []graph.Statement{{
		Query: "MERGE (c:Concept {name: $name})\n" +
			"ON CREATE SET c.id = $id, c.created = $now\n" +
			"SET c.type = $type, c.updated = $now",
		Params: map[string]interface{}{
			"name": req.Name,
			"type": req.ConceptType,
			"id":   uuid.NewString(),
			"now":  now,
		},
	}}
	for _, f := range req.Fields {
		stmts = append(stmts, graph.Statement{
			Query: "MATCH (c:Concept {name: $name})\n" +
				"MERGE (c)-[:EXPRESSES]->(p:Proposition {predicate: $predicate})\n" +
				"SET p.object = $object",
			Params: map[string]interface{}{
				"name":      req.Name,
				"predicate": f.Predicate,
				"object":    f.Object,
			},
		})
	}

	sess, err := e.store.Session(ctx, true)
	if err != nil {
		return nil, classifyStoreError(ctx, err)
	}
	defer sess.Close(ctx)

	if err := sess.RunAll(ctx, stmts); err != nil {
		logging.Get(logging.CategoryWriter).Error("UPSERT failed for %q: %v", req.Name, err)
		return nil, classifyStoreError(ctx, err)
	}

	logging.WriterDebug("UPSERT committed: concept=%q type=%s propositions=%d",
		req.Name, req.ConceptType, len(req.Fields))
	return []map[string]interface{}{{
		"name":         req.Name,
		"type":         req.ConceptType,
		"propositions": len(req.Fields),
	}}, nil
}
