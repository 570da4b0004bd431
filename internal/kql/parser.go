package kql

import (
	"fmt"

	"kipgate/internal/logging"
)

// parser holds the state for a recursive-descent parse of the token stream.
type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Kind: KindEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind Kind) (Token, error) {
	t := p.advance()
	if t.Kind != kind {
		return t, &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("expected %s but got %q", kind, t.Text)}
	}
	return t, nil
}

// Parse lexes and parses a canonical KQL query into its AST. The legacy
// dialect must be rewritten before calling Parse; UPSERT statements are
// handled by the writer, not here.
func Parse(query string) (*Query, error) {
	tokens, err := Lex(query)
	if err != nil {
		return nil, err
	}
	return ParseTokens(tokens)
}

// ParseTokens parses an already-lexed token stream.
func ParseTokens(tokens []Token) (*Query, error) {
	timer := logging.StartTimer(logging.CategoryParser, "Parse")
	defer timer.Stop()

	p := &parser{tokens: tokens}
	q := &Query{Limit: DefaultLimit}

	// FIND is syntactically optional here so the validator can report
	// MISSING_FIND_CLAUSE as a semantic failure rather than a parse error.
	if p.peek().IsKeyword("FIND") {
		find, err := p.parseFind()
		if err != nil {
			return nil, err
		}
		q.Find = find
	}

	for {
		t := p.peek()
		switch {
		case t.Kind == KindEOF:
			logging.ParserDebug("Parsed query: where=%d filter=%d group=%d agg=%d limit=%d",
				len(q.Where), len(q.Filter), len(q.GroupBy), len(q.Aggregates), q.Limit)
			return q, nil

		case t.Kind == KindSemicolon:
			p.advance()
			if tail := p.peek(); tail.Kind != KindEOF {
				return nil, &SyntaxError{Pos: tail.Pos, Msg: "unexpected input after ';'"}
			}

		case t.IsKeyword("WHERE"):
			p.advance()
			conds, err := p.parseConditions()
			if err != nil {
				return nil, err
			}
			q.Where = append(q.Where, conds...)

		case t.IsKeyword("FILTER"):
			p.advance()
			conds, err := p.parseConditions()
			if err != nil {
				return nil, err
			}
			q.Filter = append(q.Filter, conds...)

		case t.IsKeyword("GROUP"):
			p.advance()
			by := p.advance()
			if !by.IsKeyword("BY") {
				return nil, &SyntaxError{Pos: by.Pos, Msg: "expected BY after GROUP"}
			}
			fields, err := p.parseFieldList()
			if err != nil {
				return nil, err
			}
			q.GroupBy = append(q.GroupBy, fields...)

		case t.IsKeyword("AGGREGATE"):
			p.advance()
			aggs, err := p.parseAggregates()
			if err != nil {
				return nil, err
			}
			q.Aggregates = append(q.Aggregates, aggs...)

		case t.IsKeyword("LIMIT"):
			p.advance()
			lit, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			if lit.Kind != LiteralInteger && lit.Kind != LiteralFloat {
				return nil, &SyntaxError{Pos: lit.Pos, Msg: "LIMIT requires a number"}
			}
			q.RawLimit = &lit
			q.Limit = clampLimit(lit)

		case t.IsKeyword("CURSOR"):
			p.advance()
			str, err := p.expect(KindString)
			if err != nil {
				return nil, &SyntaxError{Pos: str.Pos, Msg: "CURSOR requires a quoted token"}
			}
			q.Cursor = str.Text

		case t.IsKeyword("OPTIONAL") || t.IsKeyword("UNION") || t.IsKeyword("NOT"):
			// Parsed but not translated; the validator rejects these.
			p.advance()
			q.Unsupported = append(q.Unsupported, UnsupportedClause{Keyword: t.Text, Pos: t.Pos})
			p.skipClauseBody()

		default:
			return nil, &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("unexpected token %q", t.Text)}
		}
	}
}

// skipClauseBody consumes tokens until the next clause keyword or EOF, so an
// unsupported clause does not cascade into spurious syntax errors.
func (p *parser) skipClauseBody() {
	for {
		t := p.peek()
		if t.Kind == KindEOF || t.Kind == KindKeyword {
			return
		}
		p.advance()
	}
}

// parseFind parses the projection after FIND: `*`, a bare identifier, or a
// comma-separated list of dotted field paths.
func (p *parser) parseFind() (*FindClause, error) {
	kw := p.advance() // FIND
	find := &FindClause{Pos: kw.Pos}

	if p.peek().Kind == KindAsterisk {
		p.advance()
		find.All = true
		return find, nil
	}

	fields, err := p.parseFieldList()
	if err != nil {
		return nil, err
	}
	find.Fields = fields
	return find, nil
}

// parseFieldList parses `fieldPath {, fieldPath}*`.
func (p *parser) parseFieldList() ([]FieldPath, error) {
	var fields []FieldPath
	for {
		f, err := p.parseFieldPath()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		if p.peek().Kind != KindComma {
			return fields, nil
		}
		p.advance()
	}
}

// parseFieldPath parses `IDENT ('.' IDENT)*`.
func (p *parser) parseFieldPath() (FieldPath, error) {
	first, err := p.expect(KindIdentifier)
	if err != nil {
		return FieldPath{}, err
	}
	path := FieldPath{Parts: []string{first.Text}, Pos: first.Pos}
	for p.peek().Kind == KindDot {
		p.advance()
		next, err := p.expect(KindIdentifier)
		if err != nil {
			return FieldPath{}, err
		}
		path.Parts = append(path.Parts, next.Text)
	}
	return path, nil
}

// parseConditions parses `pattern {AND pattern}*`.
func (p *parser) parseConditions() ([]Condition, error) {
	var conds []Condition
	for {
		c, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
		if !p.peek().IsIdent("AND") {
			return conds, nil
		}
		p.advance()
	}
}

// parseCondition parses `<fieldPath> <op> <literal>`. Any OPERATOR token is
// accepted here; compatibility is the validator's concern.
func (p *parser) parseCondition() (Condition, error) {
	field, err := p.parseFieldPath()
	if err != nil {
		return Condition{}, err
	}
	op, err := p.expect(KindOperator)
	if err != nil {
		return Condition{}, &SyntaxError{Pos: op.Pos, Msg: fmt.Sprintf("expected operator after %q", field.String())}
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return Condition{}, err
	}
	return Condition{Field: field, Op: op.Text, Value: lit, Pos: field.Pos}, nil
}

// parseLiteral consumes one literal token.
func (p *parser) parseLiteral() (Literal, error) {
	t := p.advance()
	switch t.Kind {
	case KindString, KindNumber, KindBoolean, KindUUID:
		return Literal{Kind: t.Literal, Text: t.Text, Value: t.Value, Pos: t.Pos}, nil
	default:
		return Literal{}, &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("expected literal but got %q", t.Text)}
	}
}

// parseAggregates parses `fn {, fn}*` with fn := FUNC '(' ('*' | fieldPath) ')'.
func (p *parser) parseAggregates() ([]Aggregate, error) {
	var aggs []Aggregate
	for {
		fn, err := p.expect(KindFunction)
		if err != nil {
			return nil, &SyntaxError{Pos: fn.Pos, Msg: "expected aggregate function"}
		}
		if _, err := p.expect(KindLParen); err != nil {
			return nil, err
		}
		agg := Aggregate{Fn: fn.Text, Pos: fn.Pos}
		if p.peek().Kind == KindAsterisk {
			p.advance()
			agg.Star = true
		} else {
			field, err := p.parseFieldPath()
			if err != nil {
				return nil, err
			}
			agg.Field = field
		}
		if _, err := p.expect(KindRParen); err != nil {
			return nil, err
		}
		aggs = append(aggs, agg)
		if p.peek().Kind != KindComma {
			return aggs, nil
		}
		p.advance()
	}
}

// clampLimit clamps a LIMIT literal into [MinLimit, MaxLimit]. Fractional
// values truncate; out-of-range values clamp rather than fail.
func clampLimit(lit Literal) int {
	var v int64
	switch x := lit.Value.(type) {
	case int64:
		v = x
	case float64:
		v = int64(x)
	default:
		return DefaultLimit
	}
	if v < MinLimit {
		return MinLimit
	}
	if v > MaxLimit {
		return MaxLimit
	}
	return int(v)
}
