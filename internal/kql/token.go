// Package kql implements the KQL surface language: lexer, parser, AST,
// canonical re-printer, type-aware semantic validation, and the legacy
// dialect rewrite. Everything in this package is pure; no component here
// touches the store or holds shared mutable state.
package kql

import (
	"fmt"
	"strings"
)

// Kind identifies a token class.
type Kind int

const (
	KindEOF Kind = iota
	KindKeyword
	KindFunction
	KindIdentifier
	KindString
	KindNumber
	KindBoolean
	KindUUID
	KindOperator
	KindComma
	KindLParen
	KindRParen
	KindLBrace
	KindRBrace
	KindDot
	KindAsterisk
	KindColon
	KindSemicolon
)

var kindNames = map[Kind]string{
	KindEOF:        "EOF",
	KindKeyword:    "KEYWORD",
	KindFunction:   "FUNCTION",
	KindIdentifier: "IDENTIFIER",
	KindString:     "STRING",
	KindNumber:     "NUMBER",
	KindBoolean:    "BOOLEAN",
	KindUUID:       "UUID",
	KindOperator:   "OPERATOR",
	KindComma:      "COMMA",
	KindLParen:     "LPAREN",
	KindRParen:     "RPAREN",
	KindLBrace:     "LBRACE",
	KindRBrace:     "RBRACE",
	KindDot:        "DOT",
	KindAsterisk:   "ASTERISK",
	KindColon:      "COLON",
	KindSemicolon:  "SEMICOLON",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// LiteralKind is the inferred kind of a literal token.
type LiteralKind string

const (
	LiteralNone    LiteralKind = ""
	LiteralString  LiteralKind = "string"
	LiteralInteger LiteralKind = "integer"
	LiteralFloat   LiteralKind = "float"
	LiteralBoolean LiteralKind = "boolean"
	LiteralUUID    LiteralKind = "uuid"
)

// Token is a single lexed token. Literal tokens carry their inferred literal
// kind and parsed value; Pos is the byte offset into the query string.
type Token struct {
	Kind    Kind
	Text    string
	Pos     int
	Literal LiteralKind
	Value   interface{}
}

// IsKeyword reports whether the token is the given keyword (case-insensitive).
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == KindKeyword && strings.EqualFold(t.Text, kw)
}

// IsIdent reports whether the token is an identifier with the given text
// (case-insensitive). Used for AND, which the grammar treats as a plain word.
func (t Token) IsIdent(word string) bool {
	return t.Kind == KindIdentifier && strings.EqualFold(t.Text, word)
}

var keywords = map[string]bool{
	"FIND": true, "WHERE": true, "FILTER": true, "GROUP": true, "BY": true,
	"AGGREGATE": true, "LIMIT": true, "CURSOR": true,
	"OPTIONAL": true, "UNION": true, "NOT": true,
}

var functions = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true, "DISTINCT": true,
}

var wordOperators = map[string]bool{
	"CONTAINS": true, "MATCHES": true, "IN": true, "NOT_IN": true,
}

// SyntaxError carries the byte offset where lexing or parsing failed.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}
