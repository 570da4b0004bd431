package kql

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"kipgate/internal/logging"
)

// uuidPattern matches a canonical UUID at the start of the remaining input.
// Compiled once; package-level regexps are read-only shared state.
var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// Lex turns a query string into an ordered token stream. Whitespace is
// discarded. The stream always ends with a KindEOF token. A character no
// rule matches yields a SyntaxError with its byte offset.
func Lex(input string) ([]Token, error) {
	timer := logging.StartTimer(logging.CategoryLexer, "Lex")
	defer timer.Stop()

	var tokens []Token
	i := 0
	n := len(input)

	for i < n {
		ch := input[i]

		// Whitespace is discarded.
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		// UUID literal. Tried before numbers and identifiers because a
		// canonical UUID can start with either a digit or a hex letter.
		if isHexDigit(ch) {
			if m := uuidPattern.FindString(input[i:]); m != "" && !isIdentChar(peekAt(input, i+len(m))) {
				id, err := uuid.Parse(m)
				if err == nil {
					tokens = append(tokens, Token{
						Kind:    KindUUID,
						Text:    m,
						Pos:     i,
						Literal: LiteralUUID,
						Value:   id.String(),
					})
					i += len(m)
					continue
				}
			}
		}

		// Number: decimal with optional fractional part, optional leading
		// minus (LIMIT -1 must lex so the parser can clamp it).
		if isDigit(ch) || (ch == '-' && i+1 < n && isDigit(input[i+1])) {
			tok, next, err := lexNumber(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next
			continue
		}

		// Identifier, keyword, function, word operator, or boolean.
		if isIdentStart(ch) {
			j := i
			for j < n && isIdentChar(input[j]) {
				j++
			}
			word := input[i:j]
			tokens = append(tokens, classifyWord(word, i))
			i = j
			continue
		}

		// Single-quoted string, no escape sequences.
		if ch == '\'' {
			j := i + 1
			for j < n && input[j] != '\'' {
				j++
			}
			if j >= n {
				return nil, &SyntaxError{Pos: i, Msg: "unterminated string literal"}
			}
			text := input[i+1 : j]
			tokens = append(tokens, Token{
				Kind:    KindString,
				Text:    text,
				Pos:     i,
				Literal: LiteralString,
				Value:   text,
			})
			i = j + 1
			continue
		}

		// Operators and punctuation.
		switch ch {
		case '=':
			tokens = append(tokens, Token{Kind: KindOperator, Text: "=", Pos: i})
			i++
		case '!':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, Token{Kind: KindOperator, Text: "!=", Pos: i})
				i += 2
			} else {
				return nil, &SyntaxError{Pos: i, Msg: "unexpected character '!'"}
			}
		case '<':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, Token{Kind: KindOperator, Text: "<=", Pos: i})
				i += 2
			} else {
				tokens = append(tokens, Token{Kind: KindOperator, Text: "<", Pos: i})
				i++
			}
		case '>':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, Token{Kind: KindOperator, Text: ">=", Pos: i})
				i += 2
			} else {
				tokens = append(tokens, Token{Kind: KindOperator, Text: ">", Pos: i})
				i++
			}
		case ',':
			tokens = append(tokens, Token{Kind: KindComma, Text: ",", Pos: i})
			i++
		case '(':
			tokens = append(tokens, Token{Kind: KindLParen, Text: "(", Pos: i})
			i++
		case ')':
			tokens = append(tokens, Token{Kind: KindRParen, Text: ")", Pos: i})
			i++
		case '{':
			tokens = append(tokens, Token{Kind: KindLBrace, Text: "{", Pos: i})
			i++
		case '}':
			tokens = append(tokens, Token{Kind: KindRBrace, Text: "}", Pos: i})
			i++
		case '.':
			tokens = append(tokens, Token{Kind: KindDot, Text: ".", Pos: i})
			i++
		case '*':
			tokens = append(tokens, Token{Kind: KindAsterisk, Text: "*", Pos: i})
			i++
		case ':':
			tokens = append(tokens, Token{Kind: KindColon, Text: ":", Pos: i})
			i++
		case ';':
			tokens = append(tokens, Token{Kind: KindSemicolon, Text: ";", Pos: i})
			i++
		default:
			return nil, &SyntaxError{Pos: i, Msg: "unexpected character " + strconv.Quote(string(ch))}
		}
	}

	tokens = append(tokens, Token{Kind: KindEOF, Pos: n})
	logging.LexerDebug("Lexed %d tokens from %d bytes", len(tokens), n)
	return tokens, nil
}

// lexNumber scans a decimal number starting at i, returning the token and the
// index just past it.
func lexNumber(input string, i int) (Token, int, error) {
	j := i
	if input[j] == '-' {
		j++
	}
	for j < len(input) && isDigit(input[j]) {
		j++
	}
	isFloat := false
	if j < len(input) && input[j] == '.' && j+1 < len(input) && isDigit(input[j+1]) {
		isFloat = true
		j++
		for j < len(input) && isDigit(input[j]) {
			j++
		}
	}
	text := input[i:j]

	if isFloat {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Token{}, 0, &SyntaxError{Pos: i, Msg: "malformed number " + strconv.Quote(text)}
		}
		return Token{Kind: KindNumber, Text: text, Pos: i, Literal: LiteralFloat, Value: v}, j, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Token{}, 0, &SyntaxError{Pos: i, Msg: "malformed number " + strconv.Quote(text)}
	}
	return Token{Kind: KindNumber, Text: text, Pos: i, Literal: LiteralInteger, Value: v}, j, nil
}

// classifyWord decides whether an identifier-shaped word is a keyword,
// function, word operator, boolean literal, or plain identifier.
func classifyWord(word string, pos int) Token {
	upper := strings.ToUpper(word)
	switch {
	case keywords[upper]:
		return Token{Kind: KindKeyword, Text: upper, Pos: pos}
	case functions[upper]:
		return Token{Kind: KindFunction, Text: upper, Pos: pos}
	case wordOperators[upper]:
		return Token{Kind: KindOperator, Text: upper, Pos: pos}
	case upper == "TRUE":
		return Token{Kind: KindBoolean, Text: word, Pos: pos, Literal: LiteralBoolean, Value: true}
	case upper == "FALSE":
		return Token{Kind: KindBoolean, Text: word, Pos: pos, Literal: LiteralBoolean, Value: false}
	default:
		return Token{Kind: KindIdentifier, Text: word, Pos: pos}
	}
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isHexDigit(ch byte) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentChar(ch byte) bool { return isIdentStart(ch) || isDigit(ch) }

// peekAt returns the byte at index i, or 0 past the end.
func peekAt(s string, i int) byte {
	if i >= len(s) {
		return 0
	}
	return s[i]
}
