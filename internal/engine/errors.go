package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"kipgate/internal/kql"
)

// ErrorKind classifies a request failure.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindSyntax     ErrorKind = "syntax"
	KindValidation ErrorKind = "validation"
	KindCursor     ErrorKind = "cursor"
	KindTimeout    ErrorKind = "timeout"
	KindInternal   ErrorKind = "internal"
)

// Stable client-facing error codes, one per kind.
const (
	CodeSyntax     = "KIP001"
	CodeAuth       = "KIP002"
	CodeCursor     = "KIP003"
	CodeValidation = "KIP004"
	CodeTimeout    = "KIP005"
	CodeInternal   = "KIP006"
)

// QueryError is the one typed error the pipeline raises. Position is a byte
// offset into the query, or -1 when the failure has no location.
type QueryError struct {
	Kind       ErrorKind
	Code       string
	Message    string
	Position   int
	Suggestion string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

// HTTPStatus maps the error kind to a response status.
func (e *QueryError) HTTPStatus() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func syntaxError(err error) *QueryError {
	pos := -1
	var se *kql.SyntaxError
	if errors.As(err, &se) {
		pos = se.Pos
	}
	return &QueryError{
		Kind:     KindSyntax,
		Code:     CodeSyntax,
		Message:  err.Error(),
		Position: pos,
	}
}

func validationError(violations []kql.Violation) *QueryError {
	first := violations[0]
	msg := first.Message
	if len(violations) > 1 {
		extra := make([]string, 0, len(violations)-1)
		for _, v := range violations[1:] {
			extra = append(extra, v.Message)
		}
		msg = msg + "; also: " + strings.Join(extra, "; ")
	}
	return &QueryError{
		Kind:       KindValidation,
		Code:       CodeValidation,
		Message:    msg,
		Position:   first.Pos,
		Suggestion: first.Suggestion,
	}
}

func validationMessage(msg, suggestion string) *QueryError {
	return &QueryError{
		Kind:       KindValidation,
		Code:       CodeValidation,
		Message:    msg,
		Position:   -1,
		Suggestion: suggestion,
	}
}

// AuthError is raised by the HTTP surface for a missing or wrong bearer.
func AuthError() *QueryError {
	return &QueryError{
		Kind:     KindAuth,
		Code:     CodeAuth,
		Message:  "missing or invalid bearer token",
		Position: -1,
	}
}

// classifyStoreError turns a store failure into a timeout or internal error.
// The graph layer flattens driver errors while stripping credentials, so the
// request context is consulted as well as the error chain.
func classifyStoreError(ctx context.Context, err error) *QueryError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return &QueryError{
			Kind:     KindTimeout,
			Code:     CodeTimeout,
			Message:  "store operation exceeded the request deadline",
			Position: -1,
		}
	}
	return &QueryError{
		Kind:     KindInternal,
		Code:     CodeInternal,
		Message:  err.Error(),
		Position: -1,
	}
}
