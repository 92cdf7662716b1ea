package pgdao

import (
	"errors"
	"fmt"
)

// daoError is the common shell embedded by every pgdao error kind.
type daoError struct {
	Op  string
	Err error
}

func (e daoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e daoError) Unwrap() error { return e.Err }

type (
	// ConnectionError is a pool-level or handshake failure, a client
	// acquisition failure, or a protocol stream termination.
	ConnectionError struct {
		daoError
	}

	// SessionError is an illegal state transition: execute on a closed
	// session, close called twice, flush on a read-only session, an
	// invalid close action, reload of a dirty model.
	SessionError struct {
		daoError
	}

	// QueryError is malformed query text, an unsupported protocol
	// message, or a server-side ErrorResponse promoted through a command.
	QueryError struct {
		daoError
		// Code is the SQLSTATE reported by the server, when available.
		Code string
	}

	// ParseError is a result-sink conversion failure on DataRow that is
	// not already a domain error.
	ParseError struct {
		daoError
	}

	// ModelError is a schema construction failure, an illegal reload of a
	// dirty model, a readonly-field mutation at flush, or a
	// selector/schema mismatch.
	ModelError struct {
		daoError
	}
)

func newConnectionError(op string, err error) *ConnectionError {
	return &ConnectionError{daoError{Op: op, Err: err}}
}

func newSessionError(op string, err error) *SessionError {
	return &SessionError{daoError{Op: op, Err: err}}
}

func newQueryError(op string, err error) *QueryError {
	return &QueryError{daoError: daoError{Op: op, Err: err}}
}

func newParseError(op string, err error) *ParseError {
	return &ParseError{daoError{Op: op, Err: err}}
}

func newModelError(op string, err error) *ModelError {
	return &ModelError{daoError{Op: op, Err: err}}
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var e *ConnectionError
	return errors.As(err, &e)
}

// IsSessionError reports whether err is (or wraps) a SessionError.
func IsSessionError(err error) bool {
	var e *SessionError
	return errors.As(err, &e)
}

// IsQueryError reports whether err is (or wraps) a QueryError.
func IsQueryError(err error) bool {
	var e *QueryError
	return errors.As(err, &e)
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var e *ParseError
	return errors.As(err, &e)
}

// IsModelError reports whether err is (or wraps) a ModelError.
func IsModelError(err error) bool {
	var e *ModelError
	return errors.As(err, &e)
}
