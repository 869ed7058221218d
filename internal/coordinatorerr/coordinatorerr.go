// Package coordinatorerr defines the typed error taxonomy every core
// operation surfaces, so the HTTP boundary can map a single error value to
// a status code and envelope without re-deriving intent from error text.
package coordinatorerr

import "fmt"

// Kind classifies why an operation failed.
type Kind int

const (
	// KindInternal is an unexpected store/transaction failure.
	KindInternal Kind = iota
	// KindUnauthenticated covers missing or invalid credentials.
	KindUnauthenticated
	// KindForbidden covers an authenticated caller lacking a capability (e.g. admin).
	KindForbidden
	// KindMalformed covers decode failures or missing required fields.
	KindMalformed
	// KindSemantic covers rejections like an empty batch, invalid lease, or
	// config-disallowed platform/type.
	KindSemantic
	// KindConflict covers uniqueness violations.
	KindConflict
	// KindNotFound covers unknown routes or referents.
	KindNotFound
	// KindMethodNotAllowed covers a route hit with the wrong HTTP method.
	KindMethodNotAllowed
	// KindTimeout covers a request exceeding its deadline.
	KindTimeout
)

// Error is the error type every core operation returns.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Internal(msg string, err error) *Error  { return new_(KindInternal, msg, err) }
func Unauthenticated(msg string) *Error      { return new_(KindUnauthenticated, msg, nil) }
func Forbidden(msg string) *Error            { return new_(KindForbidden, msg, nil) }
func Malformed(msg string, err error) *Error { return new_(KindMalformed, msg, err) }
func Semantic(msg string) *Error             { return new_(KindSemantic, msg, nil) }
func Conflict(msg string) *Error             { return new_(KindConflict, msg, nil) }
func NotFound(msg string) *Error             { return new_(KindNotFound, msg, nil) }
func MethodNotAllowed(msg string) *Error     { return new_(KindMethodNotAllowed, msg, nil) }
func Timeout(msg string) *Error              { return new_(KindTimeout, msg, nil) }

// As extracts a *Error from err, if any.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
