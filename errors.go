package connsource

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyHosts                     = errors.New("host should not be empty")
	ErrInvalidConnectionString        = errors.New("invalid connection string")
	ErrInvalidTargetSessionAttributes = errors.New("invalid target session attributes")
	ErrInvalidPoolSize                = errors.New("wrong pool size, max pool size must be greater than 0 and not less than min pool size")
)

// ServerError is an error reported by the database server itself, as
// opposed to a failure to reach it.
type ServerError struct {
	// Code is the server error code (SQLSTATE for PostgreSQL-like servers).
	Code     string
	Severity string
	Message  string
}

func (e *ServerError) Error() string {
	if e.Severity == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Severity, e.Code, e.Message)
}

// AsServerError returns the ServerError in err's chain, if any.
func AsServerError(err error) (*ServerError, bool) {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr, true
	}
	return nil, false
}
