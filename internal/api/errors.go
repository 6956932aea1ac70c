package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-relay/internal/database"
)

// ApiError is the JSON body of every failed HTTP request. Err is kept for
// logging and never serialized.
type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func newApiError(code int, err error) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    strings.ToLower(http.StatusText(code)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError       { return newApiError(http.StatusBadRequest, nil) }
func NewUnauthorizedError() *ApiError     { return newApiError(http.StatusUnauthorized, nil) }
func NewForbiddenError() *ApiError        { return newApiError(http.StatusForbidden, nil) }
func NewNotFoundError() *ApiError         { return newApiError(http.StatusNotFound, nil) }
func NewMethodNotAllowedError() *ApiError { return newApiError(http.StatusMethodNotAllowed, nil) }

// NewConflictError is returned when an e-mail address is already registered.
func NewConflictError() *ApiError { return newApiError(http.StatusConflict, nil) }

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

// storeError maps a repository failure to the response the caller sees:
// missing rows are 404, duplicate accounts 409, anything else 500.
func storeError(err error) *ApiError {
	switch {
	case database.IsNotFound(err):
		return NewNotFoundError()
	case errors.Is(err, database.ErrDuplicateAccount):
		return NewConflictError()
	default:
		return NewInternalServerError(err)
	}
}
