package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error the HTTP layer renders as-is: Status and Code go
// on the wire, Cause stays in the log.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func validationError(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, map[string]string{"field": field})
}

func unavailable(code, message string, cause error) *DomainError {
	err := domainError(http.StatusServiceUnavailable, code, message, nil)
	err.Cause = cause
	return err
}
