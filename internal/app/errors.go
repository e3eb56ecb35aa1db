package app

import (
	"fmt"
	"net/http"
	"strings"
)

// DomainError is returned by Service methods and written as {code, error, details}.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

// errNotFound names the resource in the code, e.g. CHAT_NOT_FOUND.
func errNotFound(what string) *DomainError {
	return domainError(http.StatusNotFound, strings.ToUpper(what)+"_NOT_FOUND", fmt.Sprintf("%s not found", capitalize(what)), nil)
}

func errFileTooLarge(limit int64) *DomainError {
	return domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
		fmt.Sprintf("File exceeds the %d MB upload limit", limit>>20), map[string]any{"maxBytes": limit})
}

func capitalize(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
