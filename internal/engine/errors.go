package engine

import (
	"errors"
	"fmt"
)

// Error codes form a fixed enumeration shared with the external engine. Every
// failed engine call resolves to one of these.
const (
	CodeIncorrectPasscode  = "INCORRECT_PASSCODE"
	CodeCredentialRejected = "CREDENTIAL_REJECTED"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeDocumentNotFound   = "DOCUMENT_NOT_FOUND"
	CodeGroupNotFound      = "GROUP_NOT_FOUND"
	CodeNotGroupAdmin      = "NOT_GROUP_ADMIN"
	CodeNetwork            = "NETWORK_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error is the code/message pair every engine operation may reject with.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is an engine Error carrying the given code.
func IsCode(err error, code string) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Code == code
	}
	return false
}
