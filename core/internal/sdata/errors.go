package sdata

import (
	"fmt"
)

// ErrorCode identifies a class of compile-time failure. The codes are part of
// the public contract: callers switch on them to map failures back to the
// offending query.
type ErrorCode string

const (
	ErrModelNotFound   ErrorCode = "MODEL_NOT_FOUND"
	ErrFieldNotFound   ErrorCode = "FIELD_NOT_FOUND"
	ErrIndexNotFound   ErrorCode = "INDEX_NOT_FOUND"
	ErrTriggerNotFound ErrorCode = "TRIGGER_NOT_FOUND"
	ErrPresetNotFound  ErrorCode = "PRESET_NOT_FOUND"

	ErrMissingField       ErrorCode = "MISSING_FIELD"
	ErrMissingInstruction ErrorCode = "MISSING_INSTRUCTION"

	ErrInvalidWithValue      ErrorCode = "INVALID_WITH_VALUE"
	ErrInvalidToValue        ErrorCode = "INVALID_TO_VALUE"
	ErrInvalidIncludingValue ErrorCode = "INVALID_INCLUDING_VALUE"
	ErrInvalidForValue       ErrorCode = "INVALID_FOR_VALUE"
	ErrInvalidBeforeOrAfter  ErrorCode = "INVALID_BEFORE_OR_AFTER_INSTRUCTION"
	ErrInvalidModelValue     ErrorCode = "INVALID_MODEL_VALUE"
	ErrMutuallyExclusive     ErrorCode = "MUTUALLY_EXCLUSIVE_INSTRUCTIONS"
	ErrExistingModelEntity   ErrorCode = "EXISTING_MODEL_ENTITY"
	ErrRequiredModelEntity   ErrorCode = "REQUIRED_MODEL_ENTITY"
)

// Error is the single error kind raised during compilation. All failures are
// synchronous; nothing is retried or swallowed.
type Error struct {
	Code    ErrorCode
	Message string
	Field   string
	Fields  []string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors by code so callers can use errors.Is with a bare
// &Error{Code: ...} probe.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewFieldError(code ErrorCode, field, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Field: field}
}
