package errors

// CursorError is a specialized error type for cursor misuse: reading or
// stepping a cursor that isn't positioned on a valid entry.
type CursorError struct {
	*baseError
	lastKey   string
	operation string
}

// NewCursorError creates a new cursor-specific error.
func NewCursorError(err error, code ErrorCode, msg string) *CursorError {
	return &CursorError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the CursorError type.
func (ce *CursorError) WithMessage(msg string) *CursorError {
	ce.baseError.WithMessage(msg)
	return ce
}

// WithCode sets the error code while preserving the CursorError type.
func (ce *CursorError) WithCode(code ErrorCode) *CursorError {
	ce.baseError.WithCode(code)
	return ce
}

// WithDetail adds contextual information while maintaining the CursorError type.
func (ce *CursorError) WithDetail(key string, value any) *CursorError {
	ce.baseError.WithDetail(key, value)
	return ce
}

// WithLastKey records the last key the cursor was positioned on before the
// error, if any.
func (ce *CursorError) WithLastKey(key string) *CursorError {
	ce.lastKey = key
	return ce
}

// WithOperation records which cursor operation was attempted, e.g. "Next",
// "Prev", or "SeekLE".
func (ce *CursorError) WithOperation(operation string) *CursorError {
	ce.operation = operation
	return ce
}

// LastKey returns the last key the cursor was positioned on before the error.
func (ce *CursorError) LastKey() string {
	return ce.lastKey
}

// Operation returns the cursor operation that was attempted.
func (ce *CursorError) Operation() string {
	return ce.operation
}

// NewCursorInvalidError reports an attempt to read Key/Value from a cursor
// that isn't positioned on an entry (before the first Next/First call, or
// after stepping past either end).
func NewCursorInvalidError(operation string) *CursorError {
	return NewCursorError(nil, ErrorCodeCursorInvalid, "cursor is not positioned on a valid entry").
		WithOperation(operation)
}
