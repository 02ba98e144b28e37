package errors

// PageError is a specialized error type for on-disk page format problems:
// bad page type bytes, truncated reads, and pages whose declared length
// doesn't match what was read. It embeds baseError to inherit chaining,
// details, and codes, then adds the page-level context needed to locate
// the corruption.
type PageError struct {
	*baseError
	pageNumber uint32
	pageType   byte
	reason     string
}

// NewPageError creates a new page-specific error.
func NewPageError(err error, code ErrorCode, msg string) *PageError {
	return &PageError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the PageError type.
func (pe *PageError) WithMessage(msg string) *PageError {
	pe.baseError.WithMessage(msg)
	return pe
}

// WithCode sets the error code while preserving the PageError type.
func (pe *PageError) WithCode(code ErrorCode) *PageError {
	pe.baseError.WithCode(code)
	return pe
}

// WithDetail adds contextual information while maintaining the PageError type.
func (pe *PageError) WithDetail(key string, value any) *PageError {
	pe.baseError.WithDetail(key, value)
	return pe
}

// WithPageNumber records which page was being read or written.
func (pe *PageError) WithPageNumber(pageNumber uint32) *PageError {
	pe.pageNumber = pageNumber
	return pe
}

// WithPageType records the page type byte found on disk.
func (pe *PageError) WithPageType(pageType byte) *PageError {
	pe.pageType = pageType
	return pe
}

// WithReason records a short machine-readable reason code, e.g.
// "unknown_page_type" or "root_not_in_block_list".
func (pe *PageError) WithReason(reason string) *PageError {
	pe.reason = reason
	return pe
}

// PageNumber returns the page involved in the error.
func (pe *PageError) PageNumber() uint32 {
	return pe.pageNumber
}

// PageType returns the page type byte that was found, if any.
func (pe *PageError) PageType() byte {
	return pe.pageType
}

// Reason returns the short machine-readable reason code.
func (pe *PageError) Reason() string {
	return pe.reason
}

// NewUnknownPageTypeError reports a page whose type byte doesn't match any
// known page kind.
func NewUnknownPageTypeError(pageNumber uint32, pageType byte) *PageError {
	return NewPageError(nil, ErrorCodePageCorrupted, "unknown page type").
		WithPageNumber(pageNumber).
		WithPageType(pageType).
		WithReason("unknown_page_type")
}

// NewTruncatedPageError reports a page read that returned fewer bytes than
// the configured page size.
func NewTruncatedPageError(pageNumber uint32, got, want int) *PageError {
	return NewPageError(nil, ErrorCodePageCorrupted, "truncated page read").
		WithPageNumber(pageNumber).
		WithReason("truncated_read").
		WithDetail("bytesRead", got).
		WithDetail("pageSize", want)
}

// NewRootNotInBlockListError reports a segment whose root page number does
// not appear in its own block list, which makes the segment unreadable.
func NewRootNotInBlockListError(rootPage uint32) *PageError {
	return NewPageError(nil, ErrorCodeRootNotInBlockList, "segment root page not present in its block list").
		WithPageNumber(rootPage).
		WithReason("root_not_in_block_list")
}

// NewInvalidPageNumberError reports a reference to a page number outside
// the file's current page universe.
func NewInvalidPageNumberError(pageNumber uint32) *PageError {
	return NewPageError(nil, ErrorCodeInvalidPageNumber, "page number outside the file's page universe").
		WithPageNumber(pageNumber).
		WithReason("invalid_page_number")
}
