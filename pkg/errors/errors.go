package errors

import "fmt"

// Error codes
const (
	CodeSyncError = "SYNC_ERROR"
	CodeFetch     = "FETCH_ERROR"
	CodeParse     = "PARSE_ERROR"
	CodeStore     = "STORE_ERROR"
	CodeCache     = "CACHE_ERROR"
	CodeIdentity  = "IDENTITY_ERROR"
	CodeConfig    = "CONFIG_ERROR"
)

type SyncError struct {
	Message string
	Code    string
	Context map[string]any
	Cause   error
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

func NewSyncError(message, code string, context map[string]any) *SyncError {
	return &SyncError{
		Message: message,
		Code:    code,
		Context: context,
	}
}

func (e *SyncError) WithCause(cause error) *SyncError {
	e.Cause = cause
	return e
}

// FetchError reports a failed remote page load. Transient marks failures
// that are worth another attempt (timeouts, resets, 5xx, missing marker).
type FetchError struct {
	*SyncError
	URL        string
	Page       int
	StatusCode int
	Transient  bool
}

func NewFetchError(message, url string, page, statusCode int, transient bool, cause error) *FetchError {
	return &FetchError{
		SyncError: &SyncError{
			Message: message,
			Code:    CodeFetch,
			Context: map[string]any{
				"url":    url,
				"page":   page,
				"status": statusCode,
			},
			Cause: cause,
		},
		URL:        url,
		Page:       page,
		StatusCode: statusCode,
		Transient:  transient,
	}
}

// StoreErrorKind classifies storage failures independent of the driver.
type StoreErrorKind string

const (
	StoreKindTransient   StoreErrorKind = "transient"
	StoreKindConflict    StoreErrorKind = "conflict"
	StoreKindTimeout     StoreErrorKind = "timeout"
	StoreKindUnavailable StoreErrorKind = "unavailable"
	StoreKindNotFound    StoreErrorKind = "not_found"
	StoreKindInvalid     StoreErrorKind = "invalid"
)

// Retryable reports whether the same operation may succeed on a later attempt.
func (k StoreErrorKind) Retryable() bool {
	switch k {
	case StoreKindTransient, StoreKindConflict, StoreKindTimeout, StoreKindUnavailable:
		return true
	default:
		return false
	}
}

type StoreError struct {
	*SyncError
	Op   string
	Kind StoreErrorKind
}

func NewStoreError(op string, kind StoreErrorKind, cause error) *StoreError {
	return &StoreError{
		SyncError: &SyncError{
			Message: fmt.Sprintf("store %s failed (%s)", op, kind),
			Code:    CodeStore,
			Context: map[string]any{
				"op":   op,
				"kind": string(kind),
			},
			Cause: cause,
		},
		Op:   op,
		Kind: kind,
	}
}

type ParseError struct {
	*SyncError
	Page int
	Row  int
}

func NewParseError(message string, page, row int, cause error) *ParseError {
	return &ParseError{
		SyncError: &SyncError{
			Message: message,
			Code:    CodeParse,
			Context: map[string]any{
				"page": page,
				"row":  row,
			},
			Cause: cause,
		},
		Page: page,
		Row:  row,
	}
}

type CacheError struct {
	*SyncError
	Operation string
	Key       string
}

func NewCacheError(message, operation, key string, cause error) *CacheError {
	return &CacheError{
		SyncError: &SyncError{
			Message: message,
			Code:    CodeCache,
			Context: map[string]any{
				"operation": operation,
				"key":       key,
			},
			Cause: cause,
		},
		Operation: operation,
		Key:       key,
	}
}

// IdentityError is returned when no free slug could be found for an entity
// within the probing budget.
type IdentityError struct {
	*SyncError
	Entity   string
	BaseSlug string
	Attempts int
}

func NewIdentityError(entity, baseSlug string, attempts int) *IdentityError {
	return &IdentityError{
		SyncError: &SyncError{
			Message: fmt.Sprintf("no free %s slug for %q after %d attempts", entity, baseSlug, attempts),
			Code:    CodeIdentity,
			Context: map[string]any{
				"entity":    entity,
				"base_slug": baseSlug,
				"attempts":  attempts,
			},
		},
		Entity:   entity,
		BaseSlug: baseSlug,
		Attempts: attempts,
	}
}

type ConfigError struct {
	*SyncError
	Field string
}

func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		SyncError: &SyncError{
			Message: message,
			Code:    CodeConfig,
			Context: map[string]any{
				"field": field,
			},
		},
		Field: field,
	}
}
