package store

import (
	"errors"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface. The code name is used as prefix so the
// error survives a round trip through text (see ParseError).
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is matches errors of the same code, so errors.Is(err, &Error{Code: RetCTransient}) works
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Msg == "" || t.Msg == e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with a formatted message
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess       RetCode = iota // 0: Command executed successfully.
	RetCInternalError                // 1: Command failed due to an internal error.
	RetCValidation                   // 2: Malformed input record, never retried.
	RetCEncryption                   // 3: Encryption failed or could not be verified.
	RetCDecryption                   // 4: Decryption failed (per record).
	RetCTransient                    // 5: Sequence or nonce conflict, retried by the write queue.
	RetCStore                        // 6: Any other backend rejection.
	RetCFilterExpired                // 7: The subscription filter is gone server-side.
	RetCConfiguration                // 8: Missing or invalid key or identity.
	RetCNotFound                     // 9: The entity does not exist (or has expired).
)

// String returns the name used in error texts
func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCValidation:
		return "ValidationError"
	case RetCEncryption:
		return "EncryptionError"
	case RetCDecryption:
		return "DecryptionError"
	case RetCTransient:
		return "TransientStoreError"
	case RetCStore:
		return "StoreError"
	case RetCFilterExpired:
		return "FilterExpiryError"
	case RetCConfiguration:
		return "ConfigurationError"
	case RetCNotFound:
		return "NotFoundError"
	default:
		return "UnknownError"
	}
}

// --------------------------------------------------------------------------
// Classification
// --------------------------------------------------------------------------

// transientSignatures are the backend messages for conflicting writes
var transientSignatures = []string{
	"sequence conflict",
	"nonce too low",
	"already known",
	"replacement transaction underpriced",
}

// filterExpirySignatures are the messages produced once a subscription filter is gone
var filterExpirySignatures = []string{
	"filter not found",
	"InvalidInputRpcError",
}

// CodeOf returns the code of err, or RetCInternalError for foreign errors and RetCSuccess for nil
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// IsTransient reports whether err is a sequence or nonce conflict
func IsTransient(err error) bool {
	return hasCodeOrText(err, RetCTransient, transientSignatures)
}

// IsFilterExpiry reports whether err signals an expired subscription filter
func IsFilterExpiry(err error) bool {
	return hasCodeOrText(err, RetCFilterExpired, filterExpirySignatures)
}

// IsFilterExpiryText reports whether a log line or message carries the filter expiry signature
func IsFilterExpiryText(msg string) bool {
	return containsAny(msg, filterExpirySignatures)
}

// IsNotFound reports whether err is a missing entity
func IsNotFound(err error) bool {
	return CodeOf(err) == RetCNotFound
}

func hasCodeOrText(err error, code RetCode, signatures []string) bool {
	if err == nil {
		return false
	}
	if CodeOf(err) == code {
		return true
	}
	return containsAny(err.Error(), signatures)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ParseError rebuilds an *Error from its text form, as produced by Error.Error().
// Text without a known code prefix is classified by signature and otherwise
// becomes a RetCStore error.
func ParseError(text string) *Error {
	if text == "" {
		return nil
	}
	// the outermost (left-most) code wins, "TransientStoreError" must not be read as "StoreError"
	best, bestIdx, bestLen := RetCSuccess, -1, 0
	for code := RetCInternalError; code <= RetCNotFound; code++ {
		prefix := code.String() + ": "
		idx := strings.Index(text, prefix)
		if idx < 0 {
			continue
		}
		if bestIdx < 0 || idx < bestIdx || (idx == bestIdx && len(prefix) > bestLen) {
			best, bestIdx, bestLen = code, idx, len(prefix)
		}
	}
	if bestIdx >= 0 {
		return NewError(best, text[bestIdx+bestLen:])
	}
	switch {
	case containsAny(text, transientSignatures):
		return NewError(RetCTransient, text)
	case containsAny(text, filterExpirySignatures):
		return NewError(RetCFilterExpired, text)
	default:
		return NewError(RetCStore, text)
	}
}
