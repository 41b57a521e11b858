// Package apperr classifies failures into the kinds the pipeline and the HTTP
// layer act on.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind int

const (
	// KindTransient covers network resets and timeouts; retried at provider boundaries.
	KindTransient Kind = iota
	// KindQuotaExceeded carries a retry-after hint and is never retried by the core.
	KindQuotaExceeded
	// KindBusiness is a user facing rule violation (non-English video, private video, too long).
	KindBusiness
	KindNotFound
	KindValidation
	KindConfig
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "Transient"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindBusiness:
		return "Business"
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConfig:
		return "Config"
	default:
		return "Internal"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func Wrap(err error, kind Kind, message string) *Error {
	e := New(kind, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// KindOf reports the kind of the outermost *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return KindInternal, false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// UserMessage returns the message safe to show to an end user. Only business
// and validation errors expose their own text.
func UserMessage(err error, fallback string) string {
	var appErr *Error
	if errors.As(err, &appErr) && (appErr.Kind == KindBusiness || appErr.Kind == KindValidation) {
		return appErr.Message
	}
	return fallback
}

// SafeExecute runs fn and converts a panic into an internal error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = New(KindInternal, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
