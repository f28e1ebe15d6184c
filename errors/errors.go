package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind classifies a failure into one of a fixed set of categories. The
// category decides which message, if any, is safe to return to callers.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindDatabase       Kind = "database"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindUpstreamAPI    Kind = "upstream_api"
	KindGeneric        Kind = "generic"
	KindUnknown        Kind = "unknown"
)

// Safe user-facing messages per kind. Validation is absent on purpose:
// validation messages are written for end users and returned verbatim.
var safeMessages = map[Kind]string{
	KindDatabase:       "A database error occurred. Please try again later.",
	KindAuthentication: "Authentication failed. Please try logging in again.",
	KindAuthorization:  "You do not have permission to perform this action.",
	KindUpstreamAPI:    "An upstream service failed to respond. Please try again later.",
	KindGeneric:        "An unexpected error occurred. Please try again.",
	KindUnknown:        "An unexpected error occurred. Please try again.",
}

// AppError is a classified application error. The Kind is assigned at the
// point of failure, not inferred afterwards.
type AppError struct {
	Kind    Kind
	Message string
	Context map[string]any
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext attaches structured metadata for diagnostic logging.
// The metadata is never included in user-facing output.
func (e *AppError) WithContext(ctx map[string]any) *AppError {
	e.Context = ctx
	return e
}

func NewValidation(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message}
}

func NewDatabase(message string, cause error) *AppError {
	return &AppError{Kind: KindDatabase, Message: message, Err: cause}
}

func NewAuthentication(message string) *AppError {
	return &AppError{Kind: KindAuthentication, Message: message}
}

func NewAuthorization(message string) *AppError {
	return &AppError{Kind: KindAuthorization, Message: message}
}

func NewUpstreamAPI(message string, cause error) *AppError {
	return &AppError{Kind: KindUpstreamAPI, Message: message, Err: cause}
}

func NewGeneric(message string, cause error) *AppError {
	return &AppError{Kind: KindGeneric, Message: message, Err: cause}
}

// Classify returns the Kind of err. Errors that are not an *AppError
// anywhere in their chain classify as KindUnknown.
func Classify(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// SafeMessage returns the message that may be shown to an end user for
// err. Validation errors surface their original message; every other
// kind maps to a fixed, non-sensitive string.
func SafeMessage(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if appErr.Kind == KindValidation {
			return appErr.Message
		}
		if msg, ok := safeMessages[appErr.Kind]; ok {
			return msg
		}
	}
	return safeMessages[KindUnknown]
}

// DetailedLogging gates LogError output. The composition root sets it
// from configuration at startup.
var DetailedLogging bool

// LogError writes the full internal detail of err (kind, message,
// wrapped cause, caller context, timestamp). It is a side effect only
// and never changes how err is classified or surfaced.
func LogError(err error, context map[string]any) {
	if !DetailedLogging || err == nil {
		return
	}

	event := log.Error().
		Str("kind", string(Classify(err))).
		Time("at", time.Now().UTC()).
		Err(err)

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if appErr.Err != nil {
			event = event.AnErr("cause", appErr.Err)
		}
		if appErr.Context != nil {
			event = event.Fields(appErr.Context)
		}
	}
	if context != nil {
		event = event.Fields(context)
	}
	event.Msg("classified error")
}
