// Package errors defines the closed error taxonomy returned by the
// permission protocol client.
//
// Every failure that crosses a public API boundary is an *Error carrying one
// of the Kind values below. Foreign errors are converted exactly once, at the
// boundary where they occur, and keep the original error as context.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind identifies a class of protocol failure.
type Kind string

// Error kinds
const (
	KindNonce                Kind = "NONCE_ERROR"
	KindSignature            Kind = "SIGNATURE_ERROR"
	KindUserRejected         Kind = "USER_REJECTED_REQUEST"
	KindRelayer              Kind = "RELAYER_ERROR"
	KindNetwork              Kind = "NETWORK_ERROR"
	KindBlockchain           Kind = "BLOCKCHAIN_ERROR"
	KindPermission           Kind = "PERMISSION_ERROR"
	KindInvalidConfiguration Kind = "INVALID_CONFIGURATION"
)

// UnknownErrorMessage replaces values that were raised without being errors.
const UnknownErrorMessage = "Unknown error"

// Error represents a classified protocol failure
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so the sentinels
// below can be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func (e *Error) WithError(err error) *Error {
	e.Err = err
	return e
}

// Sentinels for errors.Is matching by kind.
var (
	ErrNonce                = &Error{Kind: KindNonce}
	ErrSignature            = &Error{Kind: KindSignature}
	ErrUserRejected         = &Error{Kind: KindUserRejected}
	ErrRelayer              = &Error{Kind: KindRelayer}
	ErrNetwork              = &Error{Kind: KindNetwork}
	ErrBlockchain           = &Error{Kind: KindBlockchain}
	ErrPermission           = &Error{Kind: KindPermission}
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration}
)

// Error constructors

func Nonce(message string, err error) *Error {
	return &Error{Kind: KindNonce, Message: message, Err: err}
}

func Signature(message string, err error) *Error {
	return &Error{Kind: KindSignature, Message: message, Err: err}
}

func UserRejected(err error) *Error {
	return &Error{Kind: KindUserRejected, Message: "user rejected the request", Err: err}
}

func Relayer(message string, err error) *Error {
	return &Error{Kind: KindRelayer, Message: message, Err: err}
}

func Network(message string, err error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Err: err}
}

func Blockchain(message string, err error) *Error {
	return &Error{Kind: KindBlockchain, Message: message, Err: err}
}

func Permission(message string, err error) *Error {
	return &Error{Kind: KindPermission, Message: message, Err: err}
}

func InvalidConfiguration(message string) *Error {
	return &Error{Kind: KindInvalidConfiguration, Message: message}
}

// As returns err as an *Error if it is one, or wraps one.
func As(err error) (*Error, bool) {
	var pe *Error
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	if pe, ok := As(err); ok {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Normalize maps err into the taxonomy. Already classified errors are
// returned unchanged, anything else becomes fallback with err as context.
func Normalize(err error, fallback Kind, message string) error {
	if err == nil {
		return nil
	}
	if pe, ok := As(err); ok {
		return pe
	}
	return &Error{Kind: fallback, Message: message, Err: err}
}

// FromRecovered converts a value obtained from recover() into an error.
// Non-error values carry no trustworthy message and become "Unknown error".
func FromRecovered(v any) error {
	switch x := v.(type) {
	case nil:
		return nil
	case error:
		return x
	default:
		return stderrors.New(UnknownErrorMessage)
	}
}

// MessageOf returns the most specific human readable message for err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	if pe, ok := As(err); ok {
		if pe.Err != nil && pe.Message == "" {
			return pe.Err.Error()
		}
		return pe.Message
	}
	return err.Error()
}

// cancellationPatterns are the fragments wallets use when the user declines
// a request.
var cancellationPatterns = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"request rejected",
	"cancel",
}

// IsUserCancellation reports whether err reads like a declined wallet
// prompt.
func IsUserCancellation(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, pattern := range cancellationPatterns {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}

// FromSigning classifies a wallet signing failure as a user rejection or a
// signature error.
func FromSigning(err error, message string) error {
	if err == nil {
		return nil
	}
	if pe, ok := As(err); ok {
		return pe
	}
	if IsUserCancellation(err) {
		return UserRejected(err)
	}
	return Signature(message, err)
}
