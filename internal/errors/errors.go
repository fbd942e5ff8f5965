package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13

	// Custody pipeline codes.
	CodeSigner              Code = 20
	CodeNotAuthorized       Code = 21
	CodeInsufficientBalance Code = 22
	CodeSignerMismatch      Code = 23
	CodeReverted            Code = 24
	CodeAmbiguousResult     Code = 25
	CodeNoPosition          Code = 26
	CodeVaultCreation       Code = 27
	CodeVaultBusy           Code = 28
	CodeTimeout             Code = 29

	// Rollback outcomes. Critical means funds are stranded outside the vault
	// and must never be reported as an ordinary failure.
	CodeRollback Code = 30
	CodeCritical Code = 31
)

// Error is a typed error that carries a stable error code across the
// handler boundary.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the typed code of err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

// IsCritical reports whether err represents stranded funds requiring manual
// intervention.
func IsCritical(err error) bool {
	return CodeOf(err) == CodeCritical
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}

// TypeName maps a code to the stable string used in rendered envelopes and
// audit logs.
func TypeName(code Code) string {
	switch code {
	case CodeSuccess:
		return "success"
	case CodeUsage:
		return "usage"
	case CodeAuth:
		return "auth"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeSigner:
		return "signer"
	case CodeNotAuthorized:
		return "not_authorized"
	case CodeInsufficientBalance:
		return "insufficient_balance"
	case CodeSignerMismatch:
		return "signer_mismatch"
	case CodeReverted:
		return "transaction_reverted"
	case CodeAmbiguousResult:
		return "ambiguous_result"
	case CodeNoPosition:
		return "no_position"
	case CodeVaultCreation:
		return "vault_creation_failed"
	case CodeVaultBusy:
		return "vault_busy"
	case CodeTimeout:
		return "timeout"
	case CodeRollback:
		return "rolled_back"
	case CodeCritical:
		return "critical"
	default:
		return "internal"
	}
}
