package mlicense

import (
	"errors"
)

// Sentinel errors for key handling and signing.
var (
	ErrKeyLoad = errors.New("key load failed")
	ErrSign    = errors.New("signing failed")
)

// Sentinel errors for license verification. Verify returns exactly one of
// these (wrapped with detail) on failure.
var (
	ErrSchema           = errors.New("invalid license schema")
	ErrMachineMismatch  = errors.New("machine id mismatch")
	ErrExpired          = errors.New("license expired")
	ErrSignatureInvalid = errors.New("signature verification failed")
)

// ErrUsage is returned for malformed command invocations.
var ErrUsage = errors.New("invalid usage")

// ErrCancelled is returned by host dialogs when the operator dismisses them.
// It is not a failure.
var ErrCancelled = errors.New("cancelled by user")

// Error codes carried in structured responses.
const (
	CodeKeyLoad          = "KEY_LOAD"
	CodeSign             = "SIGN"
	CodeSchema           = "SCHEMA"
	CodeMachineMismatch  = "MACHINE_MISMATCH"
	CodeExpired          = "EXPIRED"
	CodeSignatureInvalid = "SIGNATURE_INVALID"
	CodeUsage            = "USAGE"
	CodeInternal         = "INTERNAL"
)

var codes = []struct {
	sentinel error
	code     string
}{
	{ErrKeyLoad, CodeKeyLoad},
	{ErrSign, CodeSign},
	{ErrSchema, CodeSchema},
	{ErrMachineMismatch, CodeMachineMismatch},
	{ErrExpired, CodeExpired},
	{ErrSignatureInvalid, CodeSignatureInvalid},
	{ErrUsage, CodeUsage},
}

// Code maps an error to its stable code. Unknown errors map to CodeInternal,
// nil maps to the empty string.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.sentinel) {
			return c.code
		}
	}
	return CodeInternal
}

// Sentinel is the inverse of Code. It returns nil for CodeInternal and
// unknown codes.
func Sentinel(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.sentinel
		}
	}
	return nil
}
