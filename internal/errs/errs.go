// Package errs defines the tagged error kinds surfaced across the control
// plane (spec §7). Errors are carried as values, never thrown as control
// flow; a panic is reserved for invariant violations detected mid-transaction.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a closed set of domain-visible error categories.
type Kind string

const (
	KindModuleVersionExists            Kind = "ModuleVersionExists"
	KindInvalidTrack                   Kind = "InvalidTrack"
	KindInvalidTrackPrereleaseVersion  Kind = "InvalidTrackPrereleaseVersion"
	KindInvalidStableVersion           Kind = "InvalidStableVersion"
	KindInvalidModuleSchema            Kind = "InvalidModuleSchema"
	KindTerraformNoLockfile            Kind = "TerraformNoLockfile"
	KindTerraformLockfileExists        Kind = "TerraformLockfileExists"
	KindTerraformLockfileEmpty         Kind = "TerraformLockfileEmpty"
	KindModuleVersionNotSet            Kind = "ModuleVersionNotSet"
	KindModuleVersionNotFound          Kind = "ModuleVersionNotFound"
	KindNoProvidersDefined             Kind = "NoProvidersDefined"
	KindNoRequiredProvidersDefined     Kind = "NoRequiredProvidersDefined"
	KindInvalidVariableNaming          Kind = "InvalidVariableNaming"
	KindInvalidExampleVariable         Kind = "InvalidExampleVariable"
	KindStackClaimReferenceNotFound    Kind = "StackClaimReferenceNotFound"
	KindOutputKeyNotFound              Kind = "OutputKeyNotFound"
	KindDuplicateClaimNames            Kind = "DuplicateClaimNames"
	KindCircularDependency             Kind = "CircularDependency"
	KindSelfReferencingClaim           Kind = "SelfReferencingClaim"
	KindStackModuleNamespaceIsSet      Kind = "StackModuleNamespaceIsSet"
	KindUploadModuleError              Kind = "UploadModuleError"
	KindZipError                      Kind = "ZipError"
	KindValidationError               Kind = "ValidationError"
	KindUnresolvedReference           Kind = "UnresolvedReference"
	KindUnknownVariable               Kind = "UnknownVariable"
	KindMissingRequiredVariable       Kind = "MissingRequiredVariable"
	KindTypeMismatch                  Kind = "TypeMismatch"
	KindPolicyEvaluationError         Kind = "PolicyEvaluationError"
	KindOther                         Kind = "Other"

	// Transport/backend kinds (§4.1, §7) reported by the provider driver.
	KindTransport              Kind = "Transport"
	KindPermission             Kind = "Permission"
	KindBackend                Kind = "Backend"
	KindConditionalCheckFailed Kind = "ConditionalCheckFailed"
	KindNotFound               Kind = "NotFound"
	KindCapacity               Kind = "Capacity"
	KindEnvironmentNotAvailable Kind = "EnvironmentNotAvailable"
)

// Error is a tagged value: a Kind plus a human detail and an optional
// wrapped cause. It implements error and supports errors.Is/As via Unwrap.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New builds a tagged error with a formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds a tagged error around an existing cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Other wraps a transport/driver error that doesn't fit a specific kind.
func Other(err error) *Error {
	return &Error{Kind: KindOther, Detail: err.Error(), Err: err}
}

// Is reports whether the first *Error in err's chain carries the given
// Kind; kinds of *Error values wrapped inside that one are not consulted.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind carried by err, or KindOther if err is untagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return KindOther
}

// Retryable reports whether the error kind should be retried at the driver
// layer (§7): transport errors always; conditional-check-failed only with a
// shorter retry budget (callers check the kind specifically for that case).
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindConditionalCheckFailed:
		return true
	default:
		return false
	}
}
