// Package apierrors defines the typed error hierarchy the core surfaces to
// its callers (spec §7): a small set of sentinel-like error kinds that an
// out-of-scope HTTP or CLI layer translates into its own status codes. Every
// error here is a plain Go error implementing Is(target error) bool so
// callers can use errors.Is/errors.As instead of string matching.
package apierrors

import "fmt"

// InvalidArgument marks a client-fault request shape error: bad resource
// slot names, a priority outside the configured range, a BATCH session
// missing a startup command, and similar.
type InvalidArgument struct {
	Message string
}

func (e *InvalidArgument) Error() string { return "invalid argument: " + e.Message }
func (e *InvalidArgument) Is(target error) bool {
	_, ok := target.(*InvalidArgument)
	return ok
}

// NewInvalidArgument builds an InvalidArgument with a formatted message.
func NewInvalidArgument(format string, args ...any) *InvalidArgument {
	return &InvalidArgument{Message: fmt.Sprintf(format, args...)}
}

// NotFound marks a missing session/kernel/agent/image/etc.
type NotFound struct {
	Kind string
	ID   string
}

func (e *NotFound) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }
func (e *NotFound) Is(target error) bool {
	_, ok := target.(*NotFound)
	return ok
}

// SessionAlreadyExists marks create_session's reuse=false collision: an
// active session already owns (name, access key).
type SessionAlreadyExists struct {
	Name      string
	AccessKey string
}

func (e *SessionAlreadyExists) Error() string {
	return fmt.Sprintf("session already exists: %s (%s)", e.Name, e.AccessKey)
}
func (e *SessionAlreadyExists) Is(target error) bool {
	_, ok := target.(*SessionAlreadyExists)
	return ok
}

// QuotaExceeded marks a per-policy rejection (keypair/project/domain
// resource ceiling, concurrent-session ceiling, max containers per session).
type QuotaExceeded struct {
	Message string
}

func (e *QuotaExceeded) Error() string { return "quota exceeded: " + e.Message }
func (e *QuotaExceeded) Is(target error) bool {
	_, ok := target.(*QuotaExceeded)
	return ok
}

// NewQuotaExceeded builds a QuotaExceeded with a formatted message.
func NewQuotaExceeded(format string, args ...any) *QuotaExceeded {
	return &QuotaExceeded{Message: fmt.Sprintf(format, args...)}
}

// RejectedByHook marks a pre/post hook's refusal of an operation.
type RejectedByHook struct {
	HookName string
	Reason   string
}

func (e *RejectedByHook) Error() string {
	return fmt.Sprintf("rejected by hook %s: %s", e.HookName, e.Reason)
}
func (e *RejectedByHook) Is(target error) bool {
	_, ok := target.(*RejectedByHook)
	return ok
}

// BackendAgentErrorKind distinguishes a transport timeout from a surfaced
// remote failure, so callers can decide whether a retry is sensible.
type BackendAgentErrorKind string

const (
	BackendAgentTimeout BackendAgentErrorKind = "TIMEOUT"
	BackendAgentFailure BackendAgentErrorKind = "FAILURE"
)

// BackendAgentError wraps an agent RPC failure with its kind and the
// underlying transport/business error.
type BackendAgentError struct {
	Kind    BackendAgentErrorKind
	AgentID string
	Err     error
}

func (e *BackendAgentError) Error() string {
	return fmt.Sprintf("backend agent error (%s) from %s: %v", e.Kind, e.AgentID, e.Err)
}
func (e *BackendAgentError) Unwrap() error { return e.Err }
func (e *BackendAgentError) Is(target error) bool {
	_, ok := target.(*BackendAgentError)
	return ok
}

// MultiAgentError aggregates per-agent failures encountered while creating
// a multi-node session's kernels; each sub-error is preserved verbatim.
type MultiAgentError struct {
	Errors []error
}

func (e *MultiAgentError) Error() string {
	return fmt.Sprintf("%d agent(s) failed: %v", len(e.Errors), e.Errors)
}
func (e *MultiAgentError) Unwrap() []error { return e.Errors }
func (e *MultiAgentError) Is(target error) bool {
	_, ok := target.(*MultiAgentError)
	return ok
}

// IntegrityError marks a DB constraint violation. Storage-layer callers map
// a single-foreign-key violation (e.g. an unknown agent id) to this with a
// human-readable message before it ever reaches a command function.
type IntegrityError struct {
	Message string
}

func (e *IntegrityError) Error() string { return "integrity error: " + e.Message }
func (e *IntegrityError) Is(target error) bool {
	_, ok := target.(*IntegrityError)
	return ok
}
