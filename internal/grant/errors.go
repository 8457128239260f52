package grant

import "errors"

// Errors surfaced by the lifecycle controller and the platform client.
// Callers match with errors.Is; the platform adapter wraps SDK errors
// into one of the three platform kinds.
var (
	// ErrAlreadyUsed means the member has consumed their one trial.
	ErrAlreadyUsed = errors.New("trial already used")

	// ErrAlreadyActive means a trial is currently running.
	ErrAlreadyActive = errors.New("trial already active")

	// ErrInvalidArgument means a caller-supplied value (e.g. a
	// non-positive duration) was rejected.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConfigured means the role has no default duration and none
	// was supplied.
	ErrNotConfigured = errors.New("role has no configured duration")

	// ErrNotFound means the role, member, or record no longer exists.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied means the bot lacks the rights to mutate the
	// role. Retrying without an operator fixing the role hierarchy will
	// fail again, but the condition is not permanent.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrOwnerExempt means the target is the guild owner, whose roles
	// the platform never allows the bot to revoke. Unlike
	// ErrPermissionDenied this is permanent.
	ErrOwnerExempt = errors.New("guild owner roles cannot be revoked")

	// ErrTransient is a network or platform hiccup; safe to retry.
	ErrTransient = errors.New("transient platform error")
)
