package domain

import "errors"

// Kind groups domain errors by how callers should surface them.
type Kind string

const (
	KindForbidden Kind = "forbidden"
	KindNotFound  Kind = "not_found"
	KindConflict  Kind = "conflict"
	KindInvalid   Kind = "invalid"
	KindPin       Kind = "pin"
	KindTransient Kind = "transient"
)

// Error is a classified domain failure. Wrap with fmt.Errorf("%w: ...") to add context.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrForbidden = newError(KindForbidden, "forbidden", "forbidden")
	ErrNotFound  = newError(KindNotFound, "not_found", "not found")

	ErrNotPending          = newError(KindConflict, "not_pending", "task is not pending approval")
	ErrDuplicateDependency = newError(KindConflict, "duplicate_dependency", "dependency already exists")
	ErrWIPLimitExceeded    = newError(KindConflict, "wip_limit_exceeded", "stage WIP limit reached")
	ErrLastOwner           = newError(KindConflict, "last_owner", "organization must keep at least one owner")
	ErrAlreadyExists       = newError(KindConflict, "already_exists", "already exists")
	ErrStageInUseByTasks   = newError(KindConflict, "stage_in_use", "stage still holds tasks")

	ErrStageConfigInvalid = newError(KindInvalid, "stage_config_invalid", "invalid stage configuration")
	ErrUnknownStage       = newError(KindInvalid, "unknown_stage", "stage is not part of the project")
	ErrInvalidReturnStage = newError(KindInvalid, "invalid_return_stage", "return stage must be a non-terminal stage of the project")
	ErrCircularDependency = newError(KindInvalid, "circular_dependency", "dependency would create a cycle")
	ErrSelfDependency     = newError(KindInvalid, "self_dependency", "task cannot depend on itself")
	ErrNestingTooDeep     = newError(KindInvalid, "nesting_too_deep", "subtasks cannot have subtasks")
	ErrRecurrenceInvalid  = newError(KindInvalid, "recurrence_invalid", "invalid recurrence")
	ErrInvalidArgument    = newError(KindInvalid, "invalid_argument", "invalid argument")
	ErrCrossOrgDependency = newError(KindInvalid, "cross_org_dependency", "dependency endpoints belong to different organizations")

	ErrPinInvalid   = newError(KindPin, "pin_invalid", "incorrect PIN")
	ErrPinExpired   = newError(KindPin, "pin_expired", "PIN expired")
	ErrPinExhausted = newError(KindPin, "pin_exhausted", "too many PIN attempts")
)

// KindOf classifies err; anything unrecognized is transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

// CodeOf returns the stable code of a domain error, or "transient".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return string(KindTransient)
}
