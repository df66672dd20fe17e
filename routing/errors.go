package routing

import "errors"

// Sentinels for table validation failures. Match them with errors.Is.
var (
	ErrPairExists      = errors.New("pair exists")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNoRoles         = errors.New("at least one role required")
	ErrRoleExists      = errors.New("role already configured")
	ErrRoleNotFound    = errors.New("role not configured")
	ErrUnknownForum    = errors.New("unknown forum")
	ErrAlreadyFollowed = errors.New("already followed")
	ErrNotFollowed     = errors.New("not followed")
	ErrMissingID       = errors.New("missing id")
)

// ValidationError rejects an admin operation. It is never fatal; the reason
// is meant to be shown to whoever issued the command.
type ValidationError struct {
	Kind   error
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

func invalid(kind error, reason string) error {
	return &ValidationError{Kind: kind, Reason: reason}
}

// IsValidation reports whether err is a rejected admin operation.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
