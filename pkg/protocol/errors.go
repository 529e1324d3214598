package protocol

// ErrorCode is the stable error taxonomy shared by tools, agents and the
// transport. Raw provider bodies and out-of-workspace paths never cross the
// wire; only these codes plus a short message do.
type ErrorCode string

const (
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrInvalidPath     ErrorCode = "INVALID_PATH"
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrExternal        ErrorCode = "EXTERNAL"
	ErrCancelled       ErrorCode = "CANCELLED"
	ErrInternal        ErrorCode = "INTERNAL"
)
