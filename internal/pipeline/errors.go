package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrBudgetExceeded is returned when a request would exceed the token budget.
	ErrBudgetExceeded = errors.New("token budget exceeded")

	// ErrRequestLimitExceeded is returned once the request cap is reached.
	ErrRequestLimitExceeded = errors.New("request limit exceeded")

	// ErrAccessDenied is returned when a tool gate refuses a call.
	ErrAccessDenied = errors.New("access denied")
)

// BudgetError carries the limit that was hit.
type BudgetError struct {
	Kind      error
	Limit     int
	Attempted int
}

func (e *BudgetError) Error() string {
	if e.Kind == ErrRequestLimitExceeded {
		return fmt.Sprintf("request limit exceeded: maximum %d requests allowed", e.Limit)
	}
	return fmt.Sprintf("token budget exceeded: limit %d, would use %d", e.Limit, e.Attempted)
}

// Is matches the sentinel kind.
func (e *BudgetError) Is(target error) bool {
	return target == e.Kind
}

// AccessDeniedError is returned when a tool call is refused.
type AccessDeniedError struct {
	Middleware string
	Tool       string
	Reason     string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("tool %s denied by %s: %s", e.Tool, e.Middleware, e.Reason)
}

// Is matches ErrAccessDenied.
func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// IsDenied returns true if the error is a tool access denial.
func IsDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}
