package order_manager

import (
	"errors"
	"fmt"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrBudgetExceeded    = errors.New("side budget exceeded")
	ErrReplaceRejected   = errors.New("replace rejected: insufficient edge")
	ErrMinTimeInBook     = errors.New("order younger than min time in book")
	ErrUnknownOrder      = errors.New("unknown order")
	ErrInvalidState      = errors.New("invalid order state")
	ErrInvalidOrder      = errors.New("invalid order")
)

// VenueError 交易所调用失败；对应订单保持 Pending 直到后续回报。
type VenueError struct {
	Op      string
	OrderID string
	Err     error
}

func (e *VenueError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("venue %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("venue %s %s failed: %v", e.Op, e.OrderID, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }

// IsRecoverable 限频/预算/改单拒绝/TIB 均为可恢复的空操作。
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrBudgetExceeded) ||
		errors.Is(err, ErrReplaceRejected) ||
		errors.Is(err, ErrMinTimeInBook)
}
