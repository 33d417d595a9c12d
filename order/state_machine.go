package order

import (
	"fmt"
)

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机，转换表在创建后只读。
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

// initializeTransitions 初始化所有合法的状态转换
func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 从PENDING可以转到
		{StatusPending, StatusOpen},
		{StatusPending, StatusPartiallyFilled},
		{StatusPending, StatusFilled},
		{StatusPending, StatusCanceled},
		{StatusPending, StatusRejected},

		// 从OPEN可以转到
		{StatusOpen, StatusPartiallyFilled},
		{StatusOpen, StatusFilled},
		{StatusOpen, StatusCanceled},
		{StatusOpen, StatusReplaced},

		// 从PARTIALLY_FILLED可以转到
		{StatusPartiallyFilled, StatusPartiallyFilled}, // 多次部分成交
		{StatusPartiallyFilled, StatusFilled},
		{StatusPartiallyFilled, StatusCanceled},
		{StatusPartiallyFilled, StatusReplaced},

		// 终态不能转换（FILLED, CANCELED, REPLACED, REJECTED）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	// 相同状态允许（幂等性）
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current Status) []Status {
	allowed := make([]Status, 0)
	for transition := range sm.transitions {
		if transition.From == current {
			allowed = append(allowed, transition.To)
		}
	}
	return allowed
}

// IsFinalState 判断是否是终态
func IsFinalState(status Status) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusReplaced, StatusRejected:
		return true
	default:
		return false
	}
}

// IsActiveState 判断是否仍在簿上（计入单侧预算）
func IsActiveState(status Status) bool {
	switch status {
	case StatusPending, StatusOpen, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// CanCancel 判断当前状态下是否可以撤单
func CanCancel(status Status) bool {
	return IsActiveState(status)
}

// CanReplace 只有交易所已确认的订单可以改价
func CanReplace(status Status) bool {
	return status == StatusOpen || status == StatusPartiallyFilled
}
