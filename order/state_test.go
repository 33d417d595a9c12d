package order

import (
	"sort"
	"testing"

	"quote-engine/market"
)

var allStatuses = []Status{
	StatusPending, StatusOpen, StatusPartiallyFilled,
	StatusFilled, StatusCanceled, StatusReplaced, StatusRejected,
}

func TestValidateTransition(t *testing.T) {
	sm := NewStateMachine()
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusOpen, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusFilled, true},
		{StatusPending, StatusReplaced, false},
		{StatusOpen, StatusPartiallyFilled, true},
		{StatusOpen, StatusReplaced, true},
		{StatusOpen, StatusRejected, false},
		{StatusOpen, StatusPending, false},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusOpen, false},
		{StatusFilled, StatusCanceled, false},
		{StatusCanceled, StatusOpen, false},
		{StatusReplaced, StatusOpen, false},
		{StatusRejected, StatusOpen, false},
		// 同状态幂等
		{StatusFilled, StatusFilled, true},
		{StatusOpen, StatusOpen, true},
	}
	for _, tc := range cases {
		err := sm.ValidateTransition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s -> %s: expected illegal transition", tc.from, tc.to)
		}
	}
}

func TestFinalStatesHaveNoTransitions(t *testing.T) {
	sm := NewStateMachine()
	for _, st := range allStatuses {
		allowed := sm.AllowedTransitions(st)
		if IsFinalState(st) && len(allowed) != 0 {
			t.Fatalf("final state %s allows %v", st, allowed)
		}
		if !IsFinalState(st) && len(allowed) == 0 {
			t.Fatalf("non-final state %s has no exits", st)
		}
	}
}

func TestAllowedTransitionsFromPending(t *testing.T) {
	got := NewStateMachine().AllowedTransitions(StatusPending)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	want := []Status{StatusCanceled, StatusFilled, StatusOpen, StatusPartiallyFilled, StatusRejected}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, st := range allStatuses {
		active := st == StatusPending || st == StatusOpen || st == StatusPartiallyFilled
		if IsActiveState(st) != active {
			t.Fatalf("IsActiveState(%s)=%v", st, IsActiveState(st))
		}
		if IsActiveState(st) == IsFinalState(st) {
			t.Fatalf("%s must be exactly one of active/final", st)
		}
		if CanCancel(st) != active {
			t.Fatalf("CanCancel(%s)=%v", st, CanCancel(st))
		}
		replaceable := st == StatusOpen || st == StatusPartiallyFilled
		if CanReplace(st) != replaceable {
			t.Fatalf("CanReplace(%s)=%v", st, CanReplace(st))
		}
	}
}

func TestSideHelpers(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatalf("opposite mismatch")
	}
	if SideBuy.BookSide() != market.Bid || SideSell.BookSide() != market.Ask {
		t.Fatalf("book side mismatch")
	}
}
