package inventory

import "testing"

func TestValuation(t *testing.T) {
	var tr Tracker
	tr.Update(1, 100)
	_, pnl := tr.Valuation(110)
	if pnl != 10 {
		t.Fatalf("expected pnl 10, got %f", pnl)
	}
	tr.Update(-1, 105)
	if tr.TotalPnL(120) != 5 {
		t.Fatalf("flat position pnl should be realized only, got %f", tr.TotalPnL(120))
	}
}
