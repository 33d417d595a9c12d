package inventory

import "testing"

func TestSyncSnapshot(t *testing.T) {
	tr := &Tracker{}
	tr.Update(2, 100)
	tr.Update(-1, 104)
	s := Sync{Tracker: tr}
	snap := s.Snapshot(110)
	if snap.Net != 1 || snap.Realized != 4 || snap.Unrealized != 10 || snap.Total != 14 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if (&Sync{}).Snapshot(100) != (Snapshot{}) {
		t.Fatalf("nil tracker should give empty snapshot")
	}
}
