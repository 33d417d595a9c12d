package inventory

// Snapshot 某一时刻的仓位与盈亏。
type Snapshot struct {
	Net        float64
	AvgCost    float64
	Realized   float64
	Unrealized float64
	Total      float64
}

// Sync 按 mid 生成仓位快照，供风控与指标使用。
type Sync struct {
	Tracker *Tracker
}

func (s *Sync) Snapshot(mid float64) Snapshot {
	if s.Tracker == nil {
		return Snapshot{}
	}
	net, unrealized := s.Tracker.Valuation(mid)
	realized := s.Tracker.Realized()
	return Snapshot{
		Net:        net,
		AvgCost:    s.Tracker.AvgCost(),
		Realized:   realized,
		Unrealized: unrealized,
		Total:      realized + unrealized,
	}
}
