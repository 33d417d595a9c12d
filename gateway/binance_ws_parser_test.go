package gateway

import (
	"testing"
	"time"

	"quote-engine/market"
)

func TestParseCombinedDepth(t *testing.T) {
	raw := []byte(`{
		"stream":"btcusdt@depth20@100ms",
		"data":{
		  "e":"depthUpdate","E":1700000000123,
		  "s":"BTCUSDT",
		  "b":[["100.1","1.2"],["100.0","2"]],
		  "a":[["100.2","1.1"],["100.3","2.2"]]
		}
	}`)
	d, err := ParseCombinedDepth(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if d.Symbol != "BTCUSDT" || d.Bids[0].Price != 100.1 || d.Asks[0].Price != 100.2 {
		t.Fatalf("unexpected parse result: %+v", d)
	}
	if len(d.Bids) != 2 || d.Asks[1].Qty != 2.2 {
		t.Fatalf("levels not parsed: %+v", d)
	}
	if !d.EventTime.Equal(time.UnixMilli(1700000000123)) {
		t.Fatalf("unexpected event time %v", d.EventTime)
	}
}

func TestParseCombinedDepthErrors(t *testing.T) {
	cases := map[string]string{
		"bad json":       `{"stream":`,
		"missing symbol": `{"stream":"x@depth20","data":{"b":[],"a":[]}}`,
		"bad level":      `{"stream":"x@depth20","data":{"s":"X","b":[["abc","1"]],"a":[]}}`,
	}
	for name, raw := range cases {
		if _, err := ParseCombinedDepth([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseTrade(t *testing.T) {
	tr, err := parseTrade([]byte(`{"e":"aggTrade","s":"BTCUSDT","p":"100.5","q":"0.3","T":1700000000000,"m":true}`))
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if tr.Price != 100.5 || tr.Qty != 0.3 || tr.RestingSide != market.Bid {
		t.Fatalf("unexpected trade %+v", tr)
	}
	tr, _ = parseTrade([]byte(`{"s":"BTCUSDT","p":"100.5","q":"0.3","m":false}`))
	if tr.RestingSide != market.Ask {
		t.Fatalf("buyer-initiated trade should hit asks")
	}
}

func TestStreamKind(t *testing.T) {
	if streamKind("btcusdt@depth20@100ms") != "depth" || streamKind("btcusdt@aggTrade") != "trade" || streamKind("x@kline_1m") != "" {
		t.Fatalf("unexpected stream kinds")
	}
}
