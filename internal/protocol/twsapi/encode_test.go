package twsapi

import (
	"testing"
	"time"
)

// decode strips the frame and returns the body fields.
func decode(t *testing.T, frame []byte) []string {
	t.Helper()
	kind, fields, n, ok, err := Unframe(frame)
	if !ok || err != nil {
		t.Fatalf("unframe: ok=%v err=%v", ok, err)
	}
	if n != len(frame) {
		t.Fatalf("frame has %d trailing bytes", len(frame)-n)
	}
	return append([]string{itoa(kind)}, fields...)
}

func itoa(v int64) string {
	w := &Writer{}
	w.Int(v)
	return string(w.buf[:len(w.buf)-1])
}

func TestServerHello(t *testing.T) {
	ts := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	frame := ServerHello(176, ts)

	fields := SplitFields(frame[4:])
	if len(fields) != 2 {
		t.Fatalf("fields = %q", fields)
	}
	if fields[0] != "176" {
		t.Fatalf("server version = %q", fields[0])
	}
	if fields[1] != "20260825 09:30:00" {
		t.Fatalf("timestamp = %q", fields[1])
	}
}

func TestBuilders(t *testing.T) {
	t.Run("next valid id", func(t *testing.T) {
		got := decode(t, NextValidID(1000))
		want := []string{"9", "1000"}
		assertFields(t, got, want)
	})

	t.Run("error message", func(t *testing.T) {
		got := decode(t, ErrorMessage(-1, ErrCodeMaxRateExceeded, "Max message rate exceeded"))
		want := []string{"4", "-1", "100", "Max message rate exceeded"}
		assertFields(t, got, want)
	})

	t.Run("tick price", func(t *testing.T) {
		got := decode(t, TickPrice(9001, TickBid, 99.99, true, false))
		want := []string{"1", "9001", "1", "99.99", "1", "0"}
		assertFields(t, got, want)
	})

	t.Run("tick size", func(t *testing.T) {
		got := decode(t, TickSize(9001, TickVolume, 1000000))
		want := []string{"2", "9001", "8", "1000000"}
		assertFields(t, got, want)
	})

	t.Run("order status", func(t *testing.T) {
		got := decode(t, OrderStatus(1001, "Submitted", 0, 100, 0, 2001, 0, 0, 7, "", 0))
		if got[0] != "3" || got[1] != "1001" || got[2] != "Submitted" {
			t.Fatalf("fields = %q", got)
		}
		if got[6] != "2001" {
			t.Fatalf("permID = %q", got[6])
		}
	})

	t.Run("account value", func(t *testing.T) {
		got := decode(t, AccountValue("NetLiquidation", "1000000.00", "USD", "DU123456"))
		want := []string{"6", "NetLiquidation", "1000000.00", "USD", "DU123456"}
		assertFields(t, got, want)
	})

	t.Run("position data", func(t *testing.T) {
		c := Contract{ConID: 1000, Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"}
		got := decode(t, PositionData("DU123456", c, 100, 185.5))
		if got[0] != "61" || got[1] != "DU123456" || got[3] != "AAPL" {
			t.Fatalf("fields = %q", got)
		}
		if got[len(got)-2] != "100" || got[len(got)-1] != "185.5" {
			t.Fatalf("fields = %q", got)
		}
	})

	t.Run("contract data ends at sec id list count", func(t *testing.T) {
		d := ContractDetails{
			Contract: Contract{ConID: 1000, Symbol: "AAPL", SecType: "STK"},
			MinTick:  0.01,
			LongName: "Apple Inc",
		}
		got := decode(t, ContractData(1, d))
		if got[0] != "10" || got[1] != "1" || got[2] != "AAPL" {
			t.Fatalf("fields = %q", got)
		}
		if got[len(got)-1] != "0" {
			t.Fatalf("secIdListCount = %q", got[len(got)-1])
		}
	})

	t.Run("historical data bar layout", func(t *testing.T) {
		bars := []Bar{
			{Date: "20260824", Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 5000, WAP: 100.2, BarCount: 120},
		}
		got := decode(t, HistoricalData(3, "20260801 00:00:00", "20260825 00:00:00", bars))
		if got[0] != "17" || got[1] != "3" {
			t.Fatalf("fields = %q", got)
		}
		if got[4] != "1" {
			t.Fatalf("bar count = %q", got[4])
		}
		if len(got) != 5+8 {
			t.Fatalf("field count = %d", len(got))
		}
	})

	t.Run("sec def opt param lists", func(t *testing.T) {
		got := decode(t, SecDefOptParam(5, "SMART", 1000, "AAPL", "100",
			[]string{"20260918", "20261016"}, []string{"180", "185", "190"}))
		if got[0] != "75" || got[1] != "5" {
			t.Fatalf("fields = %q", got)
		}
		if got[6] != "2" || got[9] != "3" {
			t.Fatalf("counts wrong: %q", got)
		}
	})

	t.Run("current time", func(t *testing.T) {
		ts := time.Unix(1756114200, 0)
		got := decode(t, CurrentTime(ts))
		want := []string{"49", "1756114200"}
		assertFields(t, got, want)
	})

	t.Run("managed accounts", func(t *testing.T) {
		got := decode(t, ManagedAccounts("DU123456,DU123457"))
		want := []string{"15", "DU123456,DU123457"}
		assertFields(t, got, want)
	})
}

func assertFields(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d fields %q, want %d %q", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("field %d = %q, want %q (all: %q)", i, got[i], want[i], got)
		}
	}
}
