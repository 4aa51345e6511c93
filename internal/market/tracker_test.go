package market

import (
	"errors"
	"math"
	"testing"

	"github.com/skalibog/sigtrade/pkg/models"
)

func TestTrackerHistoryBounded(t *testing.T) {
	tr := NewTracker(3)
	for _, p := range []float64{1, 2, 3, 4, 5} {
		tr.Update(models.Prices{"ABCUSDT": p, "BAD": 0})
	}

	h := tr.History("ABCUSDT")
	if len(h) != 3 || h[0] != 3 || h[2] != 5 {
		t.Fatalf("History=%v, expected [3 4 5]", h)
	}
	if price, ok := tr.Price("ABCUSDT"); !ok || price != 5 {
		t.Fatalf("Price=%v,%v, expected 5,true", price, ok)
	}
	if _, ok := tr.Price("BAD"); ok {
		t.Fatalf("non-positive price stored")
	}
}

func TestTrackerEMA(t *testing.T) {
	tr := NewTracker(50)
	if _, err := tr.EMA("ABCUSDT", 5); !errors.Is(err, ErrNotEnoughHistory) {
		t.Fatalf("EMA on empty history error=%v, expected ErrNotEnoughHistory", err)
	}

	for i := 0; i < 20; i++ {
		tr.Update(models.Prices{"ABCUSDT": 10})
	}
	ema, err := tr.EMA("ABCUSDT", 5)
	if err != nil {
		t.Fatalf("EMA error: %v", err)
	}
	if math.Abs(ema-10) > 1e-9 {
		t.Fatalf("EMA of constant series=%v, expected 10", ema)
	}

	tr.Update(models.Prices{"ABCUSDT": 20})
	ema, _ = tr.EMA("ABCUSDT", 5)
	if ema <= 10 || ema >= 20 {
		t.Fatalf("EMA after jump=%v, expected between 10 and 20", ema)
	}
}

func TestTrackerDailyStats(t *testing.T) {
	tr := NewTracker(10)
	tr.SetDailyChanges(map[string]float64{BTCSymbol: -3.5, "ABCUSDT": 12, "XYZUSDT": 1})

	stats := tr.DailyStats("ABCUSDT")
	if len(stats) != 2 || stats[BTCSymbol] != -3.5 || stats["ABCUSDT"] != 12 {
		t.Fatalf("DailyStats=%v, expected BTC and ABC only", stats)
	}
}

func TestTrackerPricesIsACopy(t *testing.T) {
	tr := NewTracker(10)
	tr.Update(models.Prices{"ABCUSDT": 1})

	p := tr.Prices()
	p["ABCUSDT"] = 100
	if price, _ := tr.Price("ABCUSDT"); price != 1 {
		t.Fatalf("tracker mutated through Prices copy: %v", price)
	}
}
