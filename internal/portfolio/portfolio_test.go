package portfolio

import (
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/skalibog/sigtrade/internal/config"
	"github.com/skalibog/sigtrade/internal/market"
	"github.com/skalibog/sigtrade/pkg/models"
)

func TestCombine(t *testing.T) {
	tests := []struct {
		name   string
		dims   [][]string
		expect []string
	}{
		{"none", nil, nil},
		{"single", [][]string{{"a", "b"}}, []string{"a", "b"}},
		{"two", [][]string{{"a", "b"}, {"x", "y"}}, []string{"a-x", "a-y", "b-x", "b-y"}},
		{"three", [][]string{{"a"}, {"x", "y"}, {"1", "2"}}, []string{"a-x-1", "a-x-2", "a-y-1", "a-y-2"}},
		{"empty dimension", [][]string{{"a"}, {}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Combine(tt.dims)
			if len(got) != len(tt.expect) || (len(got) > 0 && !reflect.DeepEqual(got, tt.expect)) {
				t.Fatalf("Combine=%v, expected %v", got, tt.expect)
			}
		})
	}
}

func TestCombineDeterministic(t *testing.T) {
	dims := [][]string{{"urgent", "ote", "min"}, {"shortest", "shortmax", "midfirst", "midmax", "maxtarget"}, {"fixed", "trailing", "ladder"}, {"high", "normal", "none"}}
	first := Combine(dims)
	if len(first) != 3*5*3*3 {
		t.Fatalf("len=%d, expected %d", len(first), 3*5*3*3)
	}
	for i := 0; i < 5; i++ {
		if again := Combine(dims); !reflect.DeepEqual(first, again) {
			t.Fatalf("Combine not deterministic")
		}
	}
}

func testConfig() config.StrategyConfig {
	return config.StrategyConfig{
		BuyRules:          []string{"ote", "min"},
		SellRules:         []string{"shortest", "shortmax"},
		StopRules:         []string{"fixed"},
		LeverageRules:     []string{"none", "high"},
		BuyOrderLifetimeH: 24,
		TrailingPercent:   5,
		EMAPeriod:         20,
	}
}

func testSignal() *models.Signal {
	return &models.Signal{
		SignalID: "1",
		Coin:     "ABCUSDT",
		Leverage: []float64{2},
		Entry:    []float64{10, 11},
		OTE:      10.5,
		Terms:    models.Terms{Short: []float64{12, 13}},
		StopLoss: 9,
	}
}

func TestNewBuildsAllVariants(t *testing.T) {
	m, err := New(testConfig(), market.NewTracker(10), nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	expected := []string{
		"ote-shortest-fixed-none", "ote-shortest-fixed-high",
		"ote-shortmax-fixed-none", "ote-shortmax-fixed-high",
		"min-shortest-fixed-none", "min-shortest-fixed-high",
		"min-shortmax-fixed-none", "min-shortmax-fixed-high",
	}
	if got := m.Variants(); !reflect.DeepEqual(got, expected) {
		t.Fatalf("Variants=%v, expected %v", got, expected)
	}

	bad := testConfig()
	bad.StopRules = []string{"magic"}
	if _, err := New(bad, nil, nil); err == nil {
		t.Fatalf("New accepted unknown rule")
	}
}

func TestFanOutAndRank(t *testing.T) {
	tracker := market.NewTracker(10)
	m, err := New(testConfig(), tracker, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	m.OnSignal(testSignal())
	for _, id := range m.Variants() {
		ledger, ok := m.Orders(id)
		if !ok || len(ledger) != 1 {
			t.Fatalf("variant %s ledger=%v, expected one buy", id, ledger)
		}
	}

	// 10.5 исполняет только ote, затем 13 закрывает все short-цели
	for _, p := range []float64{10.5, 13} {
		tick := models.Prices{"ABCUSDT": p}
		tracker.Update(tick)
		m.OnPrices(tick)
	}

	ranked := m.Rank(1000, 100)
	if len(ranked) != 8 {
		t.Fatalf("ranked=%d, expected 8", len(ranked))
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i-1].Balances.Total < ranked[i].Balances.Total {
			t.Fatalf("ranking not descending at %d: %v < %v", i, ranked[i-1].Balances.Total, ranked[i].Balances.Total)
		}
	}
	// лучший: ote, продажа по 13, плечо 2
	if ranked[0].ID != "ote-shortmax-fixed-high" {
		t.Fatalf("best=%s, expected ote-shortmax-fixed-high", ranked[0].ID)
	}
	// min (10) не исполнен: баланс не изменился
	for _, r := range ranked {
		if r.ID[:3] == "min" && r.Balances.Total != 1000 {
			t.Fatalf("%s total=%v, expected 1000", r.ID, r.Balances.Total)
		}
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	m, err := New(testConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	m.OnSignal(testSignal())
	m.OnPrices(models.Prices{"ABCUSDT": 10.5})
	data := m.GetData()

	restored, err := New(testConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	restored.SetData(data)
	if got := restored.GetData(); !reflect.DeepEqual(got, data) {
		t.Fatalf("SetData(GetData()) changed ledgers")
	}

	// неизвестный вариант пропускается, отсутствующие начинают с пустого журнала
	partial := map[string]models.Ledger{
		"unknown-variant":         data["ote-shortest-fixed-none"],
		"ote-shortest-fixed-none": data["ote-shortest-fixed-none"],
	}
	restored.SetData(partial)
	for id, ledger := range restored.GetData() {
		expected := 0
		if id == "ote-shortest-fixed-none" {
			expected = len(data[id])
		}
		if len(ledger) != expected {
			t.Fatalf("%s ledger size=%d, expected %d", id, len(ledger), expected)
		}
	}
}

// checkFilledBuysHaveSells проверяет, что в снимке у каждой исполненной покупки есть продажа
func checkFilledBuysHaveSells(data map[string]models.Ledger) error {
	for id, ledger := range data {
		spawned := make(map[int64]bool)
		for _, o := range ledger {
			if o.Type == models.OrderTypeSell {
				spawned[o.RefOrderID] = true
			}
		}
		for _, o := range ledger {
			if o.Type == models.OrderTypeBuy && o.Status == models.OrderStatusProcessed && !spawned[o.ID] {
				return fmt.Errorf("%s: buy %d processed without its sell", id, o.ID)
			}
		}
	}
	return nil
}

func TestReadsConsistentDuringTicks(t *testing.T) {
	tracker := market.NewTracker(10)
	m, err := New(testConfig(), tracker, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	const rounds = 50
	done := make(chan struct{})
	errs := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if err := checkFilledBuysHaveSells(m.GetData()); err != nil {
				select {
				case errs <- err:
				default:
				}
				return
			}
			m.Rank(1000, 100)
		}
	}()

	for i := 0; i < rounds; i++ {
		s := testSignal()
		s.SignalID = fmt.Sprint(i + 1)
		s.Coin = fmt.Sprintf("C%dUSDT", i)
		m.OnSignal(s)
		for _, p := range []float64{9.5, 13} {
			tick := models.Prices{s.Coin: p}
			tracker.Update(tick)
			m.OnPrices(tick)
		}
	}
	close(done)
	wg.Wait()

	select {
	case err := <-errs:
		t.Fatalf("inconsistent snapshot: %v", err)
	default:
	}

	data := m.GetData()
	if err := checkFilledBuysHaveSells(data); err != nil {
		t.Fatalf("final snapshot: %v", err)
	}
	for id, ledger := range data {
		buys := 0
		for _, o := range ledger {
			if o.Type == models.OrderTypeBuy && o.Status == models.OrderStatusProcessed {
				buys++
			}
		}
		if buys != rounds || len(ledger) != 2*rounds {
			t.Fatalf("%s: processed buys=%d orders=%d, expected %d and %d", id, buys, len(ledger), rounds, 2*rounds)
		}
	}
}
