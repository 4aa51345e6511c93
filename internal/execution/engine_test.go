package execution

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/sigtrade/internal/config"
	"github.com/skalibog/sigtrade/internal/exchange"
	"github.com/skalibog/sigtrade/pkg/models"
)

type fakeExchange struct {
	mu sync.Mutex

	balance          float64
	borrowable       float64
	transferFailures int
	ocoFailures      int
	pairs            []string
	limit            int
	filters          exchange.SymbolFilters
	account          exchange.IsolatedAccount

	nextID    int64
	orders    map[int64]*exchange.Order
	buys      []exchange.MarketBuyRequest
	ocos      []exchange.OCORequest
	cancelled []int64
	toMargin  int
	toSpot    []string
	enabled   []string
	disabled  []string
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balance:    1000,
		borrowable: 5000,
		limit:      10,
		filters:    exchange.SymbolFilters{Symbol: "ABCUSDT", BaseAsset: "ABC", QuoteAsset: "USDT", StepSize: 0.001, TickSize: 0.01},
		account: exchange.IsolatedAccount{
			Symbol:  "ABCUSDT",
			Enabled: true,
			Base:    exchange.MarginAsset{Asset: "ABC", Free: 29.9999},
			Quote:   exchange.MarginAsset{Asset: "USDT", Free: 12, Borrowed: 2},
		},
		nextID: 100,
		orders: make(map[int64]*exchange.Order),
	}
}

func (f *fakeExchange) AccountBalance(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeExchange) Filters(context.Context, string) (exchange.SymbolFilters, error) {
	return f.filters, nil
}

func (f *fakeExchange) MarketBuy(_ context.Context, req exchange.MarketBuyRequest) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, req)
	return f.newOrder(req.Symbol, exchange.SideBuy, req.ClientOrderID), nil
}

func (f *fakeExchange) PlaceOCO(_ context.Context, req exchange.OCORequest) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ocoFailures > 0 {
		f.ocoFailures--
		return nil, errors.New("too many requests")
	}
	f.ocos = append(f.ocos, req)
	return f.newOrder(req.Symbol, exchange.SideSell, req.ClientOrderID), nil
}

func (f *fakeExchange) newOrder(symbol string, side exchange.OrderSide, clientID string) *exchange.Order {
	f.nextID++
	o := &exchange.Order{Symbol: symbol, OrderID: f.nextID, ClientOrderID: clientID, Side: side, Status: exchange.StatusNew}
	f.orders[o.OrderID] = o
	c := *o
	return &c
}

func (f *fakeExchange) GetOrder(_ context.Context, _ string, id int64) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d not found", id)
	}
	c := *o
	return &c, nil
}

func (f *fakeExchange) setOrder(id int64, status exchange.OrderStatus, qty, quote float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	o.Status, o.ExecutedQty, o.CumQuoteQty = status, qty, quote
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ string, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	f.orders[id].Status = exchange.StatusCanceled
	return nil
}

func (f *fakeExchange) IsolatedAccount(context.Context, string) (*exchange.IsolatedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account
	return &a, nil
}

func (f *fakeExchange) IsolatedPairs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.pairs), nil
}

func (f *fakeExchange) PairLimit(context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pairs), f.limit, nil
}

func (f *fakeExchange) MaxBorrowable(context.Context, string, string) (float64, error) {
	return f.borrowable, nil
}

func (f *fakeExchange) TransferToMargin(_ context.Context, symbol, _ string, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toMargin++
	if f.toMargin <= f.transferFailures {
		return fmt.Errorf("transfer to %s rejected", symbol)
	}
	return nil
}

func (f *fakeExchange) TransferToSpot(_ context.Context, _, asset string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toSpot = append(f.toSpot, fmt.Sprintf("%s:%v", asset, amount))
	return nil
}

func (f *fakeExchange) EnablePair(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = append(f.enabled, symbol)
	f.pairs = append(f.pairs, symbol)
	return nil
}

func (f *fakeExchange) DisablePair(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = append(f.disabled, symbol)
	f.pairs = slices.DeleteFunc(f.pairs, func(p string) bool { return p == symbol })
	return nil
}

type newCoinFlag bool

func (n newCoinFlag) HasNewCoin() bool { return bool(n) }

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(ex *fakeExchange, cfg config.TradingConfig) (*Engine, *[]time.Duration) {
	e := NewEngine(cfg, ex, newCoinFlag(false), nil)
	e.now = func() time.Time { return t0 }
	var sleeps []time.Duration
	var mu sync.Mutex
	e.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	return e, &sleeps
}

func defaultTrading() config.TradingConfig {
	return config.TradingConfig{
		RatioTradeOnce:    0.5,
		TransferRetries:   3,
		TransferBackoffMs: 2000,
		SettleDelayMs:     5000,
		MaxIsolatedPairs:  10,
	}
}

func abcSignal() *models.Signal {
	return &models.Signal{
		SignalID: "1",
		Coin:     "ABCUSDT",
		Leverage: []float64{2, 3},
		Entry:    []float64{9, 10},
		OTE:      9.5,
		Terms:    models.Terms{Short: []float64{11, 12}, Mid: []float64{14}},
		StopLoss: 5,
	}
}

func TestBuyRetriesTransfer(t *testing.T) {
	ex := newFakeExchange()
	ex.transferFailures = 2
	e, sleeps := newTestEngine(ex, defaultTrading())

	p, err := e.Buy(context.Background(), abcSignal())
	if err != nil {
		t.Fatalf("Buy error: %v", err)
	}
	if ex.toMargin != 3 {
		t.Fatalf("transfer attempts=%d, expected 3", ex.toMargin)
	}
	if !slices.Equal(ex.enabled, []string{"ABCUSDT"}) {
		t.Fatalf("enabled pairs=%v, expected pair enabled after first failure", ex.enabled)
	}
	if len(*sleeps) != 2 || (*sleeps)[0] != 2*time.Second {
		t.Fatalf("backoff sleeps=%v, expected two of 2s", *sleeps)
	}
	if p.Side != exchange.SideBuy || p.Status != exchange.StatusNew || p.Leverage != 3 {
		t.Fatalf("position=%+v, expected BUY NEW with leverage 3", p)
	}
	if ex.buys[0].QuoteQty != 1500 {
		t.Fatalf("quote qty=%v, expected min(5000, 500*3)=1500", ex.buys[0].QuoteQty)
	}
	if got := e.Positions(); len(got) != 1 || got[0].OrderID != p.OrderID {
		t.Fatalf("positions=%v, expected the recorded buy", got)
	}
}

func TestBuyFailsAfterRetries(t *testing.T) {
	ex := newFakeExchange()
	ex.transferFailures = 3
	e, _ := newTestEngine(ex, defaultTrading())

	_, err := e.Buy(context.Background(), abcSignal())
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("Buy error=%v, expected ErrTransferFailed", err)
	}
	if ex.toMargin != 3 || len(ex.buys) != 0 {
		t.Fatalf("attempts=%d buys=%d, expected 3 attempts and no order", ex.toMargin, len(ex.buys))
	}
	if got := e.Positions(); len(got) != 0 {
		t.Fatalf("positions=%v, expected none", got)
	}
}

func TestAmountToUse(t *testing.T) {
	tests := []struct {
		name    string
		ratio   float64
		balance float64
		newCoin bool
		expect  float64
	}{
		{"fraction of balance", 0.5, 1001, false, 500},
		{"absolute amount", 100, 1000, false, 100},
		{"absolute capped by balance", 100, 50.7, false, 50},
		{"halved for new coin", 0.5, 1000, true, 250},
	}
	for _, tt := range tests {
		ex := newFakeExchange()
		ex.balance = tt.balance
		cfg := defaultTrading()
		cfg.RatioTradeOnce = tt.ratio
		e := NewEngine(cfg, ex, newCoinFlag(tt.newCoin), nil)

		got, err := e.amountToUse(context.Background())
		if err != nil {
			t.Fatalf("%s: error %v", tt.name, err)
		}
		if got != tt.expect {
			t.Fatalf("%s: amount=%v, expected %v", tt.name, got, tt.expect)
		}
	}

	ex := newFakeExchange()
	ex.balance = 0.9
	e := NewEngine(defaultTrading(), ex, nil, nil)
	if _, err := e.amountToUse(context.Background()); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("error=%v, expected ErrInsufficientFunds", err)
	}
}

func TestCheck(t *testing.T) {
	cfg := defaultTrading()
	cfg.CoinExceptions = []string{"XYZUSDT"}
	e := NewEngine(cfg, newFakeExchange(), nil, nil)

	descending := abcSignal()
	descending.Terms.Short = []float64{12, 11}
	stressed := abcSignal()
	stressed.DailyStats = map[string]float64{"BTCUSDT": -7.5}
	calm := abcSignal()
	calm.DailyStats = map[string]float64{"BTCUSDT": -6.9}
	excluded := abcSignal()
	excluded.Coin = "XYZUSDT"

	tests := []struct {
		name   string
		signal *models.Signal
		reject bool
	}{
		{"valid", abcSignal(), false},
		{"descending short ladder", descending, true},
		{"market stress", stressed, true},
		{"mild market", calm, false},
		{"exception list", excluded, true},
	}
	for _, tt := range tests {
		err := e.Check(tt.signal)
		if got := errors.Is(err, ErrRejected); got != tt.reject {
			t.Fatalf("%s: rejected=%v (%v), expected %v", tt.name, got, err, tt.reject)
		}
	}
}

func TestOnSignalRejectedPlacesNothing(t *testing.T) {
	ex := newFakeExchange()
	e, _ := newTestEngine(ex, defaultTrading())
	s := abcSignal()
	s.DailyStats = map[string]float64{"BTCUSDT": -10}

	e.OnSignal(s)
	e.Wait()
	if ex.toMargin != 0 || len(e.Positions()) != 0 {
		t.Fatalf("rejected signal reached the exchange")
	}

	e.OnSignal(abcSignal())
	e.Wait()
	if len(e.Positions()) != 1 {
		t.Fatalf("positions=%d, expected accepted signal to buy", len(e.Positions()))
	}
}

func TestWatchFillPlacesSell(t *testing.T) {
	ex := newFakeExchange()
	e, _ := newTestEngine(ex, defaultTrading())
	buy, err := e.Buy(context.Background(), abcSignal())
	if err != nil {
		t.Fatalf("Buy error: %v", err)
	}

	// еще не исполнен
	ex.setOrder(buy.OrderID, exchange.StatusPartiallyFilled, 1, 10)
	e.WatchOrders(context.Background())
	if len(ex.ocos) != 0 {
		t.Fatalf("sell placed for a partially filled order")
	}

	ex.setOrder(buy.OrderID, exchange.StatusFilled, 10, 100)
	e.WatchOrders(context.Background())

	if len(ex.ocos) != 1 {
		t.Fatalf("ocos=%d, expected 1", len(ex.ocos))
	}
	oco := ex.ocos[0]
	if oco.Price != 14 || oco.StopPrice != 8.41 || oco.Quantity != 29.999 {
		t.Fatalf("oco=%+v, expected price 14 stop 8.41 quantity 29.999", oco)
	}

	positions := e.Positions()
	if len(positions) != 2 {
		t.Fatalf("positions=%d, expected buy and sell", len(positions))
	}
	closed, sell := positions[0], positions[1]
	if closed.Status != exchange.StatusFilled || closed.Price != 10 || !closed.ClosedAt.Equal(t0) {
		t.Fatalf("buy=%+v, expected FILLED at 10", closed)
	}
	if sell.Side != exchange.SideSell || sell.Target != 0 || sell.RefOrderID != buy.OrderID || sell.Leverage != 3 {
		t.Fatalf("sell=%+v, expected SELL target 0 referencing buy", sell)
	}

	// повторный опрос не выставляет вторую продажу
	e.WatchOrders(context.Background())
	if len(ex.ocos) != 1 {
		t.Fatalf("ocos=%d after second poll, expected 1", len(ex.ocos))
	}
}

func TestWatchUnfilledBuyRefunds(t *testing.T) {
	ex := newFakeExchange()
	ex.pairs = []string{"ABCUSDT"}
	e, sleeps := newTestEngine(ex, defaultTrading())
	buy, err := e.Buy(context.Background(), abcSignal())
	if err != nil {
		t.Fatalf("Buy error: %v", err)
	}

	ex.setOrder(buy.OrderID, exchange.StatusExpired, 0, 0)
	e.WatchOrders(context.Background())

	if len(ex.ocos) != 0 {
		t.Fatalf("sell placed for unfilled buy")
	}
	if !slices.Equal(ex.toSpot, []string{"USDT:10", "ABC:29.9999"}) {
		t.Fatalf("spot transfers=%v, expected refundable quote and base", ex.toSpot)
	}
	if !slices.Equal(ex.disabled, []string{"ABCUSDT"}) {
		t.Fatalf("disabled=%v, expected pair disabled", ex.disabled)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 5*time.Second {
		t.Fatalf("sleeps=%v, expected settle delay", *sleeps)
	}
}

func TestSellFillRefunds(t *testing.T) {
	ex := newFakeExchange()
	e, _ := newTestEngine(ex, defaultTrading())
	e.SetPositions([]*Position{{OrderID: 7, Symbol: "ABCUSDT", Side: exchange.SideSell, Status: exchange.StatusNew, Signal: abcSignal()}})
	ex.orders[7] = &exchange.Order{Symbol: "ABCUSDT", OrderID: 7, Side: exchange.SideSell, Status: exchange.StatusFilled, ExecutedQty: 29, CumQuoteQty: 406}

	e.WatchOrders(context.Background())
	if len(ex.toSpot) != 2 || len(ex.disabled) != 1 {
		t.Fatalf("toSpot=%v disabled=%v, expected refund after sell fill", ex.toSpot, ex.disabled)
	}
	if got := e.Positions()[0]; got.Status != exchange.StatusFilled {
		t.Fatalf("sell status=%s, expected FILLED", got.Status)
	}
}

func TestLadderAdvance(t *testing.T) {
	ex := newFakeExchange()
	e, _ := newTestEngine(ex, defaultTrading())
	ex.orders[50] = &exchange.Order{Symbol: "ABCUSDT", OrderID: 50, Side: exchange.SideSell, Status: exchange.StatusNew}
	e.SetPositions([]*Position{{
		OrderID: 50, Symbol: "ABCUSDT", Side: exchange.SideSell, Status: exchange.StatusNew,
		Signal: abcSignal(), Leverage: 3, Price: 14, StopLoss: 8.41,
	}})

	// цена ниже первой ступени
	e.OnPrices(models.Prices{"ABCUSDT": 10.9})
	e.Wait()
	if len(ex.cancelled) != 0 {
		t.Fatalf("advanced below the first rung")
	}

	steps := []struct {
		price  float64
		stop   float64
		target int
	}{
		{11.5, 10.5, 1}, // середина между верхом входа и первой целью
		{12, 11, 2},     // предыдущая ступень
	}
	for _, step := range steps {
		e.OnPrices(models.Prices{"ABCUSDT": step.price, "OTHERUSDT": 1})
		e.Wait()

		positions := e.Positions()
		last := positions[len(positions)-1]
		prev := positions[len(positions)-2]
		if prev.Status != exchange.StatusCanceled {
			t.Fatalf("price %v: previous status=%s, expected CANCELED", step.price, prev.Status)
		}
		if last.StopLoss != step.stop || last.Target != step.target || last.Price != 14 || last.RefOrderID != prev.OrderID {
			t.Fatalf("price %v: position=%+v, expected stop %v target %d", step.price, last, step.stop, step.target)
		}
		if ex.cancelled[len(ex.cancelled)-1] != prev.OrderID {
			t.Fatalf("price %v: cancelled=%v, expected %d", step.price, ex.cancelled, prev.OrderID)
		}
	}

	// последняя ступень достигнута
	e.OnPrices(models.Prices{"ABCUSDT": 20})
	e.Wait()
	if len(ex.ocos) != 2 {
		t.Fatalf("ocos=%d, expected no advance past the last rung", len(ex.ocos))
	}
}

func TestFailedSellRetriedByPoll(t *testing.T) {
	ex := newFakeExchange()
	e, _ := newTestEngine(ex, defaultTrading())
	buy, err := e.Buy(context.Background(), abcSignal())
	if err != nil {
		t.Fatalf("Buy error: %v", err)
	}

	ex.ocoFailures = 1
	ex.setOrder(buy.OrderID, exchange.StatusFilled, 10, 100)
	e.WatchOrders(context.Background())

	if len(ex.ocos) != 0 {
		t.Fatalf("ocos=%d, expected the first placement to fail", len(ex.ocos))
	}
	if got := e.Positions()[0]; got.Status != exchange.StatusFilled || !got.SellPending {
		t.Fatalf("buy=%+v, expected FILLED with a pending sell", got)
	}

	// пока продажа не выставлена, средства остаются на изолированном счете
	if err := e.RefundToSpot(context.Background(), buy); err != nil || len(ex.toSpot) != 0 || len(ex.disabled) != 0 {
		t.Fatalf("refund with pending sell: err=%v toSpot=%v disabled=%v", err, ex.toSpot, ex.disabled)
	}

	e.WatchOrders(context.Background())
	if len(ex.ocos) != 1 || ex.ocos[0].Price != 14 || ex.ocos[0].StopPrice != 8.41 {
		t.Fatalf("ocos=%+v, expected the sell re-placed at 14 with stop 8.41", ex.ocos)
	}
	positions := e.Positions()
	if len(positions) != 2 || positions[0].SellPending || positions[1].RefOrderID != buy.OrderID {
		t.Fatalf("positions=%+v, expected pending cleared and sell referencing buy", positions)
	}

	e.WatchOrders(context.Background())
	if len(ex.ocos) != 1 {
		t.Fatalf("ocos=%d after recovery, expected no duplicate sell", len(ex.ocos))
	}
}

func TestFailedReissueRetriedByPoll(t *testing.T) {
	ex := newFakeExchange()
	e, _ := newTestEngine(ex, defaultTrading())
	ex.orders[50] = &exchange.Order{Symbol: "ABCUSDT", OrderID: 50, Side: exchange.SideSell, Status: exchange.StatusNew}
	e.SetPositions([]*Position{{
		OrderID: 50, Symbol: "ABCUSDT", Side: exchange.SideSell, Status: exchange.StatusNew,
		Signal: abcSignal(), Leverage: 3, Price: 14, StopLoss: 8.41,
	}})

	ex.ocoFailures = 1
	e.OnPrices(models.Prices{"ABCUSDT": 11.5})
	e.Wait()

	if !slices.Equal(ex.cancelled, []int64{50}) || len(ex.ocos) != 0 {
		t.Fatalf("cancelled=%v ocos=%d, expected cancel and failed re-issue", ex.cancelled, len(ex.ocos))
	}
	if got := e.Positions()[0]; got.Status != exchange.StatusCanceled || !got.SellPending {
		t.Fatalf("position=%+v, expected CANCELED with a pending sell", got)
	}

	e.WatchOrders(context.Background())
	if len(ex.ocos) != 1 || ex.ocos[0].StopPrice != 10.5 {
		t.Fatalf("ocos=%+v, expected re-issue at stop 10.5", ex.ocos)
	}
	positions := e.Positions()
	last := positions[len(positions)-1]
	if positions[0].SellPending || last.Target != 1 || last.RefOrderID != 50 || !last.IsOpen() {
		t.Fatalf("positions=%+v, expected open sell on target 1 and pending cleared", positions)
	}
	if len(ex.toSpot) != 0 || len(ex.disabled) != 0 {
		t.Fatalf("toSpot=%v disabled=%v, expected no refund for a protected coin", ex.toSpot, ex.disabled)
	}

	e.WatchOrders(context.Background())
	e.OnPrices(models.Prices{"ABCUSDT": 11.5})
	e.Wait()
	if len(ex.ocos) != 1 {
		t.Fatalf("ocos=%d, expected a single re-issue", len(ex.ocos))
	}
}

func TestPendingSellWithoutBaseRefunds(t *testing.T) {
	ex := newFakeExchange()
	ex.account.Base.Free = 0
	e, _ := newTestEngine(ex, defaultTrading())
	e.SetPositions([]*Position{{
		OrderID: 9, Symbol: "ABCUSDT", Side: exchange.SideBuy, Status: exchange.StatusFilled,
		Signal: abcSignal(), Leverage: 3, Price: 10, SellPending: true,
	}})

	e.WatchOrders(context.Background())
	if len(ex.ocos) != 0 {
		t.Fatalf("ocos=%d, expected nothing to sell", len(ex.ocos))
	}
	if !slices.Equal(ex.toSpot, []string{"USDT:10"}) || !slices.Equal(ex.disabled, []string{"ABCUSDT"}) {
		t.Fatalf("toSpot=%v disabled=%v, expected quote refunded and pair disabled", ex.toSpot, ex.disabled)
	}
	if e.Positions()[0].SellPending {
		t.Fatalf("pending sell kept after refund")
	}
}

func TestLadderNeverLoosensStop(t *testing.T) {
	p := &Position{Side: exchange.SideSell, Status: exchange.StatusNew, Signal: abcSignal(), StopLoss: 10.8}
	if got := p.NextStop(); got != 10.8 {
		t.Fatalf("NextStop=%v, expected existing stop 10.8 kept", got)
	}
	p.Target = 1
	if got := p.NextStop(); got != 11 {
		t.Fatalf("NextStop=%v, expected 11", got)
	}
}

func TestEnsurePairEvictsLeastRecentlyUsed(t *testing.T) {
	ex := newFakeExchange()
	ex.pairs = []string{"AAAUSDT", "BBBUSDT", "CCCUSDT", "DDDUSDT"}
	ex.limit = 4
	cfg := defaultTrading()
	cfg.EssentialPairs = []string{"AAAUSDT"}
	e, _ := newTestEngine(ex, cfg)

	// BBB занята открытой позицией, DDD использовалась недавно
	e.SetPositions([]*Position{{OrderID: 1, Symbol: "BBBUSDT", Side: exchange.SideBuy, Status: exchange.StatusNew}})
	e.lastUsed["CCCUSDT"] = t0.Add(-2 * time.Hour)
	e.lastUsed["DDDUSDT"] = t0.Add(-time.Hour)

	if err := e.ensurePair(context.Background(), "ABCUSDT"); err != nil {
		t.Fatalf("ensurePair error: %v", err)
	}
	if !slices.Equal(ex.disabled, []string{"CCCUSDT"}) || !slices.Equal(ex.enabled, []string{"ABCUSDT"}) {
		t.Fatalf("disabled=%v enabled=%v, expected CCCUSDT evicted for ABCUSDT", ex.disabled, ex.enabled)
	}

	// пара уже включена
	if err := e.ensurePair(context.Background(), "ABCUSDT"); err != nil || len(ex.enabled) != 1 {
		t.Fatalf("ensurePair on enabled pair: err=%v enabled=%v", err, ex.enabled)
	}
}

func TestEnsurePairNoFreeSlot(t *testing.T) {
	ex := newFakeExchange()
	ex.pairs = []string{"AAAUSDT"}
	ex.limit = 1
	cfg := defaultTrading()
	cfg.EssentialPairs = []string{"AAAUSDT"}
	e, _ := newTestEngine(ex, cfg)

	if err := e.ensurePair(context.Background(), "ABCUSDT"); !errors.Is(err, ErrNoFreeSlot) {
		t.Fatalf("ensurePair error=%v, expected ErrNoFreeSlot", err)
	}
}

func TestPositionsAreCopies(t *testing.T) {
	e, _ := newTestEngine(newFakeExchange(), defaultTrading())
	e.SetPositions([]*Position{{OrderID: 1, Symbol: "ABCUSDT", Status: exchange.StatusNew}, nil})

	got := e.Positions()
	got[0].Status = exchange.StatusFilled
	if e.Positions()[0].Status != exchange.StatusNew || len(got) != 1 {
		t.Fatalf("Positions returned shared state")
	}
}
