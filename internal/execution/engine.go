package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/internal/config"
	"github.com/skalibog/sigtrade/internal/exchange"
	"github.com/skalibog/sigtrade/internal/market"
	"github.com/skalibog/sigtrade/internal/metrics"
	"github.com/skalibog/sigtrade/pkg/models"
)

// Ошибки исполнения
var (
	ErrRejected          = errors.New("сигнал отклонен")
	ErrInsufficientFunds = errors.New("недостаточно средств")
	ErrNoBuyingPower     = errors.New("нет доступного заема")
)

// Exchange операции биржи, нужные для реальной торговли
type Exchange interface {
	AccountBalance(ctx context.Context, asset string) (float64, error)
	Filters(ctx context.Context, symbol string) (exchange.SymbolFilters, error)
	MarketBuy(ctx context.Context, req exchange.MarketBuyRequest) (*exchange.Order, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*exchange.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	PlaceOCO(ctx context.Context, req exchange.OCORequest) (*exchange.Order, error)
	IsolatedAccount(ctx context.Context, symbol string) (*exchange.IsolatedAccount, error)
	IsolatedPairs(ctx context.Context) ([]string, error)
	PairLimit(ctx context.Context) (enabled, limit int, err error)
	MaxBorrowable(ctx context.Context, symbol, asset string) (float64, error)
	TransferToMargin(ctx context.Context, symbol, asset string, amount float64) error
	TransferToSpot(ctx context.Context, symbol, asset string, amount float64) error
	EnablePair(ctx context.Context, symbol string) error
	DisablePair(ctx context.Context, symbol string) error
}

// NewCoinDetector сообщает о недавно анонсированном листинге
type NewCoinDetector interface {
	HasNewCoin() bool
}

// Engine переводит сигналы в реальные ордера изолированной маржи
type Engine struct {
	cfg      config.TradingConfig
	exchange Exchange
	newCoins NewCoinDetector
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	positions []*Position
	lastUsed  map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine создает движок исполнения
func NewEngine(cfg config.TradingConfig, ex Exchange, newCoins NewCoinDetector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TransferRetries <= 0 {
		cfg.TransferRetries = 3
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.MarketStressThreshold == 0 {
		cfg.MarketStressThreshold = -7
	}
	if cfg.WatchIntervalSeconds <= 0 {
		cfg.WatchIntervalSeconds = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg,
		exchange: ex,
		newCoins: newCoins,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
		lastUsed: make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Check проверяет, можно ли торговать по сигналу
func (e *Engine) Check(s *models.Signal) error {
	if short := s.Terms.Short; len(short) > 0 && short[0] != slices.Min(short) {
		return fmt.Errorf("%w: краткосрочные цели убывают", ErrRejected)
	}
	if btc, ok := s.DailyStats[market.BTCSymbol]; ok && btc < e.cfg.MarketStressThreshold {
		return fmt.Errorf("%w: BTC за сутки %.2f%%", ErrRejected, btc)
	}
	if slices.Contains(e.cfg.CoinExceptions, s.Coin) {
		return fmt.Errorf("%w: %s в списке исключений", ErrRejected, s.Coin)
	}
	return nil
}

// OnSignal проверяет сигнал и асинхронно открывает позицию
func (e *Engine) OnSignal(s *models.Signal) {
	if err := e.Check(s); err != nil {
		e.logger.Info("Сигнал не подходит для торговли",
			zap.Time("at", e.now()),
			zap.Any("signal", s),
			zap.Error(err))
		metrics.IncLiveOrder("buy", "rejected")
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.Buy(e.ctx, s); err != nil {
			e.logger.Error("Ошибка покупки",
				zap.Time("at", e.now()),
				zap.Any("signal", s),
				zap.Error(err))
		}
	}()
}

// Buy переводит средства на изолированный счет и покупает по рынку с плечом
func (e *Engine) Buy(ctx context.Context, s *models.Signal) (*Position, error) {
	amount, err := e.amountToUse(ctx)
	if err != nil {
		return nil, err
	}

	symbol := s.Coin
	if err := e.transferToMargin(ctx, symbol, amount); err != nil {
		metrics.IncLiveOrder("buy", "transfer_failed")
		return nil, err
	}

	leverage := s.MaxLeverage()
	borrowable, err := e.exchange.MaxBorrowable(ctx, symbol, e.cfg.QuoteAsset)
	if err != nil {
		e.refundAsync(symbol)
		return nil, fmt.Errorf("ошибка получения доступного заема %s: %w", symbol, err)
	}
	if borrowable <= 0 {
		e.refundAsync(symbol)
		return nil, fmt.Errorf("%w: %s", ErrNoBuyingPower, symbol)
	}

	quoteQty := decimal.NewFromFloat(min(borrowable, amount*leverage)).Truncate(2).InexactFloat64()
	order, err := e.exchange.MarketBuy(ctx, exchange.MarketBuyRequest{
		Symbol:        symbol,
		QuoteQty:      quoteQty,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		metrics.IncLiveOrder("buy", "failed")
		e.refundAsync(symbol)
		return nil, fmt.Errorf("ошибка рыночной покупки %s: %w", symbol, err)
	}

	position := &Position{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        symbol,
		Side:          exchange.SideBuy,
		Status:        exchange.StatusNew,
		Signal:        s,
		Leverage:      leverage,
		Amount:        quoteQty,
		CreatedAt:     e.now(),
	}
	e.record(position)
	metrics.IncLiveOrder("buy", "placed")

	e.logger.Info("Открыта покупка",
		zap.String("symbol", symbol),
		zap.Int64("orderId", order.OrderID),
		zap.Float64("amount", amount),
		zap.Float64("quoteQty", quoteQty),
		zap.Float64("leverage", leverage))
	return position.clone(), nil
}

// amountToUse сумма котируемой валюты на одну сделку
func (e *Engine) amountToUse(ctx context.Context) (float64, error) {
	free, err := e.exchange.AccountBalance(ctx, e.cfg.QuoteAsset)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения баланса %s: %w", e.cfg.QuoteAsset, err)
	}

	ratio := e.cfg.RatioTradeOnce
	amount := ratio * free
	if ratio > 1 {
		amount = min(ratio, free)
	}
	if e.newCoins != nil && e.newCoins.HasNewCoin() {
		amount /= 2
	}
	amount = math.Floor(amount)
	if amount <= 0 {
		return 0, fmt.Errorf("%w: свободно %.2f %s", ErrInsufficientFunds, free, e.cfg.QuoteAsset)
	}
	return amount, nil
}

// Run опрашивает открытые ордера до отмены контекста
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.WatchInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.WatchOrders(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// WatchOrders проверяет открытые ордера и продвигает позиции по жизненному циклу
func (e *Engine) WatchOrders(ctx context.Context) {
	e.retryPending(ctx)

	for _, p := range e.openPositions() {
		order, err := e.exchange.GetOrder(ctx, p.Symbol, p.OrderID)
		if err != nil {
			e.logger.Warn("Ошибка получения ордера",
				zap.String("symbol", p.Symbol),
				zap.Int64("orderId", p.OrderID),
				zap.Error(err))
			continue
		}
		if order.Status.IsOpen() {
			continue
		}

		closed, ok := e.close(p.OrderID, order)
		if !ok {
			continue
		}
		metrics.IncLiveOrder(string(closed.Side), string(closed.Status))

		if closed.Side == exchange.SideBuy && order.ExecutedQty > 0 {
			if _, err := e.Sell(ctx, closed); err != nil {
				e.setPending(closed.OrderID, true)
				e.logger.Error("Ошибка выставления продажи, повтор при следующем опросе",
					zap.Time("at", e.now()),
					zap.Any("position", closed),
					zap.Error(err))
			}
			continue
		}
		if err := e.RefundToSpot(ctx, closed); err != nil {
			e.logger.Error("Ошибка возврата средств на спот",
				zap.String("symbol", closed.Symbol),
				zap.Error(err))
		}
	}
}

// close фиксирует итог ордера, если позиция еще открыта
func (e *Engine) close(orderID int64, order *exchange.Order) (*Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range e.positions {
		if p.OrderID != orderID || !p.IsOpen() {
			continue
		}
		p.Status = order.Status
		p.ClosedAt = e.now()
		if p.Side == exchange.SideBuy {
			p.Price = order.AvgPrice()
			p.Quantity = order.ExecutedQty
		}
		e.logger.Info("Ордер закрыт",
			zap.String("symbol", p.Symbol),
			zap.String("side", string(p.Side)),
			zap.String("status", string(p.Status)),
			zap.Float64("price", p.Price))
		return p.clone(), true
	}
	return nil, false
}

// Sell выставляет OCO на продажу по исполненной покупке
func (e *Engine) Sell(ctx context.Context, buy *Position) (*Position, error) {
	s := buy.Signal
	if s == nil {
		return nil, fmt.Errorf("позиция %d без сигнала", buy.OrderID)
	}
	leverage := max(buy.Leverage, 1)
	stop := max(s.StopLoss, buy.Price*(1-1/(2*leverage))*1.01)

	sell, err := e.placeSell(ctx, buy.Symbol, s, stop, 0)
	if err != nil {
		return nil, err
	}
	sell.RefOrderID = buy.OrderID
	sell.Leverage = leverage
	sell.Amount = buy.Amount
	e.record(sell)

	e.logger.Info("Выставлена продажа",
		zap.String("symbol", sell.Symbol),
		zap.Int64("orderId", sell.OrderID),
		zap.Float64("takeProfit", sell.Price),
		zap.Float64("stopLoss", sell.StopLoss),
		zap.Float64("quantity", sell.Quantity))
	return sell.clone(), nil
}

// placeSell выставляет OCO на весь доступный базовый актив
func (e *Engine) placeSell(ctx context.Context, symbol string, s *models.Signal, stop float64, target int) (*Position, error) {
	filters, err := e.exchange.Filters(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения фильтров %s: %w", symbol, err)
	}
	account, err := e.exchange.IsolatedAccount(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения изолированного счета %s: %w", symbol, err)
	}

	quantity := filters.FloorQuantity(account.Base.Free)
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: нет %s для продажи", ErrInsufficientFunds, filters.BaseAsset)
	}
	price := filters.FloorPrice(s.MaxTarget())
	stop = filters.FloorPrice(stop)

	order, err := e.exchange.PlaceOCO(ctx, exchange.OCORequest{
		Symbol:         symbol,
		Quantity:       quantity,
		Price:          price,
		StopPrice:      stop,
		StopLimitPrice: stop,
		ClientOrderID:  uuid.NewString(),
	})
	if err != nil {
		metrics.IncLiveOrder("sell", "failed")
		return nil, fmt.Errorf("ошибка выставления OCO %s: %w", symbol, err)
	}
	metrics.IncLiveOrder("sell", "placed")
	e.touch(symbol)

	return &Position{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        symbol,
		Side:          exchange.SideSell,
		Status:        exchange.StatusNew,
		Signal:        s,
		Quantity:      quantity,
		Price:         price,
		StopLoss:      stop,
		Target:        target,
		CreatedAt:     e.now(),
	}, nil
}

// OnPrices продвигает открытые продажи по лестнице целей
func (e *Engine) OnPrices(prices models.Prices) {
	var advancing []*Position

	e.mu.Lock()
	for _, p := range e.positions {
		price, ok := prices[p.Symbol]
		if !ok || !p.CanAdvance(price) {
			continue
		}
		p.Status = exchange.StatusCanceled
		p.ClosedAt = e.now()
		advancing = append(advancing, p.clone())
	}
	e.mu.Unlock()

	for _, p := range advancing {
		e.wg.Add(1)
		go func(p *Position) {
			defer e.wg.Done()
			if _, err := e.advance(e.ctx, p); err != nil {
				e.logger.Error("Ошибка перестановки OCO",
					zap.Time("at", e.now()),
					zap.Any("position", p),
					zap.Error(err))
			}
		}(p)
	}
}

// advance отменяет текущий OCO и выставляет новый на следующей ступени
func (e *Engine) advance(ctx context.Context, p *Position) (*Position, error) {
	if err := e.exchange.CancelOrder(ctx, p.Symbol, p.OrderID); err != nil {
		// ордер мог исполниться, пусть его подберет опрос
		e.reopen(p.OrderID)
		return nil, fmt.Errorf("ошибка отмены ордера %d: %w", p.OrderID, err)
	}

	next, err := e.reissue(ctx, p)
	if err != nil {
		// монета осталась без стопа, опрос повторит выставление
		e.setPending(p.OrderID, true)
		return nil, err
	}
	return next, nil
}

// reissue выставляет OCO следующей ступени вместо отмененного
func (e *Engine) reissue(ctx context.Context, p *Position) (*Position, error) {
	next, err := e.placeSell(ctx, p.Symbol, p.Signal, p.NextStop(), p.Target+1)
	if err != nil {
		return nil, err
	}
	next.RefOrderID = p.OrderID
	next.Leverage = p.Leverage
	next.Amount = p.Amount
	e.record(next)

	e.logger.Info("Продажа переставлена на следующую ступень",
		zap.String("symbol", next.Symbol),
		zap.Int("target", next.Target),
		zap.Float64("stopLoss", next.StopLoss),
		zap.Float64("takeProfit", next.Price))
	return next.clone(), nil
}

// retryPending повторяет выставление OCO для позиций, оставшихся без защиты
func (e *Engine) retryPending(ctx context.Context) {
	for _, p := range e.pendingPositions() {
		var err error
		if p.Side == exchange.SideBuy {
			_, err = e.Sell(ctx, p)
		} else {
			_, err = e.reissue(ctx, p)
		}

		switch {
		case err == nil:
			e.setPending(p.OrderID, false)
		case errors.Is(err, ErrInsufficientFunds):
			// продавать нечего, возвращаем остатки
			e.setPending(p.OrderID, false)
			e.logger.Warn("Нет актива для продажи, возврат средств",
				zap.String("symbol", p.Symbol),
				zap.Int64("orderId", p.OrderID),
				zap.Error(err))
			if err := e.RefundToSpot(ctx, p); err != nil {
				e.logger.Error("Ошибка возврата средств на спот",
					zap.String("symbol", p.Symbol),
					zap.Error(err))
			}
		default:
			e.logger.Warn("Повтор выставления продажи не удался",
				zap.String("symbol", p.Symbol),
				zap.Int64("orderId", p.OrderID),
				zap.Error(err))
		}
	}
}

func (e *Engine) setPending(orderID int64, pending bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.positions {
		if p.OrderID == orderID && !p.IsOpen() {
			p.SellPending = pending
		}
	}
}

func (e *Engine) pendingPositions() []*Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	var result []*Position
	for _, p := range e.positions {
		if p.SellPending {
			result = append(result, p.clone())
		}
	}
	return result
}

func (e *Engine) reopen(orderID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.positions {
		if p.OrderID == orderID && p.Status == exchange.StatusCanceled {
			p.Status = exchange.StatusNew
			p.ClosedAt = time.Time{}
		}
	}
}

// RefundToSpot возвращает остатки изолированного счета на спот и отключает пару
func (e *Engine) RefundToSpot(ctx context.Context, p *Position) error {
	return e.refund(ctx, p.Symbol)
}

func (e *Engine) refundAsync(symbol string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.refund(e.ctx, symbol); err != nil {
			e.logger.Error("Ошибка возврата средств на спот", zap.String("symbol", symbol), zap.Error(err))
		}
	}()
}

func (e *Engine) refund(ctx context.Context, symbol string) error {
	if err := e.sleep(ctx, e.cfg.SettleDelay()); err != nil {
		return err
	}
	if e.hasPending(symbol) {
		e.logger.Info("Возврат отложен: по паре ожидается продажа", zap.String("symbol", symbol))
		return nil
	}

	account, err := e.exchange.IsolatedAccount(ctx, symbol)
	if err != nil {
		return fmt.Errorf("ошибка получения изолированного счета %s: %w", symbol, err)
	}
	for _, asset := range []exchange.MarginAsset{account.Quote, account.Base} {
		amount := asset.Refundable()
		if amount <= 0 {
			continue
		}
		if err := e.exchange.TransferToSpot(ctx, symbol, asset.Asset, amount); err != nil {
			return fmt.Errorf("ошибка перевода %s на спот: %w", asset.Asset, err)
		}
		e.logger.Info("Средства возвращены на спот",
			zap.String("symbol", symbol),
			zap.String("asset", asset.Asset),
			zap.Float64("amount", amount))
	}

	if slices.Contains(e.cfg.EssentialPairs, symbol) || e.hasOpen(symbol) {
		return nil
	}
	if err := e.exchange.DisablePair(ctx, symbol); err != nil {
		return fmt.Errorf("ошибка отключения пары %s: %w", symbol, err)
	}
	e.forget(symbol)
	return nil
}

func (e *Engine) hasOpen(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.positions {
		if p.Symbol == symbol && p.IsOpen() {
			return true
		}
	}
	return false
}

func (e *Engine) hasPending(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.positions {
		if p.Symbol == symbol && p.SellPending {
			return true
		}
	}
	return false
}

func (e *Engine) record(p *Position) {
	e.mu.Lock()
	e.positions = append(e.positions, p)
	open := 0
	for _, existing := range e.positions {
		if existing.IsOpen() {
			open++
		}
	}
	e.mu.Unlock()
	metrics.SetOpenPositions(open)
}

func (e *Engine) openPositions() []*Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	var result []*Position
	for _, p := range e.positions {
		if p.IsOpen() {
			result = append(result, p.clone())
		}
	}
	return result
}

// Positions возвращает копию всех позиций
func (e *Engine) Positions() []*Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]*Position, len(e.positions))
	for i, p := range e.positions {
		result[i] = p.clone()
	}
	return result
}

// SetPositions восстанавливает позиции из снимка
func (e *Engine) SetPositions(positions []*Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions = make([]*Position, 0, len(positions))
	for _, p := range positions {
		if p == nil {
			continue
		}
		e.positions = append(e.positions, p.clone())
		if p.IsOpen() {
			e.lastUsed[p.Symbol] = p.CreatedAt
		}
	}
}

// Wait ждет завершения фоновых операций
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Stop отменяет фоновые операции и ждет их завершения
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}
