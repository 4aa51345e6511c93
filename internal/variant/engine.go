// Package variant симулирует одну комбинацию правил на живых сигналах и ценах.
package variant

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/internal/balance"
	"github.com/skalibog/sigtrade/internal/metrics"
	"github.com/skalibog/sigtrade/internal/rules"
	"github.com/skalibog/sigtrade/pkg/models"
)

// DefaultLifetime срок жизни ордера на покупку по умолчанию
const DefaultLifetime = 24 * time.Hour

// Options параметры движка варианта
type Options struct {
	Lifetime time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

// Engine ведет собственный журнал ордеров для одного набора правил.
// Все изменения журнала выполняются под мьютексом движка.
type Engine struct {
	id       string
	rules    rules.Rules
	lifetime time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.RWMutex
	ledger models.Ledger
	nextID int64
}

// New создает движок варианта
func New(id string, r rules.Rules, opts Options) *Engine {
	if r == nil {
		r = rules.Defaults{}
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultLifetime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		id:       id,
		rules:    r,
		lifetime: opts.Lifetime,
		now:      opts.Now,
		logger:   opts.Logger.With(zap.String("variant", id)),
		ledger:   make(models.Ledger),
	}
}

// ID возвращает идентификатор варианта
func (e *Engine) ID() string {
	return e.id
}

// OnSignal создает ордер на покупку по сигналу. Если по монете открыта позиция,
// сигнал игнорируется. Активный ордер на покупку по монете отменяется.
// Возвращает копию созданного ордера или nil.
func (e *Engine) OnSignal(s *models.Signal) *models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, order := range e.ledger {
		if order.Coin == s.Coin && order.IsActive(models.OrderTypeSell) {
			e.logger.Debug("Позиция по монете открыта, сигнал пропущен",
				zap.String("coin", s.Coin),
				zap.String("signalId", s.SignalID),
				zap.Int64("sellOrderId", order.ID))
			return nil
		}
	}

	now := e.now()
	for _, order := range e.ledger {
		if order.Coin == s.Coin && order.IsActive(models.OrderTypeBuy) {
			e.close(order, models.OrderStatusCancelled, now)
		}
	}

	e.nextID++
	order := &models.Order{
		ID:        e.nextID,
		SignalID:  s.SignalID,
		Signal:    s,
		Coin:      s.Coin,
		Type:      models.OrderTypeBuy,
		Price:     e.rules.BuyPrice(s),
		LifeTime:  now.Add(e.lifetime),
		Leverage:  e.rules.Leverage(s),
		Status:    models.OrderStatusActive,
		CreatedAt: now,
	}
	e.ledger[order.ID] = order

	e.logger.Debug("Создан ордер на покупку",
		zap.Int64("orderId", order.ID),
		zap.String("coin", order.Coin),
		zap.Float64("price", order.Price),
		zap.Float64("leverage", order.Leverage))

	return order.Clone()
}

// transition изменение одного ордера, вычисленное по снимку журнала
type transition struct {
	id       int64
	status   models.OrderStatus
	stopLoss float64
	spawn    *models.Order
}

// OnPrices обрабатывает тик цен тремя проходами в фиксированном порядке:
// исполнение покупок, подтяжка стопов и исполнение продаж, истечение покупок.
// Каждый проход сначала планирует изменения, затем применяет их.
func (e *Engine) OnPrices(prices models.Prices) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.apply(e.planBuyFills(prices, now), now)
	e.apply(e.planSells(prices), now)
	e.apply(e.planExpiry(now), now)
}

func (e *Engine) planBuyFills(prices models.Prices, now time.Time) []transition {
	var plan []transition
	for _, order := range e.ledger.Sorted() {
		if !order.IsActive(models.OrderTypeBuy) || order.Expired(now) {
			continue
		}
		current, ok := prices[order.Coin]
		if !ok || order.Price < current {
			continue
		}
		if order.Signal == nil {
			e.logger.Warn("Ордер на покупку без сигнала, исполнение пропущено", zap.Int64("orderId", order.ID))
			continue
		}

		sell := &models.Order{
			RefOrderID: order.ID,
			SignalID:   order.SignalID,
			Signal:     order.Signal,
			Coin:       order.Coin,
			Type:       models.OrderTypeSell,
			Price:      e.rules.SellPrice(order.Signal),
			StopLoss:   e.rules.StopLoss(order.Signal, order.Price, order.Leverage, 0),
			Leverage:   order.Leverage,
			Status:     models.OrderStatusActive,
			CreatedAt:  now,
		}
		plan = append(plan, transition{id: order.ID, status: models.OrderStatusProcessed, spawn: sell})
	}
	return plan
}

func (e *Engine) planSells(prices models.Prices) []transition {
	var plan []transition
	for _, order := range e.ledger.Sorted() {
		if !order.IsActive(models.OrderTypeSell) {
			continue
		}
		current, ok := prices[order.Coin]
		if !ok {
			continue
		}

		stop := order.StopLoss
		if order.Signal != nil {
			stop = max(e.rules.StopLoss(order.Signal, current, order.Leverage, order.StopLoss), order.StopLoss)
		}

		next := transition{id: order.ID, status: models.OrderStatusActive, stopLoss: stop}
		switch {
		case current >= order.Price:
			next.status = models.OrderStatusProcessed
		case current <= stop:
			next.status = models.OrderStatusStopLess
		case stop == order.StopLoss:
			continue
		}
		plan = append(plan, next)
	}
	return plan
}

func (e *Engine) planExpiry(now time.Time) []transition {
	var plan []transition
	for _, order := range e.ledger.Sorted() {
		if order.IsActive(models.OrderTypeBuy) && order.Expired(now) {
			plan = append(plan, transition{id: order.ID, status: models.OrderStatusTimeout})
		}
	}
	return plan
}

func (e *Engine) apply(plan []transition, now time.Time) {
	for _, t := range plan {
		order, ok := e.ledger[t.id]
		if !ok || order.Status.IsTerminal() {
			continue
		}
		if t.stopLoss > order.StopLoss {
			order.StopLoss = t.stopLoss
		}
		if t.status != models.OrderStatusActive {
			e.close(order, t.status, now)
		}
		if t.spawn != nil {
			e.nextID++
			t.spawn.ID = e.nextID
			e.ledger[t.spawn.ID] = t.spawn
			e.logger.Debug("Создан ордер на продажу",
				zap.Int64("orderId", t.spawn.ID),
				zap.Int64("refOrderId", t.spawn.RefOrderID),
				zap.String("coin", t.spawn.Coin),
				zap.Float64("price", t.spawn.Price),
				zap.Float64("stopLoss", t.spawn.StopLoss))
		}
	}
}

func (e *Engine) close(order *models.Order, status models.OrderStatus, now time.Time) {
	order.Status = status
	order.ClosedAt = now
	metrics.IncTransition(order.Type.String(), status.String())
	e.logger.Debug("Ордер закрыт",
		zap.Int64("orderId", order.ID),
		zap.String("coin", order.Coin),
		zap.String("type", order.Type.String()),
		zap.String("status", status.String()))
}

// Ledger возвращает согласованную копию журнала
func (e *Engine) Ledger() models.Ledger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Clone()
}

// Restore заменяет журнал восстановленным. Нумерация продолжается после максимального id.
func (e *Engine) Restore(ledger models.Ledger) {
	restored := make(models.Ledger, len(ledger))
	for id, order := range ledger {
		if order == nil {
			continue
		}
		c := order.Clone()
		c.ID = id
		restored[id] = c
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger = restored
	e.nextID = max(e.nextID, restored.MaxID())
}

// Balances воспроизводит журнал в балансы по текущим ценам
func (e *Engine) Balances(primaryUSDT, buyAmount float64, prices models.Prices) balance.Result {
	e.mu.RLock()
	orders := e.ledger.Sorted()
	result := balance.Calculate(orders, prices, primaryUSDT, buyAmount)
	e.mu.RUnlock()
	return result
}
