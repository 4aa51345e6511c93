package rules

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/pkg/models"
)

// Rules вычисляет параметры ордеров варианта. Всегда возвращает пригодное значение.
type Rules interface {
	Leverage(s *models.Signal) float64
	BuyPrice(s *models.Signal) float64
	SellPrice(s *models.Signal) float64
	StopLoss(s *models.Signal, price, leverage, current float64) float64
}

// Evaluator применяет набор правил и подставляет значения по умолчанию при сбое правила
type Evaluator struct {
	set    Set
	env    Env
	logger *zap.Logger
}

// NewEvaluator создает вычислитель правил для варианта
func NewEvaluator(set Set, env Env, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{set: set, env: env, logger: logger}
}

// Set возвращает комбинацию правил
func (e *Evaluator) Set() Set {
	return e.set
}

// Leverage плечо по правилу, по умолчанию 1
func (e *Evaluator) Leverage(s *models.Signal) float64 {
	value, ok := e.eval("leverage", s, func() (float64, error) {
		return leverageTable[e.set.Leverage](s)
	})
	if !ok || value < 1 {
		return DefaultLeverage(s)
	}
	return value
}

// BuyPrice цена покупки по правилу, по умолчанию OTE
func (e *Evaluator) BuyPrice(s *models.Signal) float64 {
	value, ok := e.eval("buyPrice", s, func() (float64, error) {
		return buyTable[e.set.Buy](e.env, s)
	})
	if !ok || value <= 0 {
		return DefaultBuyPrice(s)
	}
	return value
}

// SellPrice цена продажи по правилу, по умолчанию последняя краткосрочная цель
func (e *Evaluator) SellPrice(s *models.Signal) float64 {
	value, ok := e.eval("sellPrice", s, func() (float64, error) {
		return sellTable[e.set.Sell](s)
	})
	if !ok || value <= 0 {
		return DefaultSellPrice(s)
	}
	return value
}

// StopLoss стоп-лосс по правилу, объединенный с ограничениями по умолчанию.
// current == 0 означает первое вычисление для ордера.
func (e *Evaluator) StopLoss(s *models.Signal, price, leverage, current float64) float64 {
	value, ok := e.eval("stopLoss", s, func() (float64, error) {
		return stopTable[e.set.Stop](e.env, s, price)
	})
	if !ok || value < 0 {
		value = 0
	}
	return CombineStopLoss(value, s, price, leverage, current)
}

// eval вызывает правило, перехватывая ошибки и паники
func (e *Evaluator) eval(rule string, s *models.Signal, fn func() (float64, error)) (value float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Паника в правиле, используется значение по умолчанию",
				zap.String("rule", rule),
				zap.String("set", e.set.Key()),
				zap.Any("signal", s),
				zap.Any("panic", r))
			value, ok = 0, false
		}
	}()

	value, err := fn()
	if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
		err = fmt.Errorf("%w: значение %v", ErrNotApplicable, value)
	}
	if err != nil {
		e.logger.Warn("Правило не применено, используется значение по умолчанию",
			zap.String("rule", rule),
			zap.String("set", e.set.Key()),
			zap.String("signalId", s.SignalID),
			zap.Error(err))
		return 0, false
	}
	return value, true
}

// Defaults правила по умолчанию без вариаций
type Defaults struct{}

func (Defaults) Leverage(s *models.Signal) float64  { return DefaultLeverage(s) }
func (Defaults) BuyPrice(s *models.Signal) float64  { return DefaultBuyPrice(s) }
func (Defaults) SellPrice(s *models.Signal) float64 { return DefaultSellPrice(s) }
func (Defaults) StopLoss(s *models.Signal, price, leverage, current float64) float64 {
	return CombineStopLoss(0, s, price, leverage, current)
}

// DefaultLeverage плечо по умолчанию
func DefaultLeverage(*models.Signal) float64 {
	return 1
}

// DefaultBuyPrice цена покупки по умолчанию
func DefaultBuyPrice(s *models.Signal) float64 {
	return s.OTE
}

// DefaultSellPrice последняя краткосрочная цель, иначе первая среднесрочная
func DefaultSellPrice(s *models.Signal) float64 {
	if n := len(s.Terms.Short); n > 0 {
		return s.Terms.Short[n-1]
	}
	if len(s.Terms.Mid) > 0 {
		return s.Terms.Mid[0]
	}
	return s.MaxTarget()
}

// CombineStopLoss объединяет стоп правила с ограничениями сигнала.
// Минимум от плеча применяется только при первом расчете, далее стоп только растет.
func CombineStopLoss(ruleStop float64, s *models.Signal, price, leverage, current float64) float64 {
	stop := math.Max(ruleStop, s.StopLoss)
	if current == 0 {
		if leverage < 1 {
			leverage = 1
		}
		limit := price * (1 - 1/(2*leverage))
		return math.Max(stop, limit)
	}
	return math.Max(stop, current)
}
