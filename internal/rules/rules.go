// Package rules содержит правила вариантов стратегии: цена покупки, цена продажи,
// стоп-лосс и плечо. Каждое измерение задано перечислением с явной таблицей функций.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/skalibog/sigtrade/pkg/models"
)

// Market источник рыночных данных для правил
type Market interface {
	Price(coin string) (float64, bool)
	EMA(coin string, period int) (float64, error)
}

// Params числовые параметры правил
type Params struct {
	TrailingPercent float64
	EMAPeriod       int
}

// Env окружение, в котором вычисляются правила
type Env struct {
	Market Market
	Params Params
}

var (
	// ErrUnknownRule неизвестное имя правила в конфигурации
	ErrUnknownRule = errors.New("неизвестное правило")
	// ErrNotApplicable правило не может быть применено к сигналу
	ErrNotApplicable = errors.New("правило неприменимо")
)

// BuyRule правило цены покупки
type BuyRule int

const (
	BuyUrgent BuyRule = iota // по рынку
	BuyOTE                   // optimal trade entry
	BuyMin                   // нижняя граница входа
	BuyEMA                   // min(ote, EMA последних тиков)
)

// SellRule правило цены продажи
type SellRule int

const (
	SellShortest SellRule = iota
	SellShortMax
	SellMidFirst
	SellMidMax
	SellMaxTarget
)

// StopRule правило стоп-лосса
type StopRule int

const (
	StopFixed StopRule = iota
	StopTrailing
	StopLadder
)

// LeverageRule правило плеча
type LeverageRule int

const (
	LeverageHigh LeverageRule = iota
	LeverageNormal
	LeverageNone
)

var (
	buyNames      = []string{"urgent", "ote", "min", "ema"}
	sellNames     = []string{"shortest", "shortmax", "midfirst", "midmax", "maxtarget"}
	stopNames     = []string{"fixed", "trailing", "ladder"}
	leverageNames = []string{"high", "normal", "none"}
)

func (r BuyRule) String() string      { return name(buyNames, int(r)) }
func (r SellRule) String() string     { return name(sellNames, int(r)) }
func (r StopRule) String() string     { return name(stopNames, int(r)) }
func (r LeverageRule) String() string { return name(leverageNames, int(r)) }

// ParseBuyRule разбирает имя правила покупки
func ParseBuyRule(s string) (BuyRule, error) {
	i, err := parse(buyNames, "buy", s)
	return BuyRule(i), err
}

// ParseSellRule разбирает имя правила продажи
func ParseSellRule(s string) (SellRule, error) {
	i, err := parse(sellNames, "sell", s)
	return SellRule(i), err
}

// ParseStopRule разбирает имя правила стоп-лосса
func ParseStopRule(s string) (StopRule, error) {
	i, err := parse(stopNames, "stop", s)
	return StopRule(i), err
}

// ParseLeverageRule разбирает имя правила плеча
func ParseLeverageRule(s string) (LeverageRule, error) {
	i, err := parse(leverageNames, "leverage", s)
	return LeverageRule(i), err
}

// Set одна комбинация правил - вариант стратегии
type Set struct {
	Buy      BuyRule
	Sell     SellRule
	Stop     StopRule
	Leverage LeverageRule
}

// Key возвращает идентификатор варианта
func (s Set) Key() string {
	return strings.Join([]string{s.Buy.String(), s.Sell.String(), s.Stop.String(), s.Leverage.String()}, "-")
}

// ParseSet разбирает идентификатор варианта вида "ote-shortmax-fixed-none"
func ParseSet(key string) (Set, error) {
	parts := strings.Split(key, "-")
	if len(parts) != 4 {
		return Set{}, fmt.Errorf("%w: идентификатор %q", ErrUnknownRule, key)
	}
	var (
		set Set
		err error
	)
	if set.Buy, err = ParseBuyRule(parts[0]); err != nil {
		return Set{}, err
	}
	if set.Sell, err = ParseSellRule(parts[1]); err != nil {
		return Set{}, err
	}
	if set.Stop, err = ParseStopRule(parts[2]); err != nil {
		return Set{}, err
	}
	if set.Leverage, err = ParseLeverageRule(parts[3]); err != nil {
		return Set{}, err
	}
	return set, nil
}

type (
	buyFunc      func(env Env, s *models.Signal) (float64, error)
	sellFunc     func(s *models.Signal) (float64, error)
	stopFunc     func(env Env, s *models.Signal, price float64) (float64, error)
	leverageFunc func(s *models.Signal) (float64, error)
)

var buyTable = map[BuyRule]buyFunc{
	BuyUrgent: func(env Env, s *models.Signal) (float64, error) {
		if env.Market == nil {
			return 0, fmt.Errorf("%w: нет рыночных данных", ErrNotApplicable)
		}
		price, ok := env.Market.Price(s.Coin)
		if !ok {
			return 0, fmt.Errorf("%w: нет цены %s", ErrNotApplicable, s.Coin)
		}
		return price, nil
	},
	BuyOTE: func(_ Env, s *models.Signal) (float64, error) {
		return s.OTE, nil
	},
	BuyMin: func(_ Env, s *models.Signal) (float64, error) {
		return s.EntryLow(), nil
	},
	BuyEMA: func(env Env, s *models.Signal) (float64, error) {
		if env.Market == nil {
			return 0, fmt.Errorf("%w: нет рыночных данных", ErrNotApplicable)
		}
		ema, err := env.Market.EMA(s.Coin, env.Params.EMAPeriod)
		if err != nil {
			return 0, err
		}
		return min(s.OTE, ema), nil
	},
}

var sellTable = map[SellRule]sellFunc{
	SellShortest:  func(s *models.Signal) (float64, error) { return first(s.Terms.Short) },
	SellShortMax:  func(s *models.Signal) (float64, error) { return last(s.Terms.Short) },
	SellMidFirst:  func(s *models.Signal) (float64, error) { return first(s.Terms.Mid) },
	SellMidMax:    func(s *models.Signal) (float64, error) { return last(s.Terms.Mid) },
	SellMaxTarget: func(s *models.Signal) (float64, error) { return s.MaxTarget(), nil },
}

var stopTable = map[StopRule]stopFunc{
	StopFixed: func(Env, *models.Signal, float64) (float64, error) {
		return 0, nil
	},
	StopTrailing: func(env Env, _ *models.Signal, price float64) (float64, error) {
		if env.Params.TrailingPercent <= 0 || env.Params.TrailingPercent >= 100 {
			return 0, fmt.Errorf("%w: trailing=%v%%", ErrNotApplicable, env.Params.TrailingPercent)
		}
		return price * (1 - env.Params.TrailingPercent/100), nil
	},
	StopLadder: func(_ Env, s *models.Signal, price float64) (float64, error) {
		return DynamicStopLoss(s, price), nil
	},
}

var leverageTable = map[LeverageRule]leverageFunc{
	LeverageHigh: func(s *models.Signal) (float64, error) {
		return s.MaxLeverage(), nil
	},
	LeverageNormal: func(s *models.Signal) (float64, error) {
		return first(s.Leverage)
	},
	LeverageNone: func(*models.Signal) (float64, error) {
		return 1, nil
	},
}

func first(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: пустая лестница", ErrNotApplicable)
	}
	return values[0], nil
}

func last(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: пустая лестница", ErrNotApplicable)
	}
	return values[len(values)-1], nil
}

func name(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return "unknown"
	}
	return names[i]
}

func parse(names []string, dimension, s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s=%q", ErrUnknownRule, dimension, s)
}
