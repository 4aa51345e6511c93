package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Terms представляет лестницы целей сигнала
type Terms struct {
	Short []float64 `json:"short"`
	Mid   []float64 `json:"mid"`
	Long  []float64 `json:"long"`
}

// All возвращает все цели подряд: short, mid, long
func (t Terms) All() []float64 {
	targets := make([]float64, 0, len(t.Short)+len(t.Mid)+len(t.Long))
	targets = append(targets, t.Short...)
	targets = append(targets, t.Mid...)
	targets = append(targets, t.Long...)
	return targets
}

// Signal представляет торговый сигнал из канала
type Signal struct {
	SignalID   string             `json:"signalId"`
	Coin       string             `json:"coin"`
	Direction  string             `json:"direction,omitempty"`
	Leverage   []float64          `json:"leverage"`
	Entry      []float64          `json:"entry"`
	OTE        float64            `json:"ote"`
	Terms      Terms              `json:"terms"`
	StopLoss   float64            `json:"stopLoss"`
	CreatedAt  time.Time          `json:"createdAt"`
	DailyStats map[string]float64 `json:"dailyStats,omitempty"`
}

// Ошибки валидации сигнала
var (
	ErrInvalidSignal = errors.New("некорректный сигнал")
)

// Validate проверяет, что сигнал пригоден для обработки ядром
func (s *Signal) Validate() error {
	if s.SignalID == "" {
		return fmt.Errorf("%w: нет signalId", ErrInvalidSignal)
	}
	if s.Coin == "" {
		return fmt.Errorf("%w: нет монеты", ErrInvalidSignal)
	}
	if len(s.Entry) == 0 || len(s.Entry) > 2 {
		return fmt.Errorf("%w: entry должен содержать 1-2 границы, получено %d", ErrInvalidSignal, len(s.Entry))
	}
	if !positive(s.OTE) {
		return fmt.Errorf("%w: ote=%v", ErrInvalidSignal, s.OTE)
	}
	if !positive(s.StopLoss) {
		return fmt.Errorf("%w: stopLoss=%v", ErrInvalidSignal, s.StopLoss)
	}
	if len(s.Terms.Short)+len(s.Terms.Mid) == 0 {
		return fmt.Errorf("%w: нет краткосрочных и среднесрочных целей", ErrInvalidSignal)
	}
	for _, group := range [][]float64{s.Entry, s.Leverage, s.Terms.All()} {
		for _, v := range group {
			if !positive(v) {
				return fmt.Errorf("%w: недопустимое значение %v", ErrInvalidSignal, v)
			}
		}
	}
	return nil
}

// Targets возвращает полную лестницу целей
func (s *Signal) Targets() []float64 {
	return s.Terms.All()
}

// MaxTarget возвращает максимальную цель лестницы
func (s *Signal) MaxTarget() float64 {
	result := 0.0
	for _, t := range s.Targets() {
		result = math.Max(result, t)
	}
	return result
}

// MaxLeverage возвращает максимальное разрешенное плечо (не меньше 1)
func (s *Signal) MaxLeverage() float64 {
	result := 1.0
	for _, l := range s.Leverage {
		result = math.Max(result, l)
	}
	return result
}

// EntryHigh возвращает верхнюю границу входа
func (s *Signal) EntryHigh() float64 {
	result := 0.0
	for _, e := range s.Entry {
		result = math.Max(result, e)
	}
	return result
}

// EntryLow возвращает нижнюю границу входа
func (s *Signal) EntryLow() float64 {
	if len(s.Entry) == 0 {
		return 0
	}
	result := s.Entry[0]
	for _, e := range s.Entry[1:] {
		result = math.Min(result, e)
	}
	return result
}

// EntryAverage возвращает среднее границ входа
func (s *Signal) EntryAverage() float64 {
	if len(s.Entry) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range s.Entry {
		sum += e
	}
	return sum / float64(len(s.Entry))
}

// Prices карта символ -> текущая цена
type Prices map[string]float64

// Clone возвращает копию карты цен
func (p Prices) Clone() Prices {
	result := make(Prices, len(p))
	for k, v := range p {
		result[k] = v
	}
	return result
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
