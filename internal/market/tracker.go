// Package market хранит последние цены, историю тиков и суточные изменения.
package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/skalibog/sigtrade/pkg/models"
)

// BTCSymbol символ, по которому оценивается состояние рынка
const BTCSymbol = "BTCUSDT"

// ErrNotEnoughHistory недостаточно тиков для индикатора
var ErrNotEnoughHistory = errors.New("недостаточно истории цен")

// Tracker потокобезопасное хранилище рыночных данных
type Tracker struct {
	historySize int

	mu        sync.RWMutex
	prices    models.Prices
	history   map[string][]float64
	changes   map[string]float64
	updatedAt time.Time
}

// NewTracker создает хранилище с ограниченной историей тиков на символ
func NewTracker(historySize int) *Tracker {
	if historySize <= 0 {
		historySize = 200
	}
	return &Tracker{
		historySize: historySize,
		prices:      make(models.Prices),
		history:     make(map[string][]float64),
		changes:     make(map[string]float64),
	}
}

// Update сохраняет новый тик цен и дописывает историю
func (t *Tracker) Update(prices models.Prices) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for symbol, price := range prices {
		if price <= 0 {
			continue
		}
		t.prices[symbol] = price

		h := append(t.history[symbol], price)
		if len(h) > t.historySize {
			h = h[len(h)-t.historySize:]
		}
		t.history[symbol] = h
	}
	t.updatedAt = time.Now()
}

// SetDailyChanges сохраняет изменение цены за 24 часа в процентах
func (t *Tracker) SetDailyChanges(changes map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for symbol, change := range changes {
		t.changes[symbol] = change
	}
}

// Price возвращает последнюю цену символа
func (t *Tracker) Price(coin string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	price, ok := t.prices[coin]
	return price, ok
}

// Prices возвращает копию последних цен
func (t *Tracker) Prices() models.Prices {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prices.Clone()
}

// Symbols возвращает известные символы по алфавиту
func (t *Tracker) Symbols() []string {
	t.mu.RLock()
	symbols := make([]string, 0, len(t.prices))
	for symbol := range t.prices {
		symbols = append(symbols, symbol)
	}
	t.mu.RUnlock()

	sort.Strings(symbols)
	return symbols
}

// History возвращает копию истории тиков символа
func (t *Tracker) History(coin string) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]float64(nil), t.history[coin]...)
}

// EMA экспоненциальная средняя по последним тикам
func (t *Tracker) EMA(coin string, period int) (float64, error) {
	if period < 2 {
		return 0, fmt.Errorf("некорректный период EMA: %d", period)
	}
	closes := t.History(coin)
	if len(closes) < period {
		return 0, fmt.Errorf("%w: %s %d из %d", ErrNotEnoughHistory, coin, len(closes), period)
	}

	ema := talib.Ema(closes, period)
	return ema[len(ema)-1], nil
}

// DailyStats изменения за 24 часа для BTC и монеты сигнала
func (t *Tracker) DailyStats(coin string) map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := make(map[string]float64, 2)
	for _, symbol := range []string{BTCSymbol, coin} {
		if change, ok := t.changes[symbol]; ok {
			stats[symbol] = change
		}
	}
	return stats
}

// UpdatedAt время последнего тика
func (t *Tracker) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updatedAt
}
