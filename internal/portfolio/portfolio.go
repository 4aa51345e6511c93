// Package portfolio строит декартово произведение правил и раздает события вариантам.
package portfolio

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/internal/balance"
	"github.com/skalibog/sigtrade/internal/config"
	"github.com/skalibog/sigtrade/internal/metrics"
	"github.com/skalibog/sigtrade/internal/rules"
	"github.com/skalibog/sigtrade/internal/variant"
	"github.com/skalibog/sigtrade/pkg/models"
)

// Market рыночные данные для правил и оценки балансов
type Market interface {
	rules.Market
	Prices() models.Prices
}

// Ranked баланс одного варианта
type Ranked struct {
	ID       string         `json:"strategyId"`
	Balances balance.Result `json:"balances"`
}

// Manager владеет всеми вариантами стратегии
type Manager struct {
	variants []*variant.Engine
	byID     map[string]*variant.Engine
	market   Market
	logger   *zap.Logger
}

// Combine возвращает декартово произведение измерений в виде идентификаторов
// "a-b-c". Порядок детерминирован: первое измерение меняется медленнее всех.
func Combine(dims [][]string) []string {
	if len(dims) == 0 {
		return nil
	}
	return combine("", dims)
}

func combine(prefix string, dims [][]string) []string {
	if len(dims) == 0 {
		return []string{prefix}
	}
	var keys []string
	for _, choice := range dims[0] {
		key := choice
		if prefix != "" {
			key = prefix + "-" + choice
		}
		keys = append(keys, combine(key, dims[1:])...)
	}
	return keys
}

// New создает по варианту на каждую комбинацию правил из конфигурации
func New(cfg config.StrategyConfig, market Market, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dims := [][]string{cfg.BuyRules, cfg.SellRules, cfg.StopRules, cfg.LeverageRules}
	for i, dim := range dims {
		normalized := make([]string, 0, len(dim))
		for _, name := range dim {
			normalized = append(normalized, strings.ToLower(strings.TrimSpace(name)))
		}
		dims[i] = normalized
	}

	env := rules.Env{
		Market: market,
		Params: rules.Params{TrailingPercent: cfg.TrailingPercent, EMAPeriod: cfg.EMAPeriod},
	}

	m := &Manager{
		byID:   make(map[string]*variant.Engine),
		market: market,
		logger: logger,
	}
	for _, id := range Combine(dims) {
		set, err := rules.ParseSet(id)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания варианта %s: %w", id, err)
		}
		if _, ok := m.byID[id]; ok {
			continue
		}
		engine := variant.New(id, rules.NewEvaluator(set, env, logger.Named("rules")), variant.Options{
			Lifetime: cfg.BuyOrderLifetime(),
			Logger:   logger.Named("variant"),
		})
		m.variants = append(m.variants, engine)
		m.byID[id] = engine
	}
	if len(m.variants) == 0 {
		return nil, fmt.Errorf("пустой набор правил стратегии")
	}

	logger.Info("Создан портфель вариантов", zap.Int("variants", len(m.variants)))
	return m, nil
}

// OnSignal раздает сигнал всем вариантам параллельно
func (m *Manager) OnSignal(s *models.Signal) {
	start := time.Now()
	created := m.each(func(e *variant.Engine) bool {
		return e.OnSignal(s) != nil
	})
	m.logger.Info("Сигнал обработан вариантами",
		zap.String("signalId", s.SignalID),
		zap.String("coin", s.Coin),
		zap.Int("buyOrders", created),
		zap.Duration("elapsed", time.Since(start)))
}

// OnPrices раздает тик всем вариантам параллельно и ждет завершения,
// поэтому следующий тик не обгонит текущий
func (m *Manager) OnPrices(prices models.Prices) {
	m.each(func(e *variant.Engine) bool {
		e.OnPrices(prices)
		return false
	})
}

func (m *Manager) each(fn func(e *variant.Engine) bool) int {
	var (
		wg    sync.WaitGroup
		mutex sync.Mutex
		count int
	)
	for _, engine := range m.variants {
		wg.Add(1)
		go func(e *variant.Engine) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Паника в варианте", zap.String("variant", e.ID()), zap.Any("panic", r))
				}
			}()
			if fn(e) {
				mutex.Lock()
				count++
				mutex.Unlock()
			}
		}(engine)
	}
	wg.Wait()
	return count
}

// Rank считает балансы всех вариантов и сортирует по убыванию итога
func (m *Manager) Rank(total, buyOnce float64) []Ranked {
	var prices models.Prices
	if m.market != nil {
		prices = m.market.Prices()
	}

	ranked := make([]Ranked, 0, len(m.variants))
	for _, e := range m.variants {
		ranked = append(ranked, Ranked{ID: e.ID(), Balances: e.Balances(total, buyOnce, prices)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Balances.Total > ranked[j].Balances.Total
	})

	if len(ranked) > 0 {
		metrics.SetBestBalance(ranked[0].Balances.Total)
	}
	return ranked
}

// GetData экспортирует журналы всех вариантов по идентификатору
func (m *Manager) GetData() map[string]models.Ledger {
	data := make(map[string]models.Ledger, len(m.variants))
	for _, e := range m.variants {
		data[e.ID()] = e.Ledger()
	}
	return data
}

// SetData восстанавливает журналы. Неизвестные идентификаторы пропускаются,
// варианты без данных начинают с пустого журнала.
func (m *Manager) SetData(data map[string]models.Ledger) {
	restored := 0
	for id, ledger := range data {
		e, ok := m.byID[id]
		if !ok {
			m.logger.Warn("Неизвестный вариант в сохраненных данных", zap.String("variant", id))
			continue
		}
		e.Restore(ledger)
		restored++
	}
	for _, e := range m.variants {
		if _, ok := data[e.ID()]; !ok {
			e.Restore(nil)
		}
	}
	m.logger.Info("Журналы вариантов восстановлены", zap.Int("restored", restored), zap.Int("variants", len(m.variants)))
}

// Variants возвращает идентификаторы вариантов в порядке построения
func (m *Manager) Variants() []string {
	ids := make([]string, 0, len(m.variants))
	for _, e := range m.variants {
		ids = append(ids, e.ID())
	}
	return ids
}

// Orders возвращает копию журнала варианта
func (m *Manager) Orders(id string) (models.Ledger, bool) {
	e, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return e.Ledger(), true
}
