package exchange

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/pkg/models"
)

// DataCollector интерфейс для сборщиков данных
type DataCollector interface {
	Start(ctx context.Context) error
	Stop()
}

// PriceSource источник цен и суточной статистики
type PriceSource interface {
	Prices(ctx context.Context) (models.Prices, error)
	DailyChanges(ctx context.Context) (map[string]float64, error)
}

// MarketStore хранилище рыночных данных
type MarketStore interface {
	Update(prices models.Prices)
	SetDailyChanges(changes map[string]float64)
}

// PricePublisher раздатчик тиков цен
type PricePublisher interface {
	PublishPrices(prices models.Prices)
}

// PriceCollector периодически опрашивает цены и суточные изменения
type PriceCollector struct {
	source        PriceSource
	store         MarketStore
	publisher     PricePublisher
	priceInterval time.Duration
	statsInterval time.Duration
	logger        *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPriceCollector создает сборщик цен
func NewPriceCollector(source PriceSource, store MarketStore, publisher PricePublisher, priceInterval, statsInterval time.Duration, logger *zap.Logger) *PriceCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceCollector{
		source:        source,
		store:         store,
		publisher:     publisher,
		priceInterval: priceInterval,
		statsInterval: statsInterval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start запускает опрос и блокируется до отмены контекста или Stop
func (c *PriceCollector) Start(ctx context.Context) error {
	// Первые данные сразу, чтобы правила и API не ждали интервал
	c.collectStats(ctx)
	c.collectPrices(ctx)

	priceTicker := time.NewTicker(c.priceInterval)
	defer priceTicker.Stop()
	statsTicker := time.NewTicker(c.statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-priceTicker.C:
			c.collectPrices(ctx)
		case <-statsTicker.C:
			c.collectStats(ctx)
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop останавливает сборщик
func (c *PriceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *PriceCollector) collectPrices(ctx context.Context) {
	prices, err := c.source.Prices(ctx)
	if err != nil {
		c.logger.Warn("Ошибка получения цен", zap.Error(err))
		return
	}
	c.store.Update(prices)
	c.publisher.PublishPrices(prices)
}

func (c *PriceCollector) collectStats(ctx context.Context) {
	changes, err := c.source.DailyChanges(ctx)
	if err != nil {
		c.logger.Warn("Ошибка получения суточной статистики", zap.Error(err))
		return
	}
	c.store.SetDailyChanges(changes)
}
