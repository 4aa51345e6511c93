// Package newcoin следит за анонсами листингов Binance.
// Пока недавно анонсированная монета еще не торгуется, размер сделок уменьшается.
package newcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/internal/config"
)

var tickerPattern = regexp.MustCompile(`\(([A-Z0-9]{3,10})\)`)

// PriceLookup проверяет, торгуется ли символ
type PriceLookup interface {
	Price(symbol string) (float64, bool)
}

// Listing обнаруженный анонс листинга
type Listing struct {
	Symbol     string    `json:"symbol"`
	Title      string    `json:"title"`
	Exists     bool      `json:"isExist"`
	DetectedAt time.Time `json:"createdAt"`
}

type catalogResponse struct {
	Data struct {
		Articles []struct {
			Title string `json:"title"`
		} `json:"articles"`
	} `json:"data"`
}

// Watcher периодически читает ленту анонсов
type Watcher struct {
	url      string
	interval time.Duration
	window   time.Duration
	client   *http.Client
	prices   PriceLookup
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	listings map[string]*Listing

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewWatcher создает наблюдателя за листингами
func NewWatcher(cfg config.NewCoinConfig, prices PriceLookup, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 30
	}
	return &Watcher{
		url:      cfg.URL,
		interval: time.Duration(cfg.IntervalMinutes) * time.Minute,
		window:   time.Duration(cfg.WindowHours) * time.Hour,
		client:   &http.Client{Timeout: 15 * time.Second},
		prices:   prices,
		logger:   logger,
		now:      time.Now,
		listings: make(map[string]*Listing),
		stopCh:   make(chan struct{}),
	}
}

// Start проверяет ленту сразу и затем с заданным интервалом
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.Check(ctx); err != nil {
		w.logger.Warn("Ошибка проверки анонсов", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Check(ctx); err != nil {
				w.logger.Warn("Ошибка проверки анонсов", zap.Error(err))
			}
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop останавливает наблюдение
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Check читает ленту и запоминает новые тикеры
func (w *Watcher) Check(ctx context.Context) error {
	titles, err := w.fetch(ctx)
	if err != nil {
		return err
	}

	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, title := range titles {
		for _, match := range tickerPattern.FindAllStringSubmatch(title, -1) {
			symbol := match[1] + "USDT"
			if _, seen := w.listings[symbol]; seen {
				continue
			}
			_, exists := w.prices.Price(symbol)
			w.listings[symbol] = &Listing{Symbol: symbol, Title: title, Exists: exists, DetectedAt: now}
			if !exists {
				w.logger.Info("Обнаружен анонс новой монеты", zap.String("symbol", symbol), zap.String("title", title))
			}
		}
	}
	return nil
}

func (w *Watcher) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса анонсов: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса анонсов: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения анонсов: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("лента анонсов вернула %d", resp.StatusCode)
	}

	var catalog catalogResponse
	if err := json.Unmarshal(body, &catalog); err != nil {
		return nil, fmt.Errorf("ошибка разбора анонсов: %w", err)
	}
	titles := make([]string, 0, len(catalog.Data.Articles))
	for _, a := range catalog.Data.Articles {
		titles = append(titles, a.Title)
	}
	return titles, nil
}

// HasNewCoin есть ли неторгуемая монета, обнаруженная в пределах окна
func (w *Watcher) HasNewCoin() bool {
	cutoff := w.now().Add(-w.window)
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, l := range w.listings {
		if !l.Exists && l.DetectedAt.After(cutoff) {
			return true
		}
	}
	return false
}

// Listings возвращает обнаруженные листинги по времени обнаружения
func (w *Watcher) Listings() []Listing {
	w.mu.RLock()
	result := make([]Listing, 0, len(w.listings))
	for _, l := range w.listings {
		result = append(result, *l)
	}
	w.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].DetectedAt.Equal(result[j].DetectedAt) {
			return result[i].DetectedAt.Before(result[j].DetectedAt)
		}
		return result[i].Symbol < result[j].Symbol
	})
	return result
}
