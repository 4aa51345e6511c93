package execution

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ErrTransferFailed все попытки перевода на маржинальный счет исчерпаны
var ErrTransferFailed = errors.New("перевод на изолированную маржу не выполнен")

// ErrNoFreeSlot нет пары, которую можно отключить ради новой
var ErrNoFreeSlot = errors.New("нет свободного слота изолированной пары")

// transferToMargin переводит amount котируемой валюты на изолированный счет с повторами.
// После первой неудачи пара включается, если ее еще нет.
func (e *Engine) transferToMargin(ctx context.Context, symbol string, amount float64) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.TransferRetries; attempt++ {
		err := e.exchange.TransferToMargin(ctx, symbol, e.cfg.QuoteAsset, amount)
		if err == nil {
			e.touch(symbol)
			return nil
		}
		lastErr = err
		e.logger.Warn("Ошибка перевода на маржинальный счет",
			zap.String("symbol", symbol),
			zap.Float64("amount", amount),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == 1 {
			if err := e.ensurePair(ctx, symbol); err != nil {
				e.logger.Warn("Не удалось включить изолированную пару", zap.String("symbol", symbol), zap.Error(err))
			}
		}
		if attempt < e.cfg.TransferRetries {
			if err := e.sleep(ctx, e.cfg.TransferBackoff()); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %s после %d попыток: %v", ErrTransferFailed, symbol, e.cfg.TransferRetries, lastErr)
}

// ensurePair включает изолированную пару, освобождая слот при достижении лимита
func (e *Engine) ensurePair(ctx context.Context, symbol string) error {
	pairs, err := e.exchange.IsolatedPairs(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения изолированных пар: %w", err)
	}
	if slices.Contains(pairs, symbol) {
		return nil
	}

	limit, used := e.cfg.MaxIsolatedPairs, len(pairs)
	if enabled, exchangeLimit, err := e.exchange.PairLimit(ctx); err == nil {
		if exchangeLimit > 0 && (limit <= 0 || exchangeLimit < limit) {
			limit = exchangeLimit
		}
		used = max(used, enabled)
	} else {
		e.logger.Debug("Лимит изолированных пар недоступен, используется конфигурация", zap.Error(err))
	}

	if limit > 0 && used >= limit {
		victim, ok := e.leastRecentlyUsed(pairs)
		if !ok {
			return fmt.Errorf("%w для %s", ErrNoFreeSlot, symbol)
		}
		if err := e.exchange.DisablePair(ctx, victim); err != nil {
			return fmt.Errorf("ошибка отключения пары %s: %w", victim, err)
		}
		e.forget(victim)
		e.logger.Info("Освобожден слот изолированной пары",
			zap.String("disabled", victim),
			zap.String("for", symbol))
	}

	if err := e.exchange.EnablePair(ctx, symbol); err != nil {
		return fmt.Errorf("ошибка включения пары %s: %w", symbol, err)
	}
	e.touch(symbol)
	return nil
}

// leastRecentlyUsed выбирает давно не использованную пару без открытых или ожидающих
// продажи позиций и не из списка обязательных
func (e *Engine) leastRecentlyUsed(pairs []string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	busy := make(map[string]bool)
	for _, p := range e.positions {
		if p.IsOpen() || p.SellPending {
			busy[p.Symbol] = true
		}
	}

	candidates := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if busy[pair] || slices.Contains(e.cfg.EssentialPairs, pair) {
			continue
		}
		candidates = append(candidates, pair)
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := e.lastUsed[candidates[i]], e.lastUsed[candidates[j]]
		if a.Equal(b) {
			return candidates[i] < candidates[j]
		}
		return a.Before(b)
	})
	return candidates[0], true
}

func (e *Engine) touch(symbol string) {
	e.mu.Lock()
	e.lastUsed[symbol] = e.now()
	e.mu.Unlock()
}

func (e *Engine) forget(symbol string) {
	e.mu.Lock()
	delete(e.lastUsed, symbol)
	e.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
