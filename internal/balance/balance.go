// Package balance воспроизводит журнал ордеров в балансы монет и USDT.
package balance

import (
	"sort"

	"github.com/skalibog/sigtrade/pkg/models"
)

// Result итог воспроизведения журнала
type Result struct {
	Spot  float64            `json:"spot"`  // свободные USDT
	Loan  float64            `json:"loan"`  // заемные USDT
	Total float64            `json:"total"` // Spot - Loan + стоимость монет
	USDT  map[string]float64 `json:"usdt"`  // стоимость позиции монеты по текущей цене
	Coins map[string]float64 `json:"coins"` // количество монет
}

// Calculate воспроизводит ордера по возрастанию id. Учитываются только
// исполненные (processed) и закрытые по стопу (stopLess) ордера.
// Функция не изменяет входные данные.
func Calculate(orders []*models.Order, prices models.Prices, primaryUSDT, buyAmount float64) Result {
	sorted := make([]*models.Order, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	result := Result{
		Spot:  primaryUSDT,
		USDT:  make(map[string]float64),
		Coins: make(map[string]float64),
	}

	for _, order := range sorted {
		if _, ok := result.Coins[order.Coin]; !ok {
			result.Coins[order.Coin] = 0
		}
		if order.Status != models.OrderStatusProcessed && order.Status != models.OrderStatusStopLess {
			continue
		}

		leverage := max(order.Leverage, 1)
		loan := buyAmount * (leverage - 1)

		switch order.Type {
		case models.OrderTypeBuy:
			if order.Price <= 0 {
				continue
			}
			result.Spot -= buyAmount
			result.Loan += loan
			result.Coins[order.Coin] += buyAmount * leverage / order.Price
		case models.OrderTypeSell:
			price := order.Price
			if order.Status == models.OrderStatusStopLess {
				price = order.StopLoss
			}
			result.Spot += result.Coins[order.Coin] * price
			result.Loan -= loan
			result.Coins[order.Coin] = 0
		}
	}

	result.Total = result.Spot - result.Loan
	for coin, amount := range result.Coins {
		price, ok := prices[coin]
		if !ok {
			continue
		}
		value := amount * price
		result.USDT[coin] = value
		result.Total += value
	}

	return result
}

// FromLedger воспроизводит журнал целиком
func FromLedger(ledger models.Ledger, prices models.Prices, primaryUSDT, buyAmount float64) Result {
	return Calculate(ledger.Sorted(), prices, primaryUSDT, buyAmount)
}
