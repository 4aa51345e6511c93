package execution

import (
	"time"

	"github.com/skalibog/sigtrade/internal/exchange"
	"github.com/skalibog/sigtrade/pkg/models"
)

// Position живой ордер на бирже и его состояние
type Position struct {
	OrderID       int64                `json:"orderId"`
	ClientOrderID string               `json:"clientOrderId,omitempty"`
	RefOrderID    int64                `json:"refOrderId,omitempty"`
	Symbol        string               `json:"symbol"`
	Side          exchange.OrderSide   `json:"side"`
	Status        exchange.OrderStatus `json:"status"`
	Signal        *models.Signal       `json:"signal"`
	Leverage      float64              `json:"leverage"`
	Amount        float64              `json:"amount"`             // котируемая валюта, потраченная на покупку
	Quantity      float64              `json:"quantity,omitempty"` // базовый актив в OCO
	Price         float64              `json:"price,omitempty"`    // цена исполнения покупки или тейк-профит продажи
	StopLoss      float64              `json:"stopLoss,omitempty"`
	Target        int                  `json:"target"`
	SellPending   bool                 `json:"sellPending,omitempty"` // закрыт, но защитный OCO еще не выставлен
	CreatedAt     time.Time            `json:"createdAt"`
	ClosedAt      time.Time            `json:"closedAt,omitzero"`
}

// IsOpen ордер ожидает исполнения на бирже
func (p *Position) IsOpen() bool {
	return p.Status == exchange.StatusNew
}

// CanAdvance может ли продажа перейти на следующую ступень лестницы при цене price
func (p *Position) CanAdvance(price float64) bool {
	if p.Side != exchange.SideSell || !p.IsOpen() || p.Signal == nil {
		return false
	}
	ladder := p.Signal.Targets()
	return p.Target < len(ladder)-1 && ladder[p.Target] <= price
}

// NextStop стоп-лосс для следующей ступени, не ниже текущего
func (p *Position) NextStop() float64 {
	ladder := p.Signal.Targets()
	stop := (p.Signal.EntryHigh() + ladder[0]) / 2
	if p.Target > 0 {
		stop = ladder[p.Target-1]
	}
	return max(stop, p.StopLoss)
}

func (p *Position) clone() *Position {
	c := *p
	return &c
}
