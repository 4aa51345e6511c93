package models

import (
	"fmt"
	"sort"
	"time"
)

// OrderType тип ордера
type OrderType int

const (
	OrderTypeBuy OrderType = iota
	OrderTypeSell
)

func (t OrderType) String() string {
	if t == OrderTypeSell {
		return "sell"
	}
	return "buy"
}

func (t OrderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *OrderType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "buy":
		*t = OrderTypeBuy
	case "sell":
		*t = OrderTypeSell
	default:
		return fmt.Errorf("неизвестный тип ордера %q", text)
	}
	return nil
}

// OrderStatus статус ордера
type OrderStatus int

const (
	OrderStatusActive OrderStatus = iota
	OrderStatusProcessed
	OrderStatusStopLess
	OrderStatusTimeout
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusActive:
		return "active"
	case OrderStatusProcessed:
		return "processed"
	case OrderStatusStopLess:
		return "stopLess"
	case OrderStatusTimeout:
		return "timeout"
	case OrderStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(text []byte) error {
	for candidate := OrderStatusActive; candidate <= OrderStatusCancelled; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("неизвестный статус ордера %q", text)
}

// IsTerminal сообщает, что из этого статуса переходов больше нет
func (s OrderStatus) IsTerminal() bool {
	return s != OrderStatusActive
}

// Order представляет одну ногу сделки
type Order struct {
	ID         int64       `json:"id"`
	RefOrderID int64       `json:"refOrderId,omitempty"`
	SignalID   string      `json:"signalId"`
	Signal     *Signal     `json:"signal,omitempty"`
	Coin       string      `json:"coin"`
	Type       OrderType   `json:"type"`
	Price      float64     `json:"price"`
	StopLoss   float64     `json:"stopLoss,omitempty"`
	LifeTime   time.Time   `json:"lifeTime,omitzero"` // нулевое значение - без срока
	Leverage   float64     `json:"leverage"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	ClosedAt   time.Time   `json:"closedAt,omitzero"`
}

// IsActive активен ли ордер указанного типа
func (o *Order) IsActive(t OrderType) bool {
	return o.Status == OrderStatusActive && o.Type == t
}

// Expired истек ли срок жизни ордера
func (o *Order) Expired(now time.Time) bool {
	return !o.LifeTime.IsZero() && o.LifeTime.Before(now)
}

// Clone возвращает глубокую копию ордера. Сигнал неизменяем и разделяется.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// Ledger журнал ордеров: id -> ордер
type Ledger map[int64]*Order

// Clone возвращает согласованную копию журнала
func (l Ledger) Clone() Ledger {
	result := make(Ledger, len(l))
	for id, order := range l {
		result[id] = order.Clone()
	}
	return result
}

// Sorted возвращает ордера по возрастанию id
func (l Ledger) Sorted() []*Order {
	orders := make([]*Order, 0, len(l))
	for _, order := range l {
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}

// MaxID возвращает максимальный id журнала или 0
func (l Ledger) MaxID() int64 {
	var max int64
	for id := range l {
		if id > max {
			max = id
		}
	}
	return max
}
