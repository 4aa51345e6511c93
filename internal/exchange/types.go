package exchange

import (
	"math"

	"github.com/shopspring/decimal"
)

// OrderSide сторона ордера
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus статус ордера на бирже
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsOpen ордер еще может быть исполнен
func (s OrderStatus) IsOpen() bool {
	switch s {
	case StatusNew, StatusPartiallyFilled, StatusPendingCancel:
		return true
	}
	return false
}

// Order состояние ордера на бирже
type Order struct {
	Symbol        string      `json:"symbol"`
	OrderID       int64       `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId,omitempty"`
	Side          OrderSide   `json:"side"`
	Status        OrderStatus `json:"status"`
	ExecutedQty   float64     `json:"executedQty"`
	CumQuoteQty   float64     `json:"cummulativeQuoteQty"`
}

// AvgPrice средняя цена исполнения
func (o *Order) AvgPrice() float64 {
	if o.ExecutedQty <= 0 {
		return 0
	}
	return o.CumQuoteQty / o.ExecutedQty
}

// MarketBuyRequest рыночная покупка в изолированной марже на сумму в котируемой валюте
type MarketBuyRequest struct {
	Symbol        string
	QuoteQty      float64
	ClientOrderID string
}

// OCORequest продажа one-cancels-other: лимитный тейк-профит и стоп-лимит
type OCORequest struct {
	Symbol         string
	Quantity       float64
	Price          float64
	StopPrice      float64
	StopLimitPrice float64
	ClientOrderID  string
}

// SymbolFilters шаги цены и количества символа
type SymbolFilters struct {
	Symbol     string  `json:"symbol"`
	BaseAsset  string  `json:"baseAsset"`
	QuoteAsset string  `json:"quoteAsset"`
	StepSize   float64 `json:"stepSize"`
	TickSize   float64 `json:"tickSize"`
}

// Precision число знаков после запятой для шага: 0.001 -> 3
func Precision(increment float64) int32 {
	if increment <= 0 || increment >= 1 {
		return 0
	}
	return int32(math.Round(-math.Log10(increment)))
}

// FloorPrice округляет цену вниз до шага цены
func (f SymbolFilters) FloorPrice(price float64) float64 {
	return floor(price, f.TickSize)
}

// FloorQuantity округляет количество вниз до шага лота
func (f SymbolFilters) FloorQuantity(qty float64) float64 {
	return floor(qty, f.StepSize)
}

func floor(value, increment float64) float64 {
	if value <= 0 {
		return 0
	}
	return decimal.NewFromFloat(value).Truncate(Precision(increment)).InexactFloat64()
}

// MarginAsset актив изолированного маржинального счета
type MarginAsset struct {
	Asset    string  `json:"asset"`
	Free     float64 `json:"free"`
	Locked   float64 `json:"locked"`
	Borrowed float64 `json:"borrowed"`
	Interest float64 `json:"interest"`
	NetAsset float64 `json:"netAsset"`
}

// Debt заем с начисленными процентами
func (a MarginAsset) Debt() float64 {
	return a.Borrowed + a.Interest
}

// Refundable сумма, которую можно вернуть на спот после погашения долга
func (a MarginAsset) Refundable() float64 {
	return max(a.Free-a.Debt(), 0)
}

// IsolatedAccount изолированный маржинальный счет пары
type IsolatedAccount struct {
	Symbol  string      `json:"symbol"`
	Enabled bool        `json:"enabled"`
	Base    MarginAsset `json:"base"`
	Quote   MarginAsset `json:"quote"`
}
