// Package models defines the value objects shared across the trading engine.
package models

import "time"

// OrderDirection represents the direction of an order.
type OrderDirection string

const (
	OrderBuy  OrderDirection = "BUY"
	OrderSell OrderDirection = "SELL"
)

// OrderType represents the type of order to place.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// OrderStatus represents the status of an order or position.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusClosed    OrderStatus = "CLOSED"
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// TradeDirection represents the economic direction of an exposure.
type TradeDirection string

const (
	Long  TradeDirection = "LONG"
	Short TradeDirection = "SHORT"
)

// DirectionFromOrder maps an order direction to a trade direction.
func DirectionFromOrder(d OrderDirection) TradeDirection {
	if d == OrderBuy {
		return Long
	}
	return Short
}

// OrderFromDirection maps a trade direction to an order direction.
func OrderFromDirection(d TradeDirection) OrderDirection {
	if d == Long {
		return OrderBuy
	}
	return OrderSell
}

// AccountState is a broker-reported snapshot of the trading account.
// Snapshots are immutable value objects: the engine never mutates one,
// it only replaces it with the next fetch.
type AccountState struct {
	AccountID       string
	AccountName     string
	Balance         float64
	Available       float64
	Equity          float64
	MarginUsed      float64
	MarginAvailable float64
	UnrealizedPnL   float64
	RealizedPnL     float64
	Currency        string
	Timestamp       time.Time
}

// Position represents an open exposure at a broker.
type Position struct {
	PositionID    string
	DealID        string
	Epic          string
	MarketName    string
	Direction     OrderDirection
	Size          float64
	OpenPrice     float64
	CurrentPrice  float64
	UnrealizedPnL float64
	StopLoss      *float64
	TakeProfit    *float64
	Currency      string
	CreatedAt     time.Time
}

// OrderRequest is a proposed or risk-adjusted order.
type OrderRequest struct {
	Epic                 string
	Direction            OrderDirection
	Size                 float64
	Type                 OrderType
	LimitPrice           *float64
	StopPrice            *float64
	StopLoss             *float64
	TakeProfit           *float64
	GuaranteedStop       bool
	TrailingStop         bool
	TrailingStopDistance *float64
	Currency             string
}

// WithSize returns a copy of the order carrying a new size. Every other
// field is preserved so a risk-mandated reduction never loses SL/TP levels.
func (o OrderRequest) WithSize(size float64) OrderRequest {
	o.Size = size
	return o
}

// OrderResult is the broker's answer to a place-order or close-position call.
type OrderResult struct {
	Success       bool
	DealID        string
	DealReference string
	Status        OrderStatus
	Reason        string
	Timestamp     time.Time
}

// SymbolPrice is the current quote for an instrument.
type SymbolPrice struct {
	Epic       string
	MarketName string
	Bid        float64
	Ask        float64
	Spread     float64
	High       *float64
	Low        *float64
	Timestamp  time.Time
}

// Mid returns the mid price between bid and ask.
func (p SymbolPrice) Mid() float64 {
	return (p.Bid + p.Ask) / 2
}

// Float returns a pointer to v. Optional price levels are pointers so an
// unset stop loss is distinguishable from a level of zero.
func Float(v float64) *float64 {
	return &v
}
