package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fiona-trader/internal/errors"
	"fiona-trader/internal/models"
)

// PaperBroker implements the Broker interface as an in-memory simulation.
// Orders fill at the current quote, positions and equity are tracked
// locally and no network is ever touched.
type PaperBroker struct {
	mu          sync.RWMutex
	connected   bool
	balance     float64
	realizedPnL float64
	currency    string
	prices      map[string]models.SymbolPrice
	positions   map[string]*models.Position
	dealCounter int
}

// PaperBrokerConfig parameterizes the simulation.
type PaperBrokerConfig struct {
	InitialBalance float64
	Currency       string
}

// NewPaperBroker creates a paper broker with the given starting balance.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	balance := cfg.InitialBalance
	if balance == 0 {
		balance = 10000
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "EUR"
	}
	return &PaperBroker{
		balance:   balance,
		currency:  currency,
		prices:    make(map[string]models.SymbolPrice),
		positions: make(map[string]*models.Position),
	}
}

// SetPrice feeds the simulation a quote for an instrument.
func (p *PaperBroker) SetPrice(epic string, bid, ask float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[epic] = models.SymbolPrice{
		Epic:      epic,
		Bid:       bid,
		Ask:       ask,
		Spread:    ask - bid,
		Timestamp: time.Now().UTC(),
	}
}

// Connect marks the simulation connected.
func (p *PaperBroker) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

// Disconnect marks the simulation disconnected.
func (p *PaperBroker) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// IsConnected reports the simulated connection state.
func (p *PaperBroker) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// AccountState returns the simulated account snapshot.
func (p *PaperBroker) AccountState(ctx context.Context) (*models.AccountState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	unrealized := 0.0
	for _, pos := range p.positions {
		unrealized += p.unrealizedLocked(pos)
	}

	equity := p.balance + unrealized
	return &models.AccountState{
		AccountID:     "PAPER",
		AccountName:   "Paper Account",
		Balance:       p.balance,
		Available:     p.balance,
		Equity:        equity,
		UnrealizedPnL: unrealized,
		RealizedPnL:   p.realizedPnL,
		Currency:      p.currency,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// OpenPositions returns copies of the simulated open positions.
func (p *PaperBroker) OpenPositions(ctx context.Context) ([]models.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		c := *pos
		c.UnrealizedPnL = p.unrealizedLocked(pos)
		out = append(out, c)
	}
	return out, nil
}

// SymbolPrice returns the last fed quote for an instrument.
func (p *PaperBroker) SymbolPrice(ctx context.Context, epic string) (*models.SymbolPrice, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[epic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrSymbolNotFound, epic)
	}
	return &price, nil
}

// PlaceOrder fills the order at the current quote: ask for buys, bid for
// sells. Without a known quote the order is rejected, mirroring a venue
// that refuses orders for unknown instruments.
func (p *PaperBroker) PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[order.Epic]
	if !ok {
		return &models.OrderResult{
			Success:   false,
			Status:    models.OrderStatusRejected,
			Reason:    fmt.Sprintf("no market price for %s", order.Epic),
			Timestamp: time.Now().UTC(),
		}, nil
	}
	if order.Size <= 0 {
		return &models.OrderResult{
			Success:   false,
			Status:    models.OrderStatusRejected,
			Reason:    "order size must be positive",
			Timestamp: time.Now().UTC(),
		}, nil
	}

	fill := price.Ask
	if order.Direction == models.OrderSell {
		fill = price.Bid
	}

	p.dealCounter++
	dealID := fmt.Sprintf("P-%06d", p.dealCounter)

	p.positions[dealID] = &models.Position{
		PositionID: dealID,
		DealID:     dealID,
		Epic:       order.Epic,
		Direction:  order.Direction,
		Size:       order.Size,
		OpenPrice:  fill,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
		Currency:   order.Currency,
		CreatedAt:  time.Now().UTC(),
	}

	return &models.OrderResult{
		Success:       true,
		DealID:        dealID,
		DealReference: dealID,
		Status:        models.OrderStatusOpen,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// ClosePosition closes a simulated position at the current quote and
// realizes its PnL into the balance.
func (p *PaperBroker) ClosePosition(ctx context.Context, positionID string) (*models.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[positionID]
	if !ok {
		return &models.OrderResult{
			Success:   false,
			Status:    models.OrderStatusRejected,
			Reason:    fmt.Sprintf("position not found: %s", positionID),
			Timestamp: time.Now().UTC(),
		}, nil
	}

	pnl := p.unrealizedLocked(pos)
	p.balance += pnl
	p.realizedPnL += pnl
	delete(p.positions, positionID)

	return &models.OrderResult{
		Success:   true,
		DealID:    positionID,
		Status:    models.OrderStatusClosed,
		Timestamp: time.Now().UTC(),
	}, nil
}

// unrealizedLocked computes the mark-to-market PnL of a position against
// the last quote. Caller holds at least a read lock.
func (p *PaperBroker) unrealizedLocked(pos *models.Position) float64 {
	price, ok := p.prices[pos.Epic]
	if !ok {
		return 0
	}
	if pos.Direction == models.OrderBuy {
		return (price.Bid - pos.OpenPrice) * pos.Size
	}
	return (pos.OpenPrice - price.Ask) * pos.Size
}
