package broker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"fiona-trader/internal/errors"
	"fiona-trader/internal/models"
)

// KiteBroker adapts Zerodha Kite Connect to the Broker capability. Epics
// use the "EXCHANGE:TRADINGSYMBOL" form Kite expects (e.g. "NSE:SBIN").
//
// Kite attaches no server-side SL/TP to regular orders; protective levels
// on an OrderRequest are carried on the engine side and enforced by exit
// polling, as they are for shadow trades.
type KiteBroker struct {
	client    *kiteconnect.Client
	apiKey    string
	apiSecret string

	mu        sync.RWMutex
	connected bool
	// deals placed through this adapter, keyed by order id. ClosePosition
	// builds the opposite order from them (Kite has no close-by-id), and
	// OpenPositions reports positions under these ids so a deal id
	// disappearing from the position list reliably means the position
	// closed.
	deals map[string]models.OrderRequest
}

// KiteBrokerConfig holds Kite Connect credentials. AccessToken comes from
// the daily Kite login flow and is supplied by the operator.
type KiteBrokerConfig struct {
	APIKey      string
	APISecret   string
	AccessToken string
}

// NewKiteBroker creates a Kite venue adapter.
func NewKiteBroker(cfg KiteBrokerConfig) *KiteBroker {
	client := kiteconnect.New(cfg.APIKey)
	if cfg.AccessToken != "" {
		client.SetAccessToken(cfg.AccessToken)
	}
	return &KiteBroker{
		client:    client,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		deals:     make(map[string]models.OrderRequest),
	}
}

// Connect verifies the session by fetching the user profile.
func (k *KiteBroker) Connect(ctx context.Context) error {
	if _, err := k.client.GetUserProfile(); err != nil {
		return errors.NewBrokerError("AUTH", "kite session invalid", err)
	}
	k.mu.Lock()
	k.connected = true
	k.mu.Unlock()
	return nil
}

// Disconnect drops the session flag. Kite tokens expire server-side daily;
// there is nothing to tear down locally.
func (k *KiteBroker) Disconnect() error {
	k.mu.Lock()
	k.connected = false
	k.mu.Unlock()
	return nil
}

// IsConnected reports whether Connect has verified the session.
func (k *KiteBroker) IsConnected() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.connected
}

// AccountState maps the Kite equity-segment margins onto an account
// snapshot. Kite reports no separate margin-available figure beyond the
// available cash, so MarginAvailable stays zero and sizing falls back to
// Available via the documented resolution.
func (k *KiteBroker) AccountState(ctx context.Context) (*models.AccountState, error) {
	margins, err := k.client.GetUserMargins()
	if err != nil {
		return nil, errors.NewBrokerError("ACCOUNT", "failed to fetch margins", err)
	}

	// The margins endpoint reports cash and debits only; unrealized P&L
	// lives on the positions endpoint and is left zero here.
	eq := margins.Equity
	return &models.AccountState{
		AccountID:   k.apiKey,
		AccountName: "Kite",
		Balance:     eq.Available.Cash,
		Available:   eq.Available.Cash,
		Equity:      eq.Net,
		MarginUsed:  eq.Used.Debits,
		Currency:    "INR",
		Timestamp:   time.Now().UTC(),
	}, nil
}

// OpenPositions maps Kite net positions onto broker positions.
func (k *KiteBroker) OpenPositions(ctx context.Context) ([]models.Position, error) {
	positions, err := k.client.GetPositions()
	if err != nil {
		return nil, errors.NewBrokerError("POSITIONS", "failed to fetch positions", err)
	}
	return k.mapNetPositions(positions.Net), nil
}

// mapNetPositions converts Kite's per-symbol net positions. Kite nets
// positions per symbol and keys them by tradingsymbol, not by the order id
// PlaceOrder returned, so a symbol with tracked deals is reported once per
// deal under that deal's id. Exit polling treats a missing deal id as a
// closed position; reporting the symbol key there would close every live
// trade on the first cycle. Positions opened outside this adapter keep the
// "EXCHANGE:SYMBOL" key.
func (k *KiteBroker) mapNetPositions(net []kiteconnect.Position) []models.Position {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]models.Position, 0, len(net))
	for _, p := range net {
		if p.Quantity == 0 {
			continue
		}
		direction := models.OrderBuy
		qty := float64(p.Quantity)
		if qty < 0 {
			direction = models.OrderSell
			qty = -qty
		}
		epic := fmt.Sprintf("%s:%s", p.Exchange, p.Tradingsymbol)
		base := models.Position{
			PositionID:    epic,
			DealID:        epic,
			Epic:          epic,
			MarketName:    p.Tradingsymbol,
			Direction:     direction,
			Size:          qty,
			OpenPrice:     p.AveragePrice,
			CurrentPrice:  p.LastPrice,
			UnrealizedPnL: (p.LastPrice - p.AveragePrice) * float64(p.Quantity) * float64(p.Multiplier),
			Currency:      "INR",
		}

		var ids []string
		for id, deal := range k.deals {
			if deal.Epic == epic {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			out = append(out, base)
			continue
		}
		sort.Strings(ids)
		for _, id := range ids {
			pos := base
			pos.PositionID = id
			pos.DealID = id
			out = append(out, pos)
		}
	}
	return out
}

// SymbolPrice returns the current quote. Kite quotes are last-traded-price
// based; bid and ask both carry the LTP.
func (k *KiteBroker) SymbolPrice(ctx context.Context, epic string) (*models.SymbolPrice, error) {
	quotes, err := k.client.GetQuote(epic)
	if err != nil {
		return nil, errors.NewBrokerError("QUOTE", fmt.Sprintf("failed to fetch quote for %s", epic), err)
	}
	q, ok := quotes[epic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrSymbolNotFound, epic)
	}

	high := q.OHLC.High
	low := q.OHLC.Low
	return &models.SymbolPrice{
		Epic:      epic,
		Bid:       q.LastPrice,
		Ask:       q.LastPrice,
		Spread:    0,
		High:      &high,
		Low:       &low,
		Timestamp: time.Now().UTC(),
	}, nil
}

// PlaceOrder places a regular market order. Kite quantities are whole
// units; fractional sizes are rejected rather than silently rounded.
func (k *KiteBroker) PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderResult, error) {
	exchange, symbol, err := splitEpic(order.Epic)
	if err != nil {
		return nil, err
	}

	qty := int(order.Size)
	if math.Abs(order.Size-float64(qty)) > 1e-9 || qty <= 0 {
		return &models.OrderResult{
			Success:   false,
			Status:    models.OrderStatusRejected,
			Reason:    fmt.Sprintf("kite requires whole-unit quantities, got %v", order.Size),
			Timestamp: time.Now().UTC(),
		}, nil
	}

	params := kiteconnect.OrderParams{
		Exchange:        exchange,
		Tradingsymbol:   symbol,
		TransactionType: string(order.Direction),
		OrderType:       "MARKET",
		Product:         "MIS",
		Quantity:        qty,
		Validity:        "DAY",
	}

	resp, err := k.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return nil, errors.NewBrokerError("ORDER", "kite order placement failed", err)
	}

	k.mu.Lock()
	k.deals[resp.OrderID] = order
	k.mu.Unlock()

	return &models.OrderResult{
		Success:       true,
		DealID:        resp.OrderID,
		DealReference: resp.OrderID,
		Status:        models.OrderStatusOpen,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// ClosePosition unwinds a deal placed through this adapter by placing the
// opposite market order.
func (k *KiteBroker) ClosePosition(ctx context.Context, positionID string) (*models.OrderResult, error) {
	k.mu.RLock()
	opening, ok := k.deals[positionID]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrTradeNotFound, positionID)
	}

	reverse := opening
	if opening.Direction == models.OrderBuy {
		reverse.Direction = models.OrderSell
	} else {
		reverse.Direction = models.OrderBuy
	}

	result, err := k.PlaceOrder(ctx, reverse)
	if err != nil {
		return nil, err
	}
	if result.Success {
		k.mu.Lock()
		delete(k.deals, positionID)
		k.mu.Unlock()
		result.Status = models.OrderStatusClosed
	}
	return result, nil
}

func splitEpic(epic string) (exchange, symbol string, err error) {
	parts := strings.SplitN(epic, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: kite epics use EXCHANGE:SYMBOL, got %q", errors.ErrSymbolNotFound, epic)
	}
	return parts[0], parts[1], nil
}
