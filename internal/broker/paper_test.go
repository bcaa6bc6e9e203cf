package broker

import (
	"context"
	"math"
	"testing"

	"fiona-trader/internal/errors"
	"fiona-trader/internal/models"
)

func TestPaperBrokerFillsAtQuote(t *testing.T) {
	p := NewPaperBroker(PaperBrokerConfig{InitialBalance: 10000})
	p.SetPrice("CL", 75.48, 75.52)

	buy, err := p.PlaceOrder(context.Background(), models.OrderRequest{
		Epic: "CL", Direction: models.OrderBuy, Size: 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !buy.Success {
		t.Fatalf("buy rejected: %s", buy.Reason)
	}

	positions, _ := p.OpenPositions(context.Background())
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if positions[0].OpenPrice != 75.52 {
		t.Errorf("buy fill = %v, want ask 75.52", positions[0].OpenPrice)
	}

	sell, err := p.PlaceOrder(context.Background(), models.OrderRequest{
		Epic: "CL", Direction: models.OrderSell, Size: 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	positions, _ = p.OpenPositions(context.Background())
	for _, pos := range positions {
		if pos.DealID == sell.DealID && pos.OpenPrice != 75.48 {
			t.Errorf("sell fill = %v, want bid 75.48", pos.OpenPrice)
		}
	}
}

func TestPaperBrokerRejections(t *testing.T) {
	p := NewPaperBroker(PaperBrokerConfig{})

	result, err := p.PlaceOrder(context.Background(), models.OrderRequest{
		Epic: "UNKNOWN", Direction: models.OrderBuy, Size: 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Success || result.Status != models.OrderStatusRejected {
		t.Error("order for unknown instrument must be rejected")
	}

	p.SetPrice("CL", 75.48, 75.52)
	result, err = p.PlaceOrder(context.Background(), models.OrderRequest{
		Epic: "CL", Direction: models.OrderBuy, Size: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Error("zero-size order must be rejected")
	}
}

func TestPaperBrokerCloseRealizesPnL(t *testing.T) {
	p := NewPaperBroker(PaperBrokerConfig{InitialBalance: 10000})
	p.SetPrice("CL", 75.50, 75.50)

	result, _ := p.PlaceOrder(context.Background(), models.OrderRequest{
		Epic: "CL", Direction: models.OrderBuy, Size: 2.0,
	})

	p.SetPrice("CL", 76.50, 76.50)
	closed, err := p.ClosePosition(context.Background(), result.DealID)
	if err != nil {
		t.Fatal(err)
	}
	if !closed.Success {
		t.Fatalf("close rejected: %s", closed.Reason)
	}

	account, _ := p.AccountState(context.Background())
	if math.Abs(account.Balance-10002.0) > 1e-9 {
		t.Errorf("balance = %v, want 10002.0 after +2.0 realized", account.Balance)
	}
	if math.Abs(account.RealizedPnL-2.0) > 1e-9 {
		t.Errorf("realized pnl = %v, want 2.0", account.RealizedPnL)
	}
	if positions, _ := p.OpenPositions(context.Background()); len(positions) != 0 {
		t.Errorf("positions = %d after close", len(positions))
	}

	again, _ := p.ClosePosition(context.Background(), result.DealID)
	if again.Success {
		t.Error("closing a closed position must be rejected")
	}
}

func TestPaperBrokerEquityMarksToMarket(t *testing.T) {
	p := NewPaperBroker(PaperBrokerConfig{InitialBalance: 10000})
	p.SetPrice("CL", 75.50, 75.50)

	if _, err := p.PlaceOrder(context.Background(), models.OrderRequest{
		Epic: "CL", Direction: models.OrderBuy, Size: 1.0,
	}); err != nil {
		t.Fatal(err)
	}

	p.SetPrice("CL", 75.00, 75.00)
	account, _ := p.AccountState(context.Background())
	if math.Abs(account.UnrealizedPnL+0.5) > 1e-9 {
		t.Errorf("unrealized pnl = %v, want -0.5", account.UnrealizedPnL)
	}
	if math.Abs(account.Equity-9999.5) > 1e-9 {
		t.Errorf("equity = %v, want 9999.5", account.Equity)
	}
}

func TestPaperBrokerUnknownSymbol(t *testing.T) {
	p := NewPaperBroker(PaperBrokerConfig{})
	if _, err := p.SymbolPrice(context.Background(), "CL"); !errors.Is(err, errors.ErrSymbolNotFound) {
		t.Errorf("error = %v, want ErrSymbolNotFound", err)
	}
}

func TestRegistryRouting(t *testing.T) {
	def := NewPaperBroker(PaperBrokerConfig{})
	routed := NewPaperBroker(PaperBrokerConfig{})

	r := NewRegistry()
	if r.HasAny() {
		t.Error("empty registry reports a broker")
	}
	if _, err := r.ForEpic("CL"); !errors.Is(err, errors.ErrNoBrokerForEpic) {
		t.Errorf("error = %v, want ErrNoBrokerForEpic", err)
	}

	r.SetDefault(def)
	r.Register("NIFTY", routed)

	if !r.HasAny() {
		t.Error("registry with default reports no broker")
	}
	if b, _ := r.ForEpic("NIFTY"); b != Broker(routed) {
		t.Error("routed epic resolved to the wrong broker")
	}
	if b, _ := r.ForEpic("CL"); b != Broker(def) {
		t.Error("unrouted epic did not fall back to the default")
	}
	if got := len(r.Brokers()); got != 2 {
		t.Errorf("distinct brokers = %d, want 2", got)
	}
}
