package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fiona-trader/internal/broker"
	"fiona-trader/internal/config"
	"fiona-trader/internal/models"
	"fiona-trader/internal/store"
)

// trackedExit marks a trade whose market context is still being captured.
type trackedExit struct {
	tradeID  string
	epic     string
	isShadow bool
	shadow   *models.ShadowTrade
	until    time.Time
}

// Poller drives the two background activities: exit-condition polling over
// open live and shadow trades, and market-snapshot capture for a bounded
// window after each exit. Both run on independent tickers and tolerate
// arbitrary broker latency; errors are logged and the loop continues.
type Poller struct {
	cfg     config.ExecutionConfig
	svc     *Service
	shadow  *ShadowTrader
	brokers *broker.Registry
	store   store.TradeStore
	log     zerolog.Logger

	mu    sync.Mutex
	exits []trackedExit
}

// NewPoller creates a poller over the given services.
func NewPoller(cfg config.ExecutionConfig, svc *Service, shadow *ShadowTrader, brokers *broker.Registry, st store.TradeStore, log zerolog.Logger) *Poller {
	return &Poller{
		cfg:     cfg,
		svc:     svc,
		shadow:  shadow,
		brokers: brokers,
		store:   st,
		log:     log.With().Str("component", "poller").Logger(),
	}
}

// Run blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	if !p.cfg.EnableExitPolling {
		p.log.Info().Msg("exit polling disabled")
		<-ctx.Done()
		return
	}

	exitTicker := time.NewTicker(p.cfg.ExitPollingInterval())
	defer exitTicker.Stop()
	snapshotTicker := time.NewTicker(p.cfg.SnapshotInterval())
	defer snapshotTicker.Stop()

	p.log.Info().
		Dur("exit_interval", p.cfg.ExitPollingInterval()).
		Dur("snapshot_interval", p.cfg.SnapshotInterval()).
		Msg("poller started")

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller stopped")
			return
		case <-exitTicker.C:
			p.pollExits(ctx)
		case <-snapshotTicker.C:
			p.captureSnapshots(ctx)
		}
	}
}

// pollExits runs one exit-detection cycle and registers newly exited
// trades for snapshot capture.
func (p *Poller) pollExits(ctx context.Context) {
	window := p.cfg.SnapshotWindow()
	until := time.Now().Add(window)

	if p.svc != nil {
		for _, trade := range p.svc.PollLiveExits(ctx) {
			p.track(trackedExit{tradeID: trade.ID, epic: trade.Epic, until: until})
		}
	}
	if p.shadow != nil {
		for _, trade := range p.shadow.PollExits(ctx) {
			p.track(trackedExit{tradeID: trade.ID, epic: trade.Epic, isShadow: true, shadow: trade, until: until})
		}
	}
}

func (p *Poller) track(e trackedExit) {
	if e.until.Before(time.Now()) {
		return
	}
	p.mu.Lock()
	p.exits = append(p.exits, e)
	p.mu.Unlock()
}

// captureSnapshots stores one market snapshot per tracked exit and drops
// entries whose window has elapsed.
func (p *Poller) captureSnapshots(ctx context.Context) {
	p.mu.Lock()
	now := time.Now()
	live := p.exits[:0]
	for _, e := range p.exits {
		if now.Before(e.until) {
			live = append(live, e)
		}
	}
	p.exits = live
	tracked := make([]trackedExit, len(p.exits))
	copy(tracked, p.exits)
	p.mu.Unlock()

	for _, e := range tracked {
		b, err := p.brokers.ForEpic(e.epic)
		if err != nil {
			continue
		}
		quote, err := b.SymbolPrice(ctx, e.epic)
		if err != nil {
			p.log.Warn().Err(err).Str("epic", e.epic).Msg("snapshot capture: quote failed")
			continue
		}

		snapshot := &models.MarketSnapshot{
			ID:        uuid.NewString(),
			TradeID:   e.tradeID,
			IsShadow:  e.isShadow,
			CreatedAt: time.Now().UTC(),
			Epic:      e.epic,
			Bid:       quote.Bid,
			Ask:       quote.Ask,
			Spread:    quote.Spread,
			High:      quote.High,
			Low:       quote.Low,
		}

		if p.store != nil {
			if err := p.store.StoreMarketSnapshot(ctx, snapshot); err != nil {
				p.log.Error().Err(err).Str("trade_id", e.tradeID).Msg("failed to persist snapshot")
				continue
			}
		}
		if e.isShadow && e.shadow != nil && p.shadow != nil {
			p.shadow.AttachSnapshot(ctx, e.shadow, snapshot.ID)
		}
	}
}
