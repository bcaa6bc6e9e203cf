package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fiona-trader/internal/advisor"
	"fiona-trader/internal/broker"
	"fiona-trader/internal/config"
	"fiona-trader/internal/errors"
	"fiona-trader/internal/models"
	"fiona-trader/internal/risk"
	"fiona-trader/internal/store"
)

// MarketContext carries the evaluation-time inputs the risk engine needs
// beyond the broker snapshot. Callers supply them per proposal.
type MarketContext struct {
	DailyPnL       float64
	WeeklyPnL      float64
	TrendDirection models.TradeDirection
	EventRelease   *time.Time

	// Now overrides the evaluation clock when non-zero.
	Now time.Time
}

// ProposeRequest is one setup candidate plus optional precomputed
// evaluations. A nil AdvisorEval runs the configured advisor (or the
// default verdict); a nil RiskResult runs the risk engine against a fresh
// broker snapshot.
type ProposeRequest struct {
	Setup       models.SetupCandidate
	AdvisorEval *advisor.Evaluation
	RiskResult  *risk.Result
	Market      MarketContext
}

// Service owns execution sessions and drives them through their lifecycle.
type Service struct {
	cfg     *config.Config
	brokers *broker.Registry
	risk    *risk.Engine
	shadow  *ShadowTrader
	store   store.TradeStore
	advisor advisor.Advisor
	log     zerolog.Logger

	mu             sync.RWMutex
	sessions       map[string]*Session
	trades         map[string]*models.ExecutedTrade
	sessionByTrade map[string]string
}

// NewService wires the execution service. The store and advisor may be nil.
func NewService(cfg *config.Config, brokers *broker.Registry, riskEngine *risk.Engine, shadow *ShadowTrader, st store.TradeStore, adv advisor.Advisor, log zerolog.Logger) *Service {
	s := &Service{
		cfg:            cfg,
		brokers:        brokers,
		risk:           riskEngine,
		shadow:         shadow,
		store:          st,
		advisor:        adv,
		log:            log.With().Str("component", "execution").Logger(),
		sessions:       make(map[string]*Session),
		trades:         make(map[string]*models.ExecutedTrade),
		sessionByTrade: make(map[string]string),
	}
	if shadow != nil {
		shadow.SetExitHook(s.noteShadowExit)
	}
	return s
}

// Propose builds a session for a setup candidate and advances it through
// advisor and risk evaluation to its resting state: WAITING_FOR_USER,
// SHADOW_ONLY or RISK_REJECTED.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*Session, error) {
	setup := req.Setup
	sess := newSession(setup)

	eval := req.AdvisorEval
	if eval == nil && s.advisor != nil {
		var err error
		eval, err = s.advisor.Evaluate(ctx, setup)
		if err != nil {
			s.log.Warn().Err(err).Str("setup_id", setup.ID).Msg("advisor evaluation failed, using defaults")
			eval = nil
		}
	}
	if eval == nil {
		eval = advisor.DefaultEvaluation(setup)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.AdvisorEvalID = eval.ID
	if err := sess.transitionLocked(StateKIEvaluated); err != nil {
		return nil, err
	}

	sess.Proposed = models.OrderRequest{
		Epic:       setup.Epic,
		Direction:  models.OrderFromDirection(setup.Direction),
		Size:       eval.Size,
		Type:       models.OrderTypeMarket,
		StopLoss:   eval.StopLoss,
		TakeProfit: eval.TakeProfit,
		Currency:   s.cfg.Execution.DefaultCurrency,
	}

	if !s.brokers.HasAny() {
		// Shadow-only mode: no broker means no risk verdict can change
		// the destination, the session is parked for shadow execution.
		sess.forceStateLocked(StateShadowOnly)
		sess.IsShadow = true
		sess.appendCommentLocked("shadow-only mode: no broker configured")
		s.register(sess)
		return sess, nil
	}

	if !eval.Tradeable {
		sess.RiskReason = "advisor: " + eval.Rationale
		if err := sess.transitionLocked(StateRiskRejected); err != nil {
			return nil, err
		}
		s.parkRejectedLocked(sess)
		s.register(sess)
		return sess, nil
	}

	result := req.RiskResult
	if result == nil {
		r, err := s.evaluateRisk(ctx, setup, sess.Proposed, req.Market)
		if err != nil {
			return nil, err
		}
		result = r
	}

	if result.Allowed {
		if err := sess.transitionLocked(StateRiskApproved); err != nil {
			return nil, err
		}
		if result.AdjustedOrder != nil {
			adjusted := *result.AdjustedOrder
			sess.Adjusted = &adjusted
			sess.appendCommentLocked(result.Reason)
		}
		if err := sess.transitionLocked(StateWaitingForUser); err != nil {
			return nil, err
		}
	} else {
		sess.RiskReason = result.Reason
		if err := sess.transitionLocked(StateRiskRejected); err != nil {
			return nil, err
		}
		s.parkRejectedLocked(sess)
	}

	s.register(sess)
	s.log.Info().
		Str("session_id", sess.ID).
		Str("setup_id", setup.ID).
		Str("state", string(sess.State)).
		Str("reason", sess.RiskReason).
		Msg("proposal evaluated")
	return sess, nil
}

// parkRejectedLocked moves a risk-rejected session on to SHADOW_ONLY when
// configuration allows tracking denied setups as shadow trades. Caller
// holds sess.mu.
func (s *Service) parkRejectedLocked(sess *Session) {
	if !s.cfg.Execution.AllowShadowIfRiskDenied {
		return
	}
	if err := sess.transitionLocked(StateShadowOnly); err != nil {
		return
	}
	sess.IsShadow = true
}

func (s *Service) evaluateRisk(ctx context.Context, setup models.SetupCandidate, order models.OrderRequest, market MarketContext) (*risk.Result, error) {
	b, err := s.brokers.ForEpic(setup.Epic)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Execution.BrokerTimeout())
	defer cancel()

	account, err := b.AccountState(cctx)
	if err != nil {
		return nil, fmt.Errorf("fetching account state: %w", err)
	}
	positions, err := b.OpenPositions(cctx)
	if err != nil {
		return nil, fmt.Errorf("fetching open positions: %w", err)
	}

	now := market.Now
	if now.IsZero() {
		now = time.Now()
	}
	result := s.risk.Evaluate(risk.Input{
		Account:        *account,
		Positions:      positions,
		Setup:          setup,
		Order:          order,
		Now:            now,
		EventRelease:   market.EventRelease,
		DailyPnL:       market.DailyPnL,
		WeeklyPnL:      market.WeeklyPnL,
		TrendDirection: market.TrendDirection,
	})
	return &result, nil
}

// ConfirmLive executes an approved proposal: WAITING_FOR_USER →
// USER_ACCEPTED → broker order → LIVE_TRADE_OPEN. A broker error or
// rejection rolls the session back to WAITING_FOR_USER with the reason
// attached to the comment; the user may retry or choose shadow. The
// session lock is held across the whole sequence, so concurrent confirms
// serialize and at most one broker call ever happens.
func (s *Service) ConfirmLive(ctx context.Context, sessionID string) (*models.ExecutedTrade, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.transitionLocked(StateUserAccepted); err != nil {
		return nil, err
	}

	order := sess.effectiveOrderLocked()
	b, err := s.brokers.ForEpic(order.Epic)
	if err != nil {
		sess.forceStateLocked(StateWaitingForUser)
		sess.appendCommentLocked(err.Error())
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Execution.BrokerTimeout())
	defer cancel()

	entryPrice := sess.ReferencePrice
	if quote, qerr := b.SymbolPrice(cctx, order.Epic); qerr == nil {
		if order.Direction == models.OrderBuy {
			entryPrice = quote.Ask
		} else {
			entryPrice = quote.Bid
		}
	}

	result, err := b.PlaceOrder(cctx, order)
	if err != nil {
		sess.forceStateLocked(StateWaitingForUser)
		sess.appendCommentLocked(err.Error())
		s.log.Error().Err(err).Str("session_id", sess.ID).Msg("broker order failed, session rolled back")
		return nil, err
	}
	if !result.Success {
		sess.forceStateLocked(StateWaitingForUser)
		sess.appendCommentLocked("broker rejected: " + result.Reason)
		s.log.Warn().Str("session_id", sess.ID).Str("reason", result.Reason).Msg("broker rejected order, session rolled back")
		return nil, errors.NewBrokerError("REJECTED", result.Reason, nil)
	}

	now := time.Now().UTC()
	trade := &models.ExecutedTrade{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		SetupID:       sess.SetupID,
		AdvisorEvalID: sess.AdvisorEvalID,
		BrokerDealID:  result.DealID,
		BrokerOrderID: result.DealReference,
		Epic:          order.Epic,
		Direction:     models.DirectionFromOrder(order.Direction),
		Size:          order.Size,
		EntryPrice:    entryPrice,
		StopLoss:      order.StopLoss,
		TakeProfit:    order.TakeProfit,
		Status:        models.TradeOpen,
		OpenedAt:      now,
		Currency:      order.Currency,
		Meta:          map[string]string{"session_id": sess.ID},
	}

	if err := sess.transitionLocked(StateLiveTradeOpen); err != nil {
		return nil, err
	}
	sess.TradeID = trade.ID

	s.mu.Lock()
	s.trades[trade.ID] = trade
	s.sessionByTrade[trade.ID] = sess.ID
	s.mu.Unlock()

	s.persistTrade(ctx, trade)
	s.log.Info().
		Str("session_id", sess.ID).
		Str("trade_id", trade.ID).
		Str("deal_id", trade.BrokerDealID).
		Float64("size", trade.Size).
		Float64("entry", trade.EntryPrice).
		Msg("live trade opened")
	return trade, nil
}

// ConfirmShadow hands the effective order to the shadow trader. Allowed
// from WAITING_FOR_USER (user chose shadow over live) and SHADOW_ONLY.
func (s *Service) ConfirmShadow(ctx context.Context, sessionID string) (*models.ShadowTrade, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if s.shadow == nil {
		return nil, fmt.Errorf("shadow trader not configured")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	fromWaiting := sess.State == StateWaitingForUser
	if err := sess.transitionLocked(StateUserShadow); err != nil {
		return nil, err
	}

	order := sess.effectiveOrderLocked()
	entryPrice := sess.ReferencePrice
	if b, berr := s.brokers.ForEpic(order.Epic); berr == nil {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.Execution.BrokerTimeout())
		if quote, qerr := b.SymbolPrice(cctx, order.Epic); qerr == nil {
			entryPrice = quote.Mid()
		}
		cancel()
	}

	skipReason := sess.RiskReason
	if fromWaiting {
		skipReason = "user opted for shadow execution"
	} else if skipReason == "" {
		skipReason = sess.Comment
	}

	trade := s.shadow.Open(ctx, sess.SetupID, sess.AdvisorEvalID, order, entryPrice, skipReason, s.cfg.Execution.DefaultCurrency)

	if err := sess.transitionLocked(StateShadowTradeOpen); err != nil {
		return nil, err
	}
	sess.TradeID = trade.ID
	sess.IsShadow = true

	s.mu.Lock()
	s.sessionByTrade[trade.ID] = sess.ID
	s.mu.Unlock()

	s.log.Info().
		Str("session_id", sess.ID).
		Str("trade_id", trade.ID).
		Str("skip_reason", skipReason).
		Msg("shadow trade opened for session")
	return trade, nil
}

// Reject records the user declining a proposal: USER_REJECTED → DROPPED.
func (s *Service) Reject(sessionID string) error {
	sess, err := s.Session(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.transitionLocked(StateUserRejected); err != nil {
		return err
	}
	if err := sess.transitionLocked(StateDropped); err != nil {
		return err
	}
	s.log.Info().Str("session_id", sess.ID).Msg("proposal rejected by user")
	return nil
}

// Session returns a session by id.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrSessionNotFound, id)
	}
	return sess, nil
}

// Sessions returns all known sessions.
func (s *Service) Sessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// ActiveSessions returns the sessions not yet in a terminal state.
func (s *Service) ActiveSessions() []*Session {
	var out []*Session
	for _, sess := range s.Sessions() {
		if !sess.CurrentState().Terminal() {
			out = append(out, sess)
		}
	}
	return out
}

// OpenTrades returns copies of the open live trades.
func (s *Service) OpenTrades() []models.ExecutedTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ExecutedTrade, 0, len(s.trades))
	for _, t := range s.trades {
		if t.Status == models.TradeOpen {
			out = append(out, *t)
		}
	}
	return out
}

// PollLiveExits checks open live trades against the broker's position list
// and closes those that are gone, inferring the exit reason from the last
// quote relative to the protective levels. Returns the trades closed in
// this cycle.
func (s *Service) PollLiveExits(ctx context.Context) []*models.ExecutedTrade {
	var exited []*models.ExecutedTrade

	for _, snapshot := range s.OpenTrades() {
		b, err := s.brokers.ForEpic(snapshot.Epic)
		if err != nil {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, s.cfg.Execution.BrokerTimeout())
		positions, err := b.OpenPositions(cctx)
		if err != nil {
			cancel()
			s.log.Warn().Err(err).Str("epic", snapshot.Epic).Msg("exit poll: positions fetch failed")
			continue
		}

		if hasDeal(positions, snapshot.BrokerDealID) {
			cancel()
			continue
		}

		exitPrice := snapshot.EntryPrice
		if quote, qerr := b.SymbolPrice(cctx, snapshot.Epic); qerr == nil {
			exitPrice = quote.Mid()
		}
		cancel()

		trade, err := s.closeLiveTrade(ctx, snapshot.ID, exitPrice, inferExitReason(&snapshot, exitPrice))
		if err != nil {
			continue
		}
		exited = append(exited, trade)
	}

	return exited
}

// CloseLive closes a live trade at the broker on operator request.
func (s *Service) CloseLive(ctx context.Context, tradeID string) (*models.ExecutedTrade, error) {
	s.mu.RLock()
	trade, ok := s.trades[tradeID]
	s.mu.RUnlock()
	if !ok || trade.Status != models.TradeOpen {
		return nil, fmt.Errorf("%w: %s", errors.ErrTradeNotFound, tradeID)
	}

	b, err := s.brokers.ForEpic(trade.Epic)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Execution.BrokerTimeout())
	defer cancel()

	result, err := b.ClosePosition(cctx, trade.BrokerDealID)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, errors.NewBrokerError("CLOSE_REJECTED", result.Reason, nil)
	}

	exitPrice := trade.EntryPrice
	if quote, qerr := b.SymbolPrice(cctx, trade.Epic); qerr == nil {
		exitPrice = quote.Mid()
	}
	return s.closeLiveTrade(ctx, tradeID, exitPrice, models.ExitManual)
}

func (s *Service) closeLiveTrade(ctx context.Context, tradeID string, exitPrice float64, reason models.ExitReason) (*models.ExecutedTrade, error) {
	s.mu.Lock()
	trade, ok := s.trades[tradeID]
	if !ok || trade.Status != models.TradeOpen {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errors.ErrTradeNotFound, tradeID)
	}

	now := time.Now().UTC()
	pnl := (exitPrice - trade.EntryPrice) * trade.Size
	if trade.Direction == models.Short {
		pnl = -pnl
	}
	trade.Status = models.TradeClosed
	trade.ClosedAt = &now
	trade.ExitPrice = models.Float(exitPrice)
	trade.ExitReason = reason
	trade.RealizedPnL = models.Float(pnl)
	sessionID := s.sessionByTrade[tradeID]
	s.mu.Unlock()

	s.persistTrade(ctx, trade)
	s.noteSessionExit(sessionID)
	s.log.Info().
		Str("trade_id", trade.ID).
		Str("exit_reason", string(reason)).
		Float64("exit", exitPrice).
		Float64("realized_pnl", pnl).
		Msg("live trade closed")
	return trade, nil
}

func (s *Service) noteShadowExit(trade *models.ShadowTrade) {
	s.mu.RLock()
	sessionID := s.sessionByTrade[trade.ID]
	s.mu.RUnlock()
	s.noteSessionExit(sessionID)
}

func (s *Service) noteSessionExit(sessionID string) {
	if sessionID == "" {
		return
	}
	sess, err := s.Session(sessionID)
	if err != nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.transitionLocked(StateExited); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("could not mark session exited")
	}
}

func (s *Service) persistTrade(ctx context.Context, trade *models.ExecutedTrade) {
	if s.store == nil {
		return
	}
	if err := s.store.StoreTrade(ctx, trade); err != nil {
		s.log.Error().Err(err).Str("trade_id", trade.ID).Msg("failed to persist trade")
	}
}

func (s *Service) register(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

func hasDeal(positions []models.Position, dealID string) bool {
	for _, p := range positions {
		if p.DealID == dealID {
			return true
		}
	}
	return false
}

// inferExitReason guesses why a position left the broker's book: the exit
// price beyond a protective level means that level fired, anything else is
// treated as a manual close.
func inferExitReason(trade *models.ExecutedTrade, exitPrice float64) models.ExitReason {
	long := trade.Direction == models.Long

	if trade.StopLoss != nil {
		if (long && exitPrice <= *trade.StopLoss) || (!long && exitPrice >= *trade.StopLoss) {
			return models.ExitSLHit
		}
	}
	if trade.TakeProfit != nil {
		if (long && exitPrice >= *trade.TakeProfit) || (!long && exitPrice <= *trade.TakeProfit) {
			return models.ExitTPHit
		}
	}
	return models.ExitManual
}
