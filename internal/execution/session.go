// Package execution drives the lifecycle of trade proposals: session state
// machine, live order placement, shadow simulation and exit polling.
package execution

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"fiona-trader/internal/errors"
	"fiona-trader/internal/models"
)

// State is the lifecycle state of an execution session.
type State string

const (
	StateNewSignal       State = "NEW_SIGNAL"
	StateKIEvaluated     State = "KI_EVALUATED"
	StateRiskApproved    State = "RISK_APPROVED"
	StateRiskRejected    State = "RISK_REJECTED"
	StateWaitingForUser  State = "WAITING_FOR_USER"
	StateShadowOnly      State = "SHADOW_ONLY"
	StateUserAccepted    State = "USER_ACCEPTED"
	StateUserShadow      State = "USER_SHADOW"
	StateUserRejected    State = "USER_REJECTED"
	StateLiveTradeOpen   State = "LIVE_TRADE_OPEN"
	StateShadowTradeOpen State = "SHADOW_TRADE_OPEN"
	StateExited          State = "EXITED"
	StateDropped         State = "DROPPED"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateExited || s == StateDropped
}

type transitionKey struct {
	from, to State
}

// legalTransitions is the complete transition table. Anything absent is
// illegal and fails with a state-conflict error, never silently ignored.
var legalTransitions = map[transitionKey]bool{
	{StateNewSignal, StateKIEvaluated}:       true,
	{StateKIEvaluated, StateRiskApproved}:    true,
	{StateKIEvaluated, StateRiskRejected}:    true,
	{StateRiskApproved, StateWaitingForUser}: true,
	{StateRiskRejected, StateShadowOnly}:     true,

	{StateWaitingForUser, StateUserAccepted}: true,
	{StateWaitingForUser, StateUserShadow}:   true,
	{StateWaitingForUser, StateUserRejected}: true,
	{StateShadowOnly, StateUserShadow}:       true,
	{StateShadowOnly, StateUserRejected}:     true,

	{StateUserAccepted, StateLiveTradeOpen}:   true,
	{StateUserShadow, StateShadowTradeOpen}:   true,
	{StateUserRejected, StateDropped}:         true,
	{StateLiveTradeOpen, StateExited}:         true,
	{StateShadowTradeOpen, StateExited}:       true,
}

// Session is one proposal's lifecycle instance. It exclusively owns at most
// one trade record (live or shadow) once created; the trade outlives the
// session only as a weak back-reference by id.
//
// Transitions are not inherently thread-safe: all mutation happens under mu,
// held by the owning service across the whole confirm sequence so concurrent
// confirms serialize and the loser observes the advanced state.
type Session struct {
	mu sync.Mutex

	ID             string
	SetupID        string
	AdvisorEvalID  string
	ReferencePrice float64
	CreatedAt      time.Time
	UpdatedAt      time.Time

	State    State
	Proposed models.OrderRequest
	Adjusted *models.OrderRequest

	TradeID    string
	IsShadow   bool
	RiskReason string
	Comment    string
	Meta       map[string]string
}

func newSession(setup models.SetupCandidate) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             uuid.NewString(),
		SetupID:        setup.ID,
		ReferencePrice: setup.ReferencePrice,
		CreatedAt:      now,
		UpdatedAt:      now,
		State:          StateNewSignal,
		Meta:           make(map[string]string),
	}
}

// EffectiveOrder returns the order that must actually reach the broker or
// the shadow simulator: the risk-adjusted order when present, else the
// proposed one. Sending the proposed order unconditionally would bypass a
// risk-mandated size reduction.
func (s *Session) EffectiveOrder() models.OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveOrderLocked()
}

func (s *Session) effectiveOrderLocked() models.OrderRequest {
	if s.Adjusted != nil {
		return *s.Adjusted
	}
	return s.Proposed
}

// CurrentState returns the session state.
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// SessionSummary is a consistent point-in-time view of a session, taken
// under its lock. Readers outside this package use it instead of touching
// Session fields directly.
type SessionSummary struct {
	ID         string
	SetupID    string
	State      State
	Order      models.OrderRequest
	TradeID    string
	IsShadow   bool
	RiskReason string
	Comment    string
	UpdatedAt  time.Time
}

// Summary snapshots the session under its lock, so state, effective order
// and risk reason all come from the same moment.
func (s *Session) Summary() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSummary{
		ID:         s.ID,
		SetupID:    s.SetupID,
		State:      s.State,
		Order:      s.effectiveOrderLocked(),
		TradeID:    s.TradeID,
		IsShadow:   s.IsShadow,
		RiskReason: s.RiskReason,
		Comment:    s.Comment,
		UpdatedAt:  s.UpdatedAt,
	}
}

// transitionLocked is the single chokepoint every state change goes
// through. Caller holds s.mu.
func (s *Session) transitionLocked(to State) error {
	if s.State.Terminal() || !legalTransitions[transitionKey{s.State, to}] {
		return errors.NewStateConflictError(s.ID, string(s.State), string(to))
	}
	s.State = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// forceStateLocked sets the state without consulting the table. Used only
// for the two sanctioned bypasses: rollback to WAITING_FOR_USER after a
// failed broker call, and forcing SHADOW_ONLY at creation when no broker
// is configured. Caller holds s.mu.
func (s *Session) forceStateLocked(to State) {
	s.State = to
	s.UpdatedAt = time.Now().UTC()
}

// appendCommentLocked attaches operator-visible context. Caller holds s.mu.
func (s *Session) appendCommentLocked(comment string) {
	if comment == "" {
		return
	}
	if s.Comment != "" {
		s.Comment += "; "
	}
	s.Comment += comment
}
