package execution

import (
	"testing"

	"fiona-trader/internal/errors"
	"fiona-trader/internal/models"
)

var allStates = []State{
	StateNewSignal, StateKIEvaluated, StateRiskApproved, StateRiskRejected,
	StateWaitingForUser, StateShadowOnly, StateUserAccepted, StateUserShadow,
	StateUserRejected, StateLiveTradeOpen, StateShadowTradeOpen,
	StateExited, StateDropped,
}

func TestTransitionTable(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateNewSignal, StateKIEvaluated},
		{StateKIEvaluated, StateRiskApproved},
		{StateKIEvaluated, StateRiskRejected},
		{StateRiskApproved, StateWaitingForUser},
		{StateRiskRejected, StateShadowOnly},
		{StateWaitingForUser, StateUserAccepted},
		{StateWaitingForUser, StateUserShadow},
		{StateWaitingForUser, StateUserRejected},
		{StateShadowOnly, StateUserShadow},
		{StateShadowOnly, StateUserRejected},
		{StateUserAccepted, StateLiveTradeOpen},
		{StateUserShadow, StateShadowTradeOpen},
		{StateUserRejected, StateDropped},
		{StateLiveTradeOpen, StateExited},
		{StateShadowTradeOpen, StateExited},
	}

	legalSet := make(map[transitionKey]bool, len(legal))
	for _, tr := range legal {
		legalSet[transitionKey{tr.from, tr.to}] = true
	}

	for _, from := range allStates {
		for _, to := range allStates {
			sess := newSession(models.SetupCandidate{ID: "s"})
			sess.State = from

			sess.mu.Lock()
			err := sess.transitionLocked(to)
			got := sess.State
			sess.mu.Unlock()

			if legalSet[transitionKey{from, to}] {
				if err != nil {
					t.Errorf("%s -> %s: expected legal, got %v", from, to, err)
				}
				if got != to {
					t.Errorf("%s -> %s: state = %s after legal transition", from, to, got)
				}
			} else {
				if err == nil {
					t.Errorf("%s -> %s: expected state-conflict error", from, to)
				}
				if !errors.IsStateConflict(err) {
					t.Errorf("%s -> %s: error type = %T, want StateConflictError", from, to, err)
				}
				if got != from {
					t.Errorf("%s -> %s: illegal transition mutated state to %s", from, to, got)
				}
			}
		}
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	for _, terminal := range []State{StateExited, StateDropped} {
		for _, to := range allStates {
			sess := newSession(models.SetupCandidate{ID: "s"})
			sess.State = terminal

			sess.mu.Lock()
			err := sess.transitionLocked(to)
			sess.mu.Unlock()

			if err == nil {
				t.Errorf("%s -> %s: terminal state must reject all transitions", terminal, to)
			}
		}
	}
}

func TestEffectiveOrderInAllStates(t *testing.T) {
	proposed := models.OrderRequest{Epic: "CL", Direction: models.OrderBuy, Size: 2.0}
	adjusted := proposed.WithSize(1.0)

	for _, state := range allStates {
		sess := newSession(models.SetupCandidate{ID: "s"})
		sess.State = state
		sess.Proposed = proposed

		if got := sess.EffectiveOrder(); got.Size != 2.0 {
			t.Errorf("state %s without adjustment: effective size = %v, want 2.0", state, got.Size)
		}

		sess.Adjusted = &adjusted
		if got := sess.EffectiveOrder(); got.Size != 1.0 {
			t.Errorf("state %s with adjustment: effective size = %v, want 1.0", state, got.Size)
		}
	}
}

func TestSummarySnapshot(t *testing.T) {
	proposed := models.OrderRequest{Epic: "CL", Direction: models.OrderBuy, Size: 2.0}
	adjusted := proposed.WithSize(1.0)

	sess := newSession(models.SetupCandidate{ID: "setup-1"})
	sess.State = StateWaitingForUser
	sess.Proposed = proposed
	sess.Adjusted = &adjusted
	sess.RiskReason = "Position size reduced to fit risk limits"
	sess.TradeID = "trade-1"
	sess.IsShadow = true

	sum := sess.Summary()
	if sum.ID != sess.ID || sum.SetupID != "setup-1" {
		t.Errorf("summary ids = %q/%q", sum.ID, sum.SetupID)
	}
	if sum.State != StateWaitingForUser {
		t.Errorf("summary state = %s", sum.State)
	}
	if sum.Order.Size != 1.0 {
		t.Errorf("summary order size = %v, want the adjusted 1.0", sum.Order.Size)
	}
	if sum.RiskReason != "Position size reduced to fit risk limits" {
		t.Errorf("summary risk reason = %q", sum.RiskReason)
	}
	if sum.TradeID != "trade-1" || !sum.IsShadow {
		t.Errorf("summary trade = %q shadow=%v", sum.TradeID, sum.IsShadow)
	}
}

func TestAppendComment(t *testing.T) {
	sess := newSession(models.SetupCandidate{ID: "s"})
	sess.mu.Lock()
	sess.appendCommentLocked("first")
	sess.appendCommentLocked("")
	sess.appendCommentLocked("second")
	sess.mu.Unlock()

	if sess.Comment != "first; second" {
		t.Errorf("comment = %q", sess.Comment)
	}
}
