// Package advisor provides the AI evaluation layer that screens setup
// candidates before they reach risk evaluation.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"fiona-trader/internal/models"
)

// Evaluation is the advisor's verdict on a setup candidate. Size, stop
// loss and take profit are suggestions the execution service folds into
// the proposed order.
type Evaluation struct {
	ID         string
	SetupID    string
	CreatedAt  time.Time
	Tradeable  bool
	Confidence float64
	Size       float64
	StopLoss   *float64
	TakeProfit *float64
	Rationale  string
}

// Advisor evaluates setup candidates. Implementations may call out to an
// LLM; a nil Advisor in the execution service yields DefaultEvaluation.
type Advisor interface {
	Evaluate(ctx context.Context, setup models.SetupCandidate) (*Evaluation, error)
}

// DefaultEvaluation is the verdict used when no advisor is configured:
// tradeable at size 1.0 with no protective levels attached.
func DefaultEvaluation(setup models.SetupCandidate) *Evaluation {
	return &Evaluation{
		ID:         uuid.NewString(),
		SetupID:    setup.ID,
		CreatedAt:  time.Now().UTC(),
		Tradeable:  true,
		Confidence: 0.5,
		Size:       1.0,
		Rationale:  "no advisor configured",
	}
}

// OpenAIAdvisor implements Advisor using the OpenAI chat API.
type OpenAIAdvisor struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

// NewOpenAIAdvisor creates an LLM-backed advisor.
func NewOpenAIAdvisor(apiKey, model string, log zerolog.Logger) *OpenAIAdvisor {
	return &OpenAIAdvisor{
		client: openai.NewClient(apiKey),
		model:  model,
		log:    log.With().Str("component", "advisor").Logger(),
	}
}

const systemPrompt = `You are a trade setup evaluator for a futures trading desk.
You receive one setup candidate as JSON and must answer with JSON only, no prose:
{"tradeable": bool, "confidence": 0.0-1.0, "size": float, "stop_loss": float or null, "take_profit": float or null, "rationale": "one sentence"}`

type evalPayload struct {
	Tradeable  bool     `json:"tradeable"`
	Confidence float64  `json:"confidence"`
	Size       float64  `json:"size"`
	StopLoss   *float64 `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
	Rationale  string   `json:"rationale"`
}

// Evaluate asks the model for a verdict on the setup.
func (a *OpenAIAdvisor) Evaluate(ctx context.Context, setup models.SetupCandidate) (*Evaluation, error) {
	userPrompt, err := describeSetup(setup)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	var payload evalPayload
	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse advisor response: %w", err)
	}
	if payload.Size <= 0 {
		payload.Size = 1.0
	}

	eval := &Evaluation{
		ID:         uuid.NewString(),
		SetupID:    setup.ID,
		CreatedAt:  time.Now().UTC(),
		Tradeable:  payload.Tradeable,
		Confidence: payload.Confidence,
		Size:       payload.Size,
		StopLoss:   payload.StopLoss,
		TakeProfit: payload.TakeProfit,
		Rationale:  payload.Rationale,
	}

	a.log.Debug().
		Str("setup_id", setup.ID).
		Bool("tradeable", eval.Tradeable).
		Float64("confidence", eval.Confidence).
		Msg("advisor evaluation complete")

	return eval, nil
}

func describeSetup(setup models.SetupCandidate) (string, error) {
	body := map[string]interface{}{
		"epic":            setup.Epic,
		"kind":            setup.Kind,
		"direction":       setup.Direction,
		"reference_price": setup.ReferencePrice,
	}
	if setup.Breakout != nil {
		body["breakout"] = map[string]float64{
			"range_high":    setup.Breakout.RangeHigh,
			"range_low":     setup.Breakout.RangeLow,
			"range_height":  setup.Breakout.RangeHeight,
			"trigger_price": setup.Breakout.TriggerPrice,
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode setup: %w", err)
	}
	return string(encoded), nil
}

// stripCodeFence removes markdown fencing some models wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
