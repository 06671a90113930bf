package debate

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Kokoro/common/trace"
	"github.com/bdobrica/Kokoro/internal/kokoro/llm"
	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
)

// JudgeConfig tunes the continuation judgment call.
type JudgeConfig struct {
	Temperature float64
	MaxTokens   int
}

// DefaultJudgeConfig keeps judgments cheap and deterministic-ish.
func DefaultJudgeConfig() JudgeConfig {
	return JudgeConfig{Temperature: 0.4, MaxTokens: 150}
}

// LLMJudge asks the completion provider whether the exchange should
// continue and decodes its JSON verdict.
type LLMJudge struct {
	provider llm.Provider
	cfg      JudgeConfig
}

// NewLLMJudge returns a Judge backed by the given provider.
func NewLLMJudge(provider llm.Provider, cfg JudgeConfig) *LLMJudge {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultJudgeConfig().MaxTokens
	}
	return &LLMJudge{provider: provider, cfg: cfg}
}

// Judge implements the Judge interface. It is called without retries;
// callers treat any error as "stop".
func (j *LLMJudge) Judge(ctx context.Context, userMessage string, transcript []Entry, enabled persona.Set, challenge bool) (Judgment, error) {
	completion, err := j.provider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: j.prompt(userMessage, transcript, enabled, challenge)},
			{Role: "user", Content: "Evaluate whether to continue the exchange based on the context above."},
		},
		Temperature: j.cfg.Temperature,
		MaxTokens:   j.cfg.MaxTokens,
		JSONOnly:    true,
	})
	if err != nil {
		return Judgment{}, fmt.Errorf("debate: judgment call: %w", err)
	}

	var verdict Judgment
	if err := llm.DecodeJudgment(completion, &verdict); err != nil {
		return Judgment{}, fmt.Errorf("debate: decode verdict: %w", err)
	}

	trace.Logger(ctx).Debug("debate: verdict",
		"continue", verdict.Continue, "next", verdict.Next, "reason", verdict.Reason)
	return verdict, nil
}

func (j *LLMJudge) prompt(userMessage string, transcript []Entry, enabled persona.Set, challenge bool) string {
	var lines []string
	spoken := map[persona.Persona]int{}
	for _, e := range transcript {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(e.Persona.String()), e.Text))
		spoken[e.Persona]++
	}

	var silent, spokeOnce []string
	for _, p := range enabled.Members() {
		switch spoken[p] {
		case 0:
			silent = append(silent, p.String())
		case 1:
			spokeOnce = append(spokeOnce, p.String())
		}
	}

	mood := "Normal conversation"
	if challenge {
		mood = "CHALLENGE CONVERSATION (all voices intense)"
	}

	return fmt.Sprintf(`You are the moderator of an ongoing multi-voice exchange.

CONTEXT:
- User asked: %q
- %d responses have been given (max %d)
- Conversation mode: %s
- Voices who haven't spoken: %s
- Voices who could respond again: %s

RESPONSES SO FAR:
%s

DECISION: Should another voice jump in?

Consider:
1. Is there genuine disagreement worth expressing?
2. Would another voice strongly disagree with what was just said?
3. A voice CAN respond a second time if they have something meaningful to add to new points.
4. In challenge conversations, voices are MORE likely to interject with strong opinions.
5. Prefer STOPPING if the exchange feels complete or would just belabor the point.

IMPORTANT: You can pick ANY active voice, including one who already spoke once, if they would genuinely have something new to say in response to recent points.

Respond with ONLY valid JSON:
{"continue": true/false, "next_agent": "instinct/logic/psyche or null", "type": "addition/rebuttal/debate or null", "reason": "brief reason"}`,
		userMessage, len(transcript), MaxResponses, mood,
		strings.Join(silent, ", "), strings.Join(spokeOnce, ", "),
		strings.Join(lines, "\n\n"))
}
