// Package responder turns a routing decision into an actual persona
// utterance. It assembles the system prompt from the persona card, the
// role the persona plays in this exchange (opening, adding, pushing back
// or debating), and whatever user context the grounding classifier
// decided to surface, then calls the completion provider.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/Kokoro/common/retry"
	"github.com/bdobrica/Kokoro/internal/kokoro/grounding"
	"github.com/bdobrica/Kokoro/internal/kokoro/llm"
	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
)

// styleRules is appended to every system prompt. Personas never announce
// themselves and keep answers short.
const styleRules = "IMPORTANT: Never prefix your response with your name, labels, or tags. " +
	"Just respond directly. Keep responses SHORT, typically 1-3 sentences, " +
	"occasionally a short paragraph if truly needed. Don't ramble. " +
	"Don't use emojis. Don't be sycophantic. Be genuine."

// Config tunes utterance generation.
type Config struct {
	// MaxTokens caps each persona response.
	MaxTokens int
	// HistoryWindow is how many recent conversation messages are replayed
	// to the provider.
	HistoryWindow int
	// Retry governs transient provider failures. Malformed output is not
	// retried; the same prompt tends to fail the same way.
	Retry retry.Policy
}

// Defaults returns the production configuration.
func Defaults() Config {
	return Config{
		MaxTokens:     300,
		HistoryWindow: 15,
		Retry:         retry.DefaultPolicy,
	}
}

// Request describes one utterance to generate.
type Request struct {
	Persona     persona.Persona
	Mode        persona.Mode
	UserMessage string

	// History holds recent conversation messages, oldest first, already
	// mapped to provider roles. The responder replays at most
	// HistoryWindow of them.
	History []llm.Message

	// Previous is the response being followed up; set for every mode
	// except ModePrimary, together with PreviousFrom.
	Previous     string
	PreviousFrom persona.Persona

	// Grounding carries the classifier's decision; GroundingContext is
	// the formatted user knowledge chosen by that decision, empty when
	// there is nothing to surface.
	Grounding        grounding.Decision
	GroundingContext string

	// Challenge marks this persona as speaking in challenge register.
	// PreviousChallenge marks the response in Previous as having been
	// produced in that register, which asks follow-on personas to steady
	// the conversation.
	Challenge         bool
	PreviousChallenge bool
}

// Responder generates persona utterances.
type Responder struct {
	provider llm.Provider
	cards    *persona.Cards
	cfg      Config
}

// New returns a Responder backed by the given provider and persona cards.
func New(provider llm.Provider, cards *persona.Cards, cfg Config) *Responder {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = Defaults().MaxTokens
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = Defaults().HistoryWindow
	}
	return &Responder{provider: provider, cards: cards, cfg: cfg}
}

// Respond generates one utterance. Transient provider errors are retried
// per the configured policy.
func (r *Responder) Respond(ctx context.Context, req Request) (string, error) {
	if !req.Persona.Valid() {
		return "", fmt.Errorf("responder: invalid persona %d", int(req.Persona))
	}
	card := r.cards.Get(req.Persona)

	messages := make([]llm.Message, 0, r.cfg.HistoryWindow+2)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: r.systemPrompt(card, req),
	})
	history := req.History
	if len(history) > r.cfg.HistoryWindow {
		history = history[len(history)-r.cfg.HistoryWindow:]
	}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: req.UserMessage})

	var out string
	var err error
	policy := r.cfg.Retry
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, llm.ErrMalformedOutput)
	}
	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		completion, err := r.provider.Complete(ctx, llm.Request{
			Messages:    messages,
			Temperature: card.Temperature,
			MaxTokens:   r.cfg.MaxTokens,
		})
		if err != nil {
			return err
		}
		out = strings.TrimSpace(completion)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("responder: generate %s utterance: %w", req.Persona, err)
	}
	return out, nil
}

// systemPrompt assembles the full system prompt for one utterance. The
// challenge prompt replaces the base voice when the register calls for it.
func (r *Responder) systemPrompt(card persona.Card, req Request) string {
	var b strings.Builder

	voice := card.VoicePrompt
	if req.Challenge && card.ChallengePrompt != "" {
		voice = card.ChallengePrompt
	}
	b.WriteString(voice)
	b.WriteString("\n\n")
	b.WriteString(r.roleContext(req))
	b.WriteString("\n\n")
	b.WriteString(styleRules)

	if req.GroundingContext != "" {
		b.WriteString(groundingSection(req.Grounding.Level, req.GroundingContext))
	}

	return b.String()
}

// roleContext describes what this persona is doing in the exchange.
func (r *Responder) roleContext(req Request) string {
	if req.Mode == persona.ModePrimary {
		return "You are responding first to the user. Be genuinely helpful, address what they actually need."
	}

	prevName := "another voice"
	if req.PreviousFrom.Valid() {
		prevName = r.cards.DisplayName(req.PreviousFrom, req.PreviousChallenge)
	}

	var ctx string
	switch req.Mode {
	case persona.ModeAddition:
		ctx = fmt.Sprintf("%s just responded: %q\n\nAdd something useful that %s might have missed. Keep it practical and helpful, don't just add for the sake of adding.",
			prevName, req.Previous, prevName)
	case persona.ModeRebuttal:
		ctx = fmt.Sprintf("%s responded: %q\n\nYou see it differently than %s. Offer your alternative take, but stay helpful. The goal is to give the user a fuller picture, not to argue.",
			prevName, req.Previous, prevName)
	case persona.ModeDebate:
		ctx = fmt.Sprintf("%s responded: %q\n\nYou strongly disagree with %s. Make your case clearly so the user can weigh both perspectives.",
			prevName, req.Previous, prevName)
	default:
		ctx = "You are responding to the user."
	}

	// A calm persona following a challenge-register response is asked to
	// steady the conversation rather than escalate it.
	if req.PreviousChallenge && !req.Challenge {
		ctx += "\n\nNote: The previous response was quite intense. Feel free to gently ground the conversation if needed, without dismissing that perspective."
	}

	return ctx
}

// groundingSection wraps surfaced user knowledge in a framing that matches
// how much weight the persona should give it.
func groundingSection(level grounding.Level, context string) string {
	switch level {
	case grounding.Deep:
		return "\n\n--- User Profile (Use Thoughtfully) ---\n" + context +
			"\n---\nThis is a personal topic. Draw on what you know about this user to provide a grounded, relevant response."
	case grounding.Moderate:
		return "\n\n--- About This User ---\n" + context +
			"\n---\nUse this context naturally if relevant. Don't force it into the conversation."
	default:
		return "\n\n--- Context ---\n" + context + "\n---"
	}
}
