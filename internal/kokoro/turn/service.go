// Package turn orchestrates one user message end to end: route, ground,
// generate the persona responses, run the bounded debate continuation,
// and hand the message off to background trait analysis.
package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Kokoro/common/trace"
	"github.com/bdobrica/Kokoro/internal/kokoro/affinity"
	"github.com/bdobrica/Kokoro/internal/kokoro/debate"
	"github.com/bdobrica/Kokoro/internal/kokoro/grounding"
	"github.com/bdobrica/Kokoro/internal/kokoro/llm"
	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
	"github.com/bdobrica/Kokoro/internal/kokoro/responder"
	"github.com/bdobrica/Kokoro/internal/kokoro/routing"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
	"github.com/bdobrica/Kokoro/internal/kokoro/traits"
)

// Store is the slice of persistence the turn pipeline needs.
type Store interface {
	Profile(ctx context.Context, userID string) (affinity.Weights, int64, error)
	AppendMessage(ctx context.Context, m *store.Message) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	CountUserTurns(ctx context.Context, conversationID string) (int, error)
	IncrementMessages(ctx context.Context, userID string) (int64, error)
	Facts(ctx context.Context, userID string) ([]store.Fact, error)
	Patterns(ctx context.Context, userID string) ([]store.Pattern, error)
}

// Analyses receives background trait-analysis jobs.
type Analyses interface {
	Enqueue(job traits.Job) bool
}

// Config tunes the turn pipeline.
type Config struct {
	// HistoryLimit is how many recent messages are loaded per turn.
	HistoryLimit int
}

// Defaults returns the production configuration.
func Defaults() Config {
	return Config{HistoryLimit: 20}
}

// TurnRequest is one user message in one conversation.
type TurnRequest struct {
	ConversationID string
	UserID         string
	Message        string
	// EnabledPersonas limits who may speak; empty means all three.
	EnabledPersonas persona.Set
	ChallengeMode   bool
}

// PersonaResponse is one persona's contribution to a turn, in speaking
// order.
type PersonaResponse struct {
	Persona     persona.Persona
	DisplayName string
	Mode        persona.Mode
	Text        string
}

// TurnResult is everything the chat surface needs to deliver a turn.
type TurnResult struct {
	Responses []PersonaResponse
	// ContinuationMode hints at the temperature of the exchange: "" for a
	// plain or additive turn, "mild" when a rebuttal happened, "intense"
	// when a debate did.
	ContinuationMode string
}

// Service runs the turn pipeline. All collaborators are required.
type Service struct {
	store      Store
	sessions   *affinity.SessionStore
	router     *routing.Router
	classifier *grounding.Classifier
	responder  *responder.Responder
	moderator  *debate.Moderator
	analyses   Analyses
	cards      *persona.Cards
	cfg        Config
}

// New wires a Service from its collaborators.
func New(st Store, sessions *affinity.SessionStore, router *routing.Router, classifier *grounding.Classifier, rsp *responder.Responder, moderator *debate.Moderator, analyses Analyses, cards *persona.Cards, cfg Config) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = Defaults().HistoryLimit
	}
	return &Service{
		store:      st,
		sessions:   sessions,
		router:     router,
		classifier: classifier,
		responder:  rsp,
		moderator:  moderator,
		analyses:   analyses,
		cards:      cards,
		cfg:        cfg,
	}
}

// HandleTurn processes one user message and returns the persona responses
// in speaking order. A primary generation failure fails the turn; failures
// past the primary degrade it instead.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("turn: empty message")
	}
	enabled := req.EnabledPersonas
	if enabled.Len() == 0 {
		enabled = persona.FullSet()
	}
	log := trace.Logger(ctx)

	weights, _, err := s.store.Profile(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}

	// History and turn count are captured before the current message is
	// persisted; both describe the conversation the user was replying to.
	prior, err := s.store.RecentMessages(ctx, req.ConversationID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	priorUserTurns, err := s.store.CountUserTurns(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}

	if err := s.store.AppendMessage(ctx, &store.Message{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Speaker:        store.UserSpeaker,
		Content:        req.Message,
		Challenge:      req.ChallengeMode,
	}); err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}

	s.sessions.Decay(req.ConversationID)
	combined := s.sessions.Combined(req.ConversationID, weights)

	decision := s.router.Route(req.Message, combined, enabled, routingHistory(prior), req.ChallengeMode)

	facts, err := s.store.Facts(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	patterns, err := s.store.Patterns(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	ground := s.classifier.Classify(req.Message, priorUserTurns, grounding.Profile{
		FactKeys:     factKeys(facts),
		PatternTypes: patternKinds(patterns),
	})
	groundingContext := formatGroundingContext(ground, facts, patterns)

	log.Info("turn: routed",
		"primary", decision.Primary,
		"secondary", secondaryLabel(decision),
		"fan_out", decision.FanOut,
		"grounding", ground.Level,
		"challenge", req.ChallengeMode)

	history := toLLMMessages(prior)

	// Primary response. Its failure is the turn's failure.
	primaryText, err := s.respondAndRecord(ctx, req, responder.Request{
		Persona:          decision.Primary,
		Mode:             persona.ModePrimary,
		UserMessage:      req.Message,
		History:          history,
		Grounding:        ground,
		GroundingContext: groundingContext,
		Challenge:        req.ChallengeMode,
	}, s.sessions.Config().PrimaryBump)
	if err != nil {
		return nil, fmt.Errorf("turn: primary response: %w", err)
	}
	responses := []PersonaResponse{{
		Persona:     decision.Primary,
		DisplayName: s.cards.DisplayName(decision.Primary, req.ChallengeMode),
		Mode:        persona.ModePrimary,
		Text:        primaryText,
	}}

	// Follow-on responses: a full fan-out or the routed secondary. Their
	// failures degrade the turn rather than fail it; session bumps applied
	// before a failed generation stay.
	if decision.FanOut {
		for _, p := range enabled.Members() {
			if p == decision.Primary {
				continue
			}
			text, err := s.respondAndRecord(ctx, req, responder.Request{
				Persona:           p,
				Mode:              persona.ModeAddition,
				UserMessage:       req.Message,
				History:           history,
				Previous:          responses[len(responses)-1].Text,
				PreviousFrom:      responses[len(responses)-1].Persona,
				Grounding:         ground,
				GroundingContext:  groundingContext,
				Challenge:         req.ChallengeMode,
				PreviousChallenge: req.ChallengeMode,
			}, s.sessions.Config().FollowOnBump)
			if err != nil {
				log.Warn("turn: fan-out response failed, skipping persona", "persona", p, "err", err)
				continue
			}
			responses = append(responses, PersonaResponse{
				Persona:     p,
				DisplayName: s.cards.DisplayName(p, req.ChallengeMode),
				Mode:        persona.ModeAddition,
				Text:        text,
			})
		}
	} else if sec := decision.Secondary; sec != nil {
		text, err := s.respondAndRecord(ctx, req, responder.Request{
			Persona:           sec.Persona,
			Mode:              sec.Mode,
			UserMessage:       req.Message,
			History:           history,
			Previous:          primaryText,
			PreviousFrom:      decision.Primary,
			Grounding:         ground,
			GroundingContext:  groundingContext,
			Challenge:         req.ChallengeMode,
			PreviousChallenge: req.ChallengeMode,
		}, s.sessions.Config().FollowOnBump)
		if err != nil {
			log.Warn("turn: secondary response failed, continuing without it",
				"persona", sec.Persona, "err", err)
		} else {
			responses = append(responses, PersonaResponse{
				Persona:     sec.Persona,
				DisplayName: s.cards.DisplayName(sec.Persona, req.ChallengeMode),
				Mode:        sec.Mode,
				Text:        text,
			})

			if sec.Mode == persona.ModeRebuttal || sec.Mode == persona.ModeDebate {
				responses = s.continueDebate(ctx, req, enabled, ground, groundingContext, history, responses)
			}
		}
	}

	// The background pipeline reads the profile when the job runs; a turn
	// served in between may see the pre-update weights, which is accepted.
	if _, err := s.store.IncrementMessages(ctx, req.UserID); err != nil {
		log.Warn("turn: increment message count", "err", err)
	}
	if !s.analyses.Enqueue(traits.Job{
		TurnID:    trace.FromContext(ctx),
		UserID:    req.UserID,
		Message:   req.Message,
		Prior:     priorResponses(prior),
		Challenge: req.ChallengeMode,
	}) {
		log.Warn("turn: trait analysis not queued")
	}

	return &TurnResult{
		Responses:        responses,
		ContinuationMode: continuationMode(responses),
	}, nil
}

// Finalize ends a conversation: its session boosts are discarded so a
// future conversation in the same room starts neutral.
func (s *Service) Finalize(conversationID string) {
	s.sessions.Clear(conversationID)
}

// respondAndRecord bumps the persona's session weight, generates the
// utterance, and persists it. The bump lands before generation so an
// attempted response still nudges near-term routing.
func (s *Service) respondAndRecord(ctx context.Context, req TurnRequest, rreq responder.Request, bump float64) (string, error) {
	s.sessions.Boost(req.ConversationID, rreq.Persona, bump)

	text, err := s.responder.Respond(ctx, rreq)
	if err != nil {
		return "", err
	}

	if err := s.store.AppendMessage(ctx, &store.Message{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Speaker:        rreq.Persona.String(),
		Mode:           rreq.Mode.String(),
		Challenge:      req.ChallengeMode,
		Content:        text,
	}); err != nil {
		// The user still gets the response; only the log is short.
		trace.Logger(ctx).Warn("turn: persist response", "persona", rreq.Persona, "err", err)
	}
	return text, nil
}

// continueDebate runs the bounded continuation loop after a rebuttal or
// debate secondary. Any judge or generation failure ends the exchange.
func (s *Service) continueDebate(ctx context.Context, req TurnRequest, enabled persona.Set, ground grounding.Decision, groundingContext string, history []llm.Message, responses []PersonaResponse) []PersonaResponse {
	log := trace.Logger(ctx)

	for len(responses) < debate.MaxResponses {
		transcript := make([]debate.Entry, len(responses))
		for i, r := range responses {
			transcript[i] = debate.Entry{
				Persona:   r.Persona,
				Mode:      r.Mode,
				Text:      r.Text,
				Challenge: req.ChallengeMode,
			}
		}

		next, ok := s.moderator.Next(ctx, req.Message, transcript, enabled, req.ChallengeMode)
		if !ok {
			break
		}

		last := responses[len(responses)-1]
		text, err := s.respondAndRecord(ctx, req, responder.Request{
			Persona:           next.Persona,
			Mode:              next.Mode,
			UserMessage:       req.Message,
			History:           history,
			Previous:          last.Text,
			PreviousFrom:      last.Persona,
			Grounding:         ground,
			GroundingContext:  groundingContext,
			Challenge:         req.ChallengeMode,
			PreviousChallenge: req.ChallengeMode,
		}, s.sessions.Config().FollowOnBump)
		if err != nil {
			log.Warn("turn: debate response failed, ending exchange", "persona", next.Persona, "err", err)
			break
		}
		responses = append(responses, PersonaResponse{
			Persona:     next.Persona,
			DisplayName: s.cards.DisplayName(next.Persona, req.ChallengeMode),
			Mode:        next.Mode,
			Text:        text,
		})
	}
	return responses
}

// --- helpers ---

// routingHistory maps stored messages to the router's view of them.
func routingHistory(msgs []store.Message) []routing.HistoryEntry {
	out := make([]routing.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		if m.Speaker == store.UserSpeaker {
			out = append(out, routing.HistoryEntry{User: true})
			continue
		}
		p, err := persona.Parse(m.Speaker)
		if err != nil {
			continue
		}
		out = append(out, routing.HistoryEntry{Speaker: p})
	}
	return out
}

// toLLMMessages maps stored messages to provider chat roles.
func toLLMMessages(msgs []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := "assistant"
		if m.Speaker == store.UserSpeaker {
			role = "user"
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// priorResponses extracts the persona responses the user is now reacting
// to: the trailing run of persona messages in the history.
func priorResponses(msgs []store.Message) []traits.PriorResponse {
	var tail []traits.PriorResponse
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Speaker == store.UserSpeaker {
			break
		}
		p, err := persona.Parse(msgs[i].Speaker)
		if err != nil {
			continue
		}
		tail = append([]traits.PriorResponse{{
			Persona:   p,
			Text:      msgs[i].Content,
			Challenge: msgs[i].Challenge,
		}}, tail...)
	}
	return tail
}

// formatGroundingContext renders the facts and patterns the classifier
// chose to surface.
func formatGroundingContext(d grounding.Decision, facts []store.Fact, patterns []store.Pattern) string {
	factByKey := make(map[string]store.Fact, len(facts))
	for _, f := range facts {
		factByKey[f.Key] = f
	}
	patternByKind := make(map[string]store.Pattern, len(patterns))
	for _, p := range patterns {
		patternByKind[p.Kind] = p
	}

	var lines []string
	for _, key := range d.RelevantFactKeys {
		if f, ok := factByKey[key]; ok {
			lines = append(lines, fmt.Sprintf("%s: %s", f.Key, f.Value))
		}
	}
	for _, kind := range d.RelevantPatterns {
		if p, ok := patternByKind[kind]; ok {
			lines = append(lines, fmt.Sprintf("%s: %s", p.Kind, p.Description))
		}
	}
	return strings.Join(lines, "\n")
}

// continuationMode reports the strongest follow-on register of the turn.
func continuationMode(responses []PersonaResponse) string {
	mode := ""
	for _, r := range responses {
		switch r.Mode {
		case persona.ModeDebate:
			return "intense"
		case persona.ModeRebuttal:
			mode = "mild"
		}
	}
	return mode
}

func secondaryLabel(d routing.Decision) string {
	if d.Secondary == nil {
		return "none"
	}
	return fmt.Sprintf("%s/%s", d.Secondary.Persona, d.Secondary.Mode)
}

func factKeys(facts []store.Fact) []string {
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = f.Key
	}
	return out
}

func patternKinds(patterns []store.Pattern) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.Kind
	}
	return out
}
