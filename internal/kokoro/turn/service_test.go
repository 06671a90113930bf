package turn

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bdobrica/Kokoro/common/retry"
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

// fakeStore is an in-memory turn.Store.
type fakeStore struct {
	weights  affinity.Weights
	total    int64
	msgs     []store.Message
	facts    []store.Fact
	patterns []store.Pattern
}

func newFakeStore() *fakeStore {
	return &fakeStore{weights: affinity.DefaultWeights()}
}

func (f *fakeStore) Profile(context.Context, string) (affinity.Weights, int64, error) {
	return f.weights, f.total, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, m *store.Message) error {
	if m.ID == "" {
		m.ID = fmt.Sprintf("m%d", len(f.msgs))
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	f.msgs = append(f.msgs, *m)
	return nil
}

func (f *fakeStore) RecentMessages(_ context.Context, conversationID string, limit int) ([]store.Message, error) {
	var out []store.Message
	for _, m := range f.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) CountUserTurns(_ context.Context, conversationID string) (int, error) {
	n := 0
	for _, m := range f.msgs {
		if m.ConversationID == conversationID && m.Speaker == store.UserSpeaker {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) IncrementMessages(context.Context, string) (int64, error) {
	f.total++
	return f.total, nil
}

func (f *fakeStore) Facts(context.Context, string) ([]store.Fact, error) {
	return f.facts, nil
}

func (f *fakeStore) Patterns(context.Context, string) ([]store.Pattern, error) {
	return f.patterns, nil
}

// scriptProvider serves utterances and (separately) JSON judgments.
type scriptProvider struct {
	utterances    int
	utteranceErrs map[int]error // 1-based utterance index
	judgments     []string
	judged        int
}

func (p *scriptProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	if req.JSONOnly {
		p.judged++
		if p.judged <= len(p.judgments) {
			return p.judgments[p.judged-1], nil
		}
		return `{"continue": false}`, nil
	}
	p.utterances++
	if err := p.utteranceErrs[p.utterances]; err != nil {
		return "", err
	}
	return fmt.Sprintf("utterance %d", p.utterances), nil
}

// recordedJobs captures enqueued trait-analysis jobs.
type recordedJobs struct {
	jobs []traits.Job
}

func (r *recordedJobs) Enqueue(job traits.Job) bool {
	r.jobs = append(r.jobs, job)
	return true
}

type fixture struct {
	svc      *Service
	store    *fakeStore
	sessions *affinity.SessionStore
	jobs     *recordedJobs
}

func newFixture(t *testing.T, provider llm.Provider) *fixture {
	t.Helper()
	cards, err := persona.LoadDefaultCards()
	if err != nil {
		t.Fatalf("load cards: %v", err)
	}

	rcfg := responder.Defaults()
	rcfg.Retry = retry.Policy{Attempts: 1, BaseDelay: time.Millisecond}

	st := newFakeStore()
	sessions := affinity.NewSessionStore(affinity.SessionDefaults())
	jobs := &recordedJobs{}
	svc := New(
		st,
		sessions,
		routing.New(routing.Defaults(), cards),
		grounding.New(grounding.Defaults()),
		responder.New(provider, cards, rcfg),
		debate.NewModerator(debate.NewLLMJudge(provider, debate.DefaultJudgeConfig())),
		jobs,
		cards,
		Defaults(),
	)
	return &fixture{svc: svc, store: st, sessions: sessions, jobs: jobs}
}

func req(message string, challenge bool) TurnRequest {
	return TurnRequest{
		ConversationID: "room1",
		UserID:         "@ana:example.org",
		Message:        message,
		ChallengeMode:  challenge,
	}
}

func TestHandleTurn_SingleResponse(t *testing.T) {
	fx := newFixture(t, &scriptProvider{})

	res, err := fx.svc.HandleTurn(context.Background(), req("hello there, good morning", false))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if len(res.Responses) != 1 {
		t.Fatalf("got %d responses, want 1: %+v", len(res.Responses), res.Responses)
	}
	r := res.Responses[0]
	// Default weights make logic the heaviest persona by a clear margin.
	if r.Persona != persona.Logic || r.Mode != persona.ModePrimary {
		t.Errorf("primary = %v/%v", r.Persona, r.Mode)
	}
	if r.DisplayName != "Dot" {
		t.Errorf("display name = %q", r.DisplayName)
	}
	if res.ContinuationMode != "" {
		t.Errorf("continuation mode = %q, want empty", res.ContinuationMode)
	}

	// User message and persona response are both in the log.
	if len(fx.store.msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(fx.store.msgs))
	}
	if fx.store.msgs[0].Speaker != store.UserSpeaker {
		t.Errorf("first persisted speaker = %q", fx.store.msgs[0].Speaker)
	}
	if fx.store.msgs[1].Speaker != "logic" || fx.store.msgs[1].Mode != "primary" {
		t.Errorf("second persisted message = %+v", fx.store.msgs[1])
	}

	// The speaker got its session bump.
	if got := fx.sessions.Get("room1").Logic; got != affinity.SessionDefaults().PrimaryBump {
		t.Errorf("logic session boost = %v, want %v", got, affinity.SessionDefaults().PrimaryBump)
	}

	// Trait analysis was queued with no prior responses to react to.
	if len(fx.jobs.jobs) != 1 {
		t.Fatalf("queued %d jobs, want 1", len(fx.jobs.jobs))
	}
	if len(fx.jobs.jobs[0].Prior) != 0 {
		t.Errorf("first turn job has prior responses: %+v", fx.jobs.jobs[0].Prior)
	}
	if fx.store.total != 1 {
		t.Errorf("lifetime message count = %d, want 1", fx.store.total)
	}
}

func TestHandleTurn_EmptyMessageRejected(t *testing.T) {
	fx := newFixture(t, &scriptProvider{})
	if _, err := fx.svc.HandleTurn(context.Background(), req("   ", false)); err == nil {
		t.Fatal("blank message accepted")
	}
}

func TestHandleTurn_ChallengeDebateIsCapped(t *testing.T) {
	provider := &scriptProvider{judgments: []string{
		`{"continue": true, "next_agent": "logic", "type": "debate", "reason": "open point"}`,
		`{"continue": true, "next_agent": "psyche", "type": "debate", "reason": "still open"}`,
		`{"continue": true, "next_agent": "instinct", "type": "debate", "reason": "never satisfied"}`,
	}}
	fx := newFixture(t, provider)

	res, err := fx.svc.HandleTurn(context.Background(), req("hello there, good morning", true))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	// Challenge mode always routes a rebuttal secondary, and the judge
	// wants to continue forever; the cap must hold at four.
	if len(res.Responses) != debate.MaxResponses {
		t.Fatalf("got %d responses, want %d", len(res.Responses), debate.MaxResponses)
	}
	if provider.judged > 2 {
		t.Errorf("judge consulted %d times, want at most 2", provider.judged)
	}
	if res.Responses[1].Mode != persona.ModeRebuttal {
		t.Errorf("secondary mode = %v, want rebuttal", res.Responses[1].Mode)
	}
	if res.ContinuationMode != "intense" {
		t.Errorf("continuation mode = %q, want intense", res.ContinuationMode)
	}
	// Challenge names throughout.
	for _, r := range res.Responses {
		if r.DisplayName == "Snap" || r.DisplayName == "Dot" || r.DisplayName == "Puff" {
			t.Errorf("challenge turn used calm name %q", r.DisplayName)
		}
	}
}

func TestHandleTurn_SecondaryFailureDegrades(t *testing.T) {
	provider := &scriptProvider{utteranceErrs: map[int]error{2: errors.New("provider down")}}
	fx := newFixture(t, provider)

	res, err := fx.svc.HandleTurn(context.Background(), req("hello there, good morning", true))
	if err != nil {
		t.Fatalf("secondary failure must not fail the turn: %v", err)
	}
	if len(res.Responses) != 1 {
		t.Fatalf("got %d responses, want primary only", len(res.Responses))
	}
	// The failed secondary keeps its session bump.
	boosts := fx.sessions.Get("room1")
	if boosts.Sum() != affinity.SessionDefaults().PrimaryBump+affinity.SessionDefaults().FollowOnBump {
		t.Errorf("session boosts = %+v, want primary and follow-on bumps applied", boosts)
	}
	if res.ContinuationMode != "" {
		t.Errorf("continuation mode = %q", res.ContinuationMode)
	}
}

func TestHandleTurn_PrimaryFailureFailsTurn(t *testing.T) {
	provider := &scriptProvider{utteranceErrs: map[int]error{1: errors.New("provider down")}}
	fx := newFixture(t, provider)

	if _, err := fx.svc.HandleTurn(context.Background(), req("hello there, good morning", false)); err == nil {
		t.Fatal("primary failure must fail the turn")
	}
}

func TestHandleTurn_FanOut(t *testing.T) {
	fx := newFixture(t, &scriptProvider{})

	res, err := fx.svc.HandleTurn(context.Background(), req("big decision ahead, I want to hear from all of you", false))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if len(res.Responses) != persona.Count {
		t.Fatalf("got %d responses, want %d", len(res.Responses), persona.Count)
	}
	seen := map[persona.Persona]bool{}
	for _, r := range res.Responses {
		seen[r.Persona] = true
	}
	if len(seen) != persona.Count {
		t.Errorf("personas repeated in fan-out: %+v", res.Responses)
	}
	for _, r := range res.Responses[1:] {
		if r.Mode != persona.ModeAddition {
			t.Errorf("fan-out follow-on mode = %v, want addition", r.Mode)
		}
	}
}

func TestHandleTurn_PriorResponsesForAnalysis(t *testing.T) {
	fx := newFixture(t, &scriptProvider{})
	ctx := context.Background()

	if _, err := fx.svc.HandleTurn(ctx, req("hello there, good morning", false)); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := fx.svc.HandleTurn(ctx, req("good point, tell me more about that", false)); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if len(fx.jobs.jobs) != 2 {
		t.Fatalf("queued %d jobs", len(fx.jobs.jobs))
	}
	prior := fx.jobs.jobs[1].Prior
	if len(prior) != 1 {
		t.Fatalf("second job prior = %+v, want the first turn's response", prior)
	}
	if prior[0].Persona != persona.Logic || prior[0].Text != "utterance 1" {
		t.Errorf("prior response = %+v", prior[0])
	}
}

func TestHandleTurn_RapidFollowUpReadsPreUpdateWeights(t *testing.T) {
	fx := newFixture(t, &scriptProvider{})
	ctx := context.Background()

	if _, err := fx.svc.HandleTurn(ctx, req("hello there, good morning", false)); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if len(fx.jobs.jobs) != 1 {
		t.Fatalf("queued %d jobs after first turn, want 1", len(fx.jobs.jobs))
	}

	// A rapid follow-up lands while the first turn's analysis job is still
	// queued. Routing reads the profile as stored, so the yet-unapplied
	// update cannot influence it: logic stays primary on default weights.
	res, err := fx.svc.HandleTurn(ctx, req("good point, tell me more about that", false))
	if err != nil {
		t.Fatalf("follow-up turn: %v", err)
	}
	if fx.store.weights != affinity.DefaultWeights() {
		t.Fatalf("stored weights changed without the worker running: %+v", fx.store.weights)
	}
	if res.Responses[0].Persona != persona.Logic {
		t.Errorf("follow-up primary = %v, want logic from pre-update weights", res.Responses[0].Persona)
	}

	// Once the analysis catches up and the worker saves a shifted profile,
	// the next turn routes from the updated weights.
	fx.store.weights = affinity.Weights{Instinct: 0.15, Logic: 0.25, Psyche: 0.60}
	res, err = fx.svc.HandleTurn(ctx, req("hello there, good morning", false))
	if err != nil {
		t.Fatalf("post-update turn: %v", err)
	}
	if res.Responses[0].Persona != persona.Psyche {
		t.Errorf("post-update primary = %v, want psyche from updated weights", res.Responses[0].Persona)
	}
}

func TestFinalizeClearsSessionBoosts(t *testing.T) {
	fx := newFixture(t, &scriptProvider{})

	if _, err := fx.svc.HandleTurn(context.Background(), req("hello there, good morning", false)); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if fx.sessions.Len() == 0 {
		t.Fatal("no session entry after a turn")
	}
	fx.svc.Finalize("room1")
	if fx.sessions.Len() != 0 {
		t.Errorf("session entries remain after finalize: %d", fx.sessions.Len())
	}
}
