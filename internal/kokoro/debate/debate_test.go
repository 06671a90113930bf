package debate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/Kokoro/internal/kokoro/llm"
	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
)

// stubJudge replays canned verdicts.
type stubJudge struct {
	verdicts []Judgment
	errs     []error
	calls    int
}

func (s *stubJudge) Judge(context.Context, string, []Entry, persona.Set, bool) (Judgment, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var v Judgment
	if i < len(s.verdicts) {
		v = s.verdicts[i]
	}
	return v, err
}

func transcriptOf(n int) []Entry {
	speakers := []persona.Persona{persona.Logic, persona.Psyche, persona.Instinct, persona.Logic}
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{Persona: speakers[i%len(speakers)], Mode: persona.ModeDebate, Text: "point"}
	}
	return out
}

func TestModerator_CapStopsWithoutAskingJudge(t *testing.T) {
	judge := &stubJudge{verdicts: []Judgment{{Continue: true, Next: "instinct", Type: "debate"}}}
	m := NewModerator(judge)

	_, ok := m.Next(context.Background(), "q", transcriptOf(MaxResponses), persona.FullSet(), false)
	if ok {
		t.Fatal("exchange continued past the response cap")
	}
	if judge.calls != 0 {
		t.Errorf("judge consulted %d times at the cap, want 0", judge.calls)
	}
}

func TestModerator_AlwaysContinueJudgeStillCapped(t *testing.T) {
	// A judge that always says continue must still yield exactly
	// MaxResponses responses in total.
	judge := &stubJudge{verdicts: []Judgment{
		{Continue: true, Next: "instinct", Type: "debate"},
		{Continue: true, Next: "logic", Type: "rebuttal"},
		{Continue: true, Next: "psyche", Type: "debate"},
		{Continue: true, Next: "instinct", Type: "debate"},
	}}
	m := NewModerator(judge)

	transcript := transcriptOf(2) // routed primary + secondary
	for {
		next, ok := m.Next(context.Background(), "q", transcript, persona.FullSet(), true)
		if !ok {
			break
		}
		transcript = append(transcript, Entry{Persona: next.Persona, Mode: next.Mode, Text: "more"})
	}
	if len(transcript) != MaxResponses {
		t.Fatalf("exchange ended with %d responses, want exactly %d", len(transcript), MaxResponses)
	}
}

func TestModerator_FailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		verdict Judgment
		err     error
	}{
		{"judge error", Judgment{Continue: true, Next: "logic"}, errors.New("boom")},
		{"judge says stop", Judgment{Continue: false}, nil},
		{"unknown persona", Judgment{Continue: true, Next: "governor"}, nil},
		{"empty persona", Judgment{Continue: true, Next: ""}, nil},
		{"disabled persona", Judgment{Continue: true, Next: "psyche"}, nil},
	}
	enabled := persona.NewSet(persona.Instinct, persona.Logic)
	for _, tt := range tests {
		judge := &stubJudge{verdicts: []Judgment{tt.verdict}, errs: []error{tt.err}}
		m := NewModerator(judge)
		if _, ok := m.Next(context.Background(), "q", transcriptOf(2), enabled, false); ok {
			t.Errorf("%s: exchange continued, want stop", tt.name)
		}
	}
}

func TestModerator_ModeMapping(t *testing.T) {
	tests := []struct {
		typ  string
		want persona.Mode
	}{
		{"addition", persona.ModeAddition},
		{"rebuttal", persona.ModeRebuttal},
		{"debate", persona.ModeDebate},
		{"", persona.ModeDebate},
		{"null", persona.ModeDebate},
		{"primary", persona.ModeDebate},
	}
	for _, tt := range tests {
		judge := &stubJudge{verdicts: []Judgment{{Continue: true, Next: "psyche", Type: tt.typ}}}
		m := NewModerator(judge)
		next, ok := m.Next(context.Background(), "q", transcriptOf(2), persona.FullSet(), false)
		if !ok {
			t.Fatalf("type %q: exchange stopped", tt.typ)
		}
		if next.Persona != persona.Psyche {
			t.Errorf("type %q: persona = %v", tt.typ, next.Persona)
		}
		if next.Mode != tt.want {
			t.Errorf("type %q: mode = %v, want %v", tt.typ, next.Mode, tt.want)
		}
	}
}

// scriptedProvider returns canned completions for the LLM judge.
type scriptedProvider struct {
	completion string
	err        error
	last       llm.Request
}

func (s *scriptedProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	s.last = req
	return s.completion, s.err
}

func TestLLMJudge_DecodesVerdict(t *testing.T) {
	raw, _ := json.Marshal(Judgment{Continue: true, Next: "logic", Type: "rebuttal", Reason: "open point"})
	provider := &scriptedProvider{completion: "```json\n" + string(raw) + "\n```"}
	j := NewLLMJudge(provider, DefaultJudgeConfig())

	verdict, err := j.Judge(context.Background(), "should I quit?", transcriptOf(2), persona.FullSet(), false)
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if !verdict.Continue || verdict.Next != "logic" || verdict.Type != "rebuttal" {
		t.Errorf("verdict = %+v", verdict)
	}
	if !provider.last.JSONOnly {
		t.Error("judgment request not marked JSON-only")
	}
	if provider.last.MaxTokens != 150 {
		t.Errorf("MaxTokens = %d", provider.last.MaxTokens)
	}
}

func TestLLMJudge_PromptNamesSilentAndRepeatEligible(t *testing.T) {
	provider := &scriptedProvider{completion: `{"continue": false}`}
	j := NewLLMJudge(provider, DefaultJudgeConfig())

	transcript := []Entry{
		{Persona: persona.Logic, Mode: persona.ModePrimary, Text: "first"},
		{Persona: persona.Logic, Mode: persona.ModeDebate, Text: "again"},
		{Persona: persona.Psyche, Mode: persona.ModeRebuttal, Text: "counter"},
	}
	if _, err := j.Judge(context.Background(), "q", transcript, persona.FullSet(), true); err != nil {
		t.Fatalf("Judge: %v", err)
	}

	system := provider.last.Messages[0].Content
	if !strings.Contains(system, "haven't spoken: instinct") {
		t.Errorf("prompt does not list instinct as silent:\n%s", system)
	}
	if !strings.Contains(system, "respond again: psyche") {
		t.Errorf("prompt does not list psyche as repeat-eligible:\n%s", system)
	}
	if !strings.Contains(system, "CHALLENGE CONVERSATION") {
		t.Error("prompt does not reflect challenge mode")
	}
	if !strings.Contains(system, "LOGIC: again") {
		t.Error("prompt does not replay the transcript")
	}
}

func TestLLMJudge_MalformedVerdictIsError(t *testing.T) {
	provider := &scriptedProvider{completion: "I think logic should continue"}
	j := NewLLMJudge(provider, DefaultJudgeConfig())
	if _, err := j.Judge(context.Background(), "q", transcriptOf(2), persona.FullSet(), false); err == nil {
		t.Fatal("expected decode error")
	}
}
