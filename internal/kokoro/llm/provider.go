// Package llm abstracts the text-generation capability Kokoro consumes.
//
// One Provider serves both kinds of call the system makes: persona
// utterances (free text shown to the user) and judgment calls (small
// constrained JSON objects such as debate continuation and trait analyses). The
// provider itself is dumb transport; callers own prompt construction and
// defensive parsing of judgment output.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimit is returned when the upstream API reports a rate-limiting
// condition (e.g. HTTP 429). Utterance callers may retry with back-off;
// judgment callers must fail closed instead.
var ErrRateLimit = errors.New("llm: upstream rate limit exceeded")

// ErrMalformedOutput is returned when the API responds with a structurally
// valid HTTP body that cannot be interpreted as a completion (schema
// surprise, empty choices). Judgment callers treat this as "use the safe
// default".
var ErrMalformedOutput = errors.New("llm: malformed response from provider")

// Message is a single chat-formatted message in a completion request.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string
	// Content is the message text.
	Content string
}

// Request describes one completion call.
type Request struct {
	// Messages is the chat transcript, system prompt first.
	Messages []Message

	// Temperature is the decoding temperature. Zero means provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// JSONOnly asks the provider to constrain output to a single JSON
	// object. Set for judgment calls; judgment callers still parse
	// defensively because not every endpoint honours the constraint.
	JSONOnly bool
}

// Provider is the text-generation capability. Implementations must be safe
// for concurrent use from multiple goroutines.
type Provider interface {
	// Complete sends the request and returns the generated text.
	Complete(ctx context.Context, req Request) (string, error)
}
