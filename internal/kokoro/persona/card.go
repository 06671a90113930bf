package persona

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed cards/*.yaml
var defaultCardsFS embed.FS

//go:embed card.schema.json
var cardSchemaJSON []byte

// Card is the data side of a persona: everything about it that is content
// rather than algorithm. Routing reads Keywords; the responder reads the
// prompt fields and Temperature.
type Card struct {
	// Name is the canonical persona name ("instinct", "logic", "psyche").
	Name string `yaml:"name"`

	// DisplayName is the friendly name shown to users (e.g. "Snap").
	DisplayName string `yaml:"displayName"`

	// ChallengeName is the alternate display name used while the
	// conversation is in challenge mode.
	ChallengeName string `yaml:"challengeName"`

	// Keywords are lowercase substrings that, when present in a user
	// message, bias routing toward this persona.
	Keywords []string `yaml:"keywords"`

	// VoicePrompt is the base system prompt establishing the persona's
	// purpose and register in normal conversation.
	VoicePrompt string `yaml:"voicePrompt"`

	// ChallengePrompt replaces VoicePrompt while the conversation is in
	// challenge mode: more intense, more opinionated.
	ChallengePrompt string `yaml:"challengePrompt"`

	// Temperature is the decoding temperature for utterances spoken as this
	// persona. Zero means "use the provider default".
	Temperature float64 `yaml:"temperature"`
}

// Cards holds one validated Card per persona.
type Cards struct {
	byPersona map[Persona]Card
}

// Get returns the card for p. The zero Card is returned for personas not
// present (cannot happen for a Cards built by LoadCards, which requires all
// three).
func (c *Cards) Get(p Persona) Card {
	return c.byPersona[p]
}

// Keywords returns the routing keyword set for p.
func (c *Cards) Keywords(p Persona) []string {
	return c.byPersona[p].Keywords
}

// DisplayName returns the name shown to users for p, honouring challenge
// mode.
func (c *Cards) DisplayName(p Persona, challenge bool) string {
	card := c.byPersona[p]
	if challenge && card.ChallengeName != "" {
		return card.ChallengeName
	}
	if card.DisplayName != "" {
		return card.DisplayName
	}
	return p.String()
}

// LoadDefaultCards parses the cards embedded in the binary. These are the
// shipped persona definitions; operators can override them with
// LoadCardsDir.
func LoadDefaultCards() (*Cards, error) {
	return loadCardsFS(defaultCardsFS, "cards")
}

// LoadCardsDir parses persona cards from a directory of YAML files. Every
// persona must have exactly one card and every card must pass schema
// validation; a malformed override fails loudly at startup rather than
// producing a half-configured persona mid-conversation.
func LoadCardsDir(dir string) (*Cards, error) {
	return loadCardsFS(os.DirFS(dir), ".")
}

func loadCardsFS(fsys fs.FS, root string) (*Cards, error) {
	schema, err := compileCardSchema()
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("persona: read cards dir: %w", err)
	}

	byPersona := make(map[Persona]Card, Count)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("persona: read card %s: %w", entry.Name(), err)
		}
		card, err := parseCard(data, schema)
		if err != nil {
			return nil, fmt.Errorf("persona: card %s: %w", entry.Name(), err)
		}
		p, err := Parse(card.Name)
		if err != nil {
			return nil, fmt.Errorf("persona: card %s: %w", entry.Name(), err)
		}
		if _, dup := byPersona[p]; dup {
			return nil, fmt.Errorf("persona: duplicate card for %s", p)
		}
		byPersona[p] = card
	}

	for _, p := range All {
		if _, ok := byPersona[p]; !ok {
			return nil, fmt.Errorf("persona: missing card for %s", p)
		}
	}

	return &Cards{byPersona: byPersona}, nil
}

// parseCard decodes and schema-validates a single YAML card.
//
// Validation runs against the generic decoded document (not the typed
// struct) so that misspelt fields and wrong types are caught rather than
// silently dropped by the YAML decoder.
func parseCard(data []byte, schema *jsonschema.Schema) (Card, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Card{}, fmt.Errorf("parse yaml: %w", err)
	}

	// jsonschema validates JSON-shaped values; round-trip through
	// encoding/json to normalise YAML types (e.g. int vs float).
	raw, err := json.Marshal(doc)
	if err != nil {
		return Card{}, fmt.Errorf("normalise: %w", err)
	}
	var jsonDoc any
	if err := json.Unmarshal(raw, &jsonDoc); err != nil {
		return Card{}, fmt.Errorf("normalise: %w", err)
	}
	if err := schema.Validate(jsonDoc); err != nil {
		return Card{}, fmt.Errorf("validate: %w", err)
	}

	var card Card
	if err := yaml.Unmarshal(data, &card); err != nil {
		return Card{}, fmt.Errorf("decode: %w", err)
	}
	for i, kw := range card.Keywords {
		card.Keywords[i] = strings.ToLower(strings.TrimSpace(kw))
	}
	return card, nil
}

func compileCardSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("card.schema.json", bytes.NewReader(cardSchemaJSON)); err != nil {
		return nil, fmt.Errorf("persona: load card schema: %w", err)
	}
	schema, err := compiler.Compile("card.schema.json")
	if err != nil {
		return nil, fmt.Errorf("persona: compile card schema: %w", err)
	}
	return schema, nil
}
