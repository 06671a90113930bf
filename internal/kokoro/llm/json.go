package llm

import (
	"encoding/json"
	"strings"
)

// DecodeJudgment defensively parses a judgment completion into v.
//
// Models asked for "ONLY valid JSON" still wrap output in code fences or
// prose often enough that trusting the raw string is a reliability bug.
// The completion is trimmed of markdown fences, then narrowed to the first
// '{' through the last '}' before unmarshalling.
func DecodeJudgment(completion string, v any) error {
	cleaned := strings.TrimSpace(completion)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}

	return json.Unmarshal([]byte(cleaned), v)
}
