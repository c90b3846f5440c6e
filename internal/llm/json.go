package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON unmarshals a model's JSON-mode response into v. Models
// sometimes wrap JSON in markdown fences or add prose around it; both are
// tolerated.
func DecodeJSON(text string, v any) error {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON found in response")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("decode JSON response: %w", err)
	}
	return nil
}
