package summarize

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/engagic/engagic/domain/topics"
)

// Summary is one validated model response.
type Summary struct {
	Summary       string   `json:"summary"`
	Topics        []string `json:"topics"`
	Confidence    string   `json:"confidence"`
	ThinkingTrace string   `json:"thinking_trace,omitempty"`
}

func intPtr(v int) *int { return &v }

func buildSummarySchema() *jsonschema.Schema {
	topicEnum := make([]any, 0, len(topics.Canonical()))
	for _, tag := range topics.Canonical() {
		topicEnum = append(topicEnum, tag)
	}

	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"summary", "topics", "confidence"},
		Properties: map[string]*jsonschema.Schema{
			"summary": {Type: "string", MinLength: intPtr(1)},
			"topics": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string", Enum: topicEnum},
			},
			"confidence":     {Type: "string", Enum: []any{"low", "medium", "high"}},
			"thinking_trace": {Type: "string"},
		},
	}
}

var resolvedSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	return buildSummarySchema().Resolve(nil)
})

// parseSummary validates raw model output as a single summary object.
func parseSummary(raw string) (*Summary, error) {
	cleaned := stripFences(raw)

	var value any
	if err := json.Unmarshal([]byte(cleaned), &value); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := validate(value); err != nil {
		return nil, err
	}

	var s Summary
	if err := json.Unmarshal([]byte(cleaned), &s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	s.Topics = topics.Normalize(s.Topics)
	return &s, nil
}

// parseSummaryBatch validates raw model output as an array of exactly want
// summaries, in input order.
func parseSummaryBatch(raw string, want int) ([]Summary, error) {
	cleaned := stripFences(raw)

	var values []any
	if err := json.Unmarshal([]byte(cleaned), &values); err != nil {
		return nil, fmt.Errorf("response is not a JSON array: %w", err)
	}
	if len(values) != want {
		return nil, fmt.Errorf("expected %d results, got %d", want, len(values))
	}
	for i, v := range values {
		if err := validate(v); err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
	}

	var out []Summary
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, fmt.Errorf("decode summaries: %w", err)
	}
	for i := range out {
		out[i].Topics = topics.Normalize(out[i].Topics)
	}
	return out, nil
}

func validate(value any) error {
	schema, err := resolvedSchema()
	if err != nil {
		return fmt.Errorf("resolve summary schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	return nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON in
// one despite instructions.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
