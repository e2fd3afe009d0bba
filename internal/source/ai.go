package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/pkg/anthropic"
)

const aiSystemPrompt = `You are an electronic component data specialist. Given a
manufacturer part number, respond with a single JSON object describing the part.
Use null for anything you are not confident about. Schema:
{"mpn": string, "manufacturer": string, "description": string,
 "category": string, "lifecycle": string, "parameters": {string: string}}
Parameter names should use distributor conventions such as "Package / Case",
"Voltage - Rated", "Resistance (Ohms)", "Operating Temperature", "RoHS Status".
Respond with only the JSON object.`

// AIAdapter infers component attributes from a language model. Higher
// latency than the supplier tiers; enabled only by configuration. Inferred
// data never carries pricing or availability.
type AIAdapter struct {
	ai    anthropic.Client
	model string
	now   func() time.Time
}

// NewAIAdapter creates the AI inference tier.
func NewAIAdapter(client anthropic.Client, modelID string) *AIAdapter {
	return &AIAdapter{ai: client, model: modelID, now: time.Now}
}

func (a *AIAdapter) Name() string { return TierAI }

func (a *AIAdapter) Fetch(ctx context.Context, mpn, manufacturer string) (*model.RawSourceResult, error) {
	prompt := fmt.Sprintf("Part number: %s", mpn)
	if manufacturer != "" {
		prompt += fmt.Sprintf("\nManufacturer: %s", manufacturer)
	}

	resp, err := a.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: 1024,
		System:    aiSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		// Inference API failures are transient for this tier; the model
		// itself does not produce permanent errors.
		return nil, NewTransient(TierAI, err, 0)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, NewTransient(TierAI, eris.New("ai: empty response"), 0)
	}

	parsed, err := parseAIComponent(text)
	if err != nil {
		return nil, NewPermanent(TierAI, err, 0)
	}
	if parsed.MPN == "" || strings.EqualFold(parsed.MPN, "null") {
		return nil, ErrNotFound
	}

	raw := &model.RawSourceResult{
		Source:       TierAI,
		MPN:          parsed.MPN,
		Manufacturer: firstNonEmpty(parsed.Manufacturer, manufacturer),
		Description:  parsed.Description,
		Category:     parsed.Category,
		Lifecycle:    parsed.Lifecycle,
		Parameters:   parsed.Parameters,
		FetchedAt:    a.now().UTC(),
	}
	return raw, nil
}

// aiComponent is the JSON shape the model is asked to produce.
type aiComponent struct {
	MPN          string            `json:"mpn"`
	Manufacturer string            `json:"manufacturer"`
	Description  string            `json:"description"`
	Category     string            `json:"category"`
	Lifecycle    string            `json:"lifecycle"`
	Parameters   map[string]string `json:"parameters"`
}

// parseAIComponent extracts the first JSON object from the model's text,
// tolerating prose around it.
func parseAIComponent(text string) (*aiComponent, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("ai: no JSON object in response")
	}

	var c aiComponent
	if err := json.Unmarshal([]byte(text[start:end+1]), &c); err != nil {
		return nil, eris.Wrap(err, "ai: unmarshal component")
	}
	return &c, nil
}
