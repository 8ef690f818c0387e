// Package advisor writes a short plain-language summary of a block's water status.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lox/vinewater/internal/budget"
	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/recommend"
	"github.com/lox/vinewater/internal/soil"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const DefaultModel = "gpt-4o-mini"

// Status is everything the narrative is written from.
type Status struct {
	Block          models.Block
	Budget         *budget.WaterBudget
	Soil           *soil.Estimate
	Recommendation *recommend.Recommendation
	Forecast       *models.Forecast
}

// Advisor produces narratives, from the model when configured and from a
// fixed template otherwise.
type Advisor struct {
	client  *openai.Client
	model   string
	cache   *Cache
	enabled bool
}

type Options struct {
	APIKey  string
	Model   string
	BaseURL string // override for tests and proxies
	Cache   *Cache
}

func New(opts Options) *Advisor {
	a := &Advisor{model: opts.Model, cache: opts.Cache}
	if a.model == "" {
		a.model = DefaultModel
	}
	if opts.APIKey == "" {
		return a
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey), option.WithMaxRetries(1)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(reqOpts...)
	a.client = &client
	a.enabled = true
	return a
}

func (a *Advisor) Enabled() bool { return a.enabled }

// Narrative returns a summary for the status. Model failures fall back to the
// template so the overview never fails on the narrative alone.
func (a *Advisor) Narrative(ctx context.Context, st Status) string {
	if !a.enabled {
		return FallbackNarrative(st)
	}
	key := cacheKey(st)
	if a.cache != nil {
		if text, ok := a.cache.Get(key); ok {
			return text
		}
	}

	text, err := a.generate(ctx, st)
	if err != nil {
		log.Printf("advisor: %s: %v", st.Block.ID, err)
		return FallbackNarrative(st)
	}
	if a.cache != nil {
		a.cache.Set(key, text)
	}
	return text
}

func (a *Advisor) generate(ctx context.Context, st Status) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a vineyard irrigation advisor. Reply in two or three plain sentences for a grower. Use the numbers given and do not invent any."),
			openai.UserMessage(BuildPrompt(st)),
		},
		MaxCompletionTokens: openai.Int(200),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}

// BuildPrompt lays the status out as the facts the model may use.
func BuildPrompt(st Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Block: %s (%.1f acres)\n", st.Block.Name, st.Block.Acres)
	if w := st.Budget; w != nil {
		fmt.Fprintf(&b, "Window: %s\n", w.Range)
		fmt.Fprintf(&b, "Crop water use: %.2f in; irrigation applied: %.2f in; rainfall: %.2f in\n",
			w.ETcInches, w.AppliedInches, w.RainfallInches)
		fmt.Fprintf(&b, "Deficit: %.2f in (%.0f%% of demand met)\n", w.DeficitInches, w.PercentageMet)
		if w.CoverageWarning {
			b.WriteString("Note: irrigation records do not cover the whole window.\n")
		}
	}
	if s := st.Soil; s != nil {
		fmt.Fprintf(&b, "Soil moisture: surface %.0f%% (%s), mid %.0f%% (%s), deep %.0f%% (%s)\n",
			s.Surface.MoisturePercent, s.Surface.Status,
			s.Mid.MoisturePercent, s.Mid.Status,
			s.Deep.MoisturePercent, s.Deep.Status)
	}
	if r := st.Recommendation; r != nil {
		if r.NeedsIrrigation {
			fmt.Fprintf(&b, "Recommendation: %s urgency, apply %.2f in (%.0f gallons, run %s)\n",
				r.Urgency, r.Inches, r.Gallons, r.Runtime())
		} else {
			b.WriteString("Recommendation: no irrigation needed\n")
		}
	}
	if f := st.Forecast; f != nil {
		fmt.Fprintf(&b, "Next %d days: %.1f mm rain, %.1f mm reference ET\n",
			len(f.Periods), f.PredictedRainfallMM, f.PredictedET0MM)
	}
	return b.String()
}

// FallbackNarrative is the template used when no model is available.
func FallbackNarrative(st Status) string {
	var parts []string
	if w := st.Budget; w != nil {
		if w.DeficitInches > 0 {
			parts = append(parts, fmt.Sprintf("%s is %.2f inches short over %s, with %.0f%% of crop demand met.",
				st.Block.Name, w.DeficitInches, w.Range, w.PercentageMet))
		} else {
			parts = append(parts, fmt.Sprintf("%s has received enough water over %s.", st.Block.Name, w.Range))
		}
	}
	if r := st.Recommendation; r != nil {
		if r.NeedsIrrigation {
			parts = append(parts, fmt.Sprintf("%s Apply about %.2f inches (run %s).", r.Message, r.Inches, r.Runtime()))
		} else {
			parts = append(parts, r.Message)
		}
	}
	if f := st.Forecast; f != nil && f.PredictedRainfallMM > 0 {
		parts = append(parts, fmt.Sprintf("%.1f mm of rain is forecast.", f.PredictedRainfallMM))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Not enough data to summarise %s yet.", st.Block.Name)
	}
	return strings.Join(parts, " ")
}

func cacheKey(st Status) string {
	if st.Budget == nil {
		return st.Block.ID
	}
	return fmt.Sprintf("%s|%s|%.2f", st.Block.ID, st.Budget.Range, st.Budget.DeficitInches)
}
