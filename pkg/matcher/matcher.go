// Package matcher selects the change recipe for a free-text work order and
// extracts its seed parameters. The model's reply is advisory only: every
// field is validated before anything downstream trusts it.
package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/quayside/workorder/pkg/llm"
	"github.com/quayside/workorder/pkg/recipe"
	"github.com/quayside/workorder/pkg/render"
)

// ConfidenceThreshold is the minimum model confidence for a selection to
// count as a match.
const ConfidenceThreshold = 0.7

// ErrNoMatch means no recipe matched the work order with sufficient
// confidence. A routing outcome, not a failure.
var ErrNoMatch = errors.New("matcher: no recipe matched the work order")

// Error is a matcher failure: malformed or out-of-range model output that
// survived the retry.
type Error struct {
	Stage  string // "select" or "extract"
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("matcher: %s: %s", e.Stage, e.Reason)
}

// Match is a validated recipe selection.
type Match struct {
	Recipe     *recipe.Recipe
	Confidence float64
	Reasoning  string
	Params     map[string]any
}

// Matcher matches work orders to recipes through a completion client.
type Matcher struct {
	client llm.Client
	log    *zap.Logger
}

// New creates a matcher. A nil logger disables logging.
func New(client llm.Client, log *zap.Logger) *Matcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Matcher{client: client, log: log}
}

// selection is the wire shape of the first model call.
type selection struct {
	MatchedIndex int     `json:"matched_index"` // 1-based; 0 means no match
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// extraction is the wire shape of the second model call.
type extraction struct {
	Parameters map[string]any `json:"parameters"`
}

// Match selects a recipe for the work order text and extracts its seed
// parameters. Returns ErrNoMatch when the model declines or its confidence
// falls below the threshold.
func (m *Matcher) Match(ctx context.Context, text string, catalog []*recipe.Recipe) (*Match, error) {
	if len(catalog) == 0 {
		return nil, ErrNoMatch
	}

	sel, err := m.selectRecipe(ctx, text, catalog)
	if err != nil {
		return nil, err
	}
	if sel.MatchedIndex == 0 || sel.Confidence < ConfidenceThreshold {
		m.log.Info("work order did not match any recipe",
			zap.Int("matched_index", sel.MatchedIndex),
			zap.Float64("confidence", sel.Confidence),
			zap.String("reasoning", sel.Reasoning))
		return nil, ErrNoMatch
	}
	chosen := catalog[sel.MatchedIndex-1]

	params, err := m.extractParams(ctx, text, chosen)
	if err != nil {
		return nil, err
	}

	m.log.Info("matched work order to recipe",
		zap.String("recipe_type", chosen.WorkOrderType),
		zap.Float64("confidence", sel.Confidence),
		zap.Int("params", len(params)))
	return &Match{
		Recipe:     chosen,
		Confidence: sel.Confidence,
		Reasoning:  sel.Reasoning,
		Params:     params,
	}, nil
}

func (m *Matcher) selectRecipe(ctx context.Context, text string, catalog []*recipe.Recipe) (*selection, error) {
	prompt := selectionPrompt(text, catalog)
	var sel *selection
	err := m.withRetry(ctx, "select", func() error {
		reply, err := m.client.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		var s selection
		if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &s); err != nil {
			return fmt.Errorf("malformed selection reply: %w", err)
		}
		if s.MatchedIndex < 0 || s.MatchedIndex > len(catalog) {
			return fmt.Errorf("matched_index %d out of range [0, %d]", s.MatchedIndex, len(catalog))
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			return fmt.Errorf("confidence %g out of range [0, 1]", s.Confidence)
		}
		sel = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sel, nil
}

func (m *Matcher) extractParams(ctx context.Context, text string, rc *recipe.Recipe) (map[string]any, error) {
	wanted := SeedParams(rc)
	if len(wanted) == 0 {
		return nil, nil
	}
	prompt := extractionPrompt(text, rc, wanted)
	var params map[string]any
	err := m.withRetry(ctx, "extract", func() error {
		reply, err := m.client.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		var ex extraction
		if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &ex); err != nil {
			return fmt.Errorf("malformed extraction reply: %w", err)
		}
		// Keep only the parameters the recipe actually asks for. Extra
		// keys are a model invention, not an error.
		allowed := make(map[string]struct{}, len(wanted))
		for _, w := range wanted {
			allowed[w] = struct{}{}
		}
		params = make(map[string]any, len(ex.Parameters))
		for k, v := range ex.Parameters {
			if _, ok := allowed[k]; ok {
				params[k] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}

// withRetry runs op with a single retry, converting a second failure into
// a *Error.
func (m *Matcher) withRetry(ctx context.Context, stage string, op func() error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := op(); err != nil {
			m.log.Warn("matcher call failed",
				zap.String("stage", stage),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx))
	if err != nil {
		return &Error{Stage: stage, Reason: err.Error()}
	}
	return nil
}

// SeedParams returns the placeholder names a recipe needs seeded before it
// runs: everything referenced by a template that no QUERY step produces.
func SeedParams(rc *recipe.Recipe) []string {
	produced := make(map[string]struct{})
	for _, s := range rc.Steps {
		for _, f := range s.OutputFields {
			produced[f] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	var out []string
	collect := func(tmpl string) {
		for _, name := range render.Placeholders(tmpl) {
			if _, ok := produced[name]; ok {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, s := range rc.Steps {
		collect(s.Where)
		for _, k := range s.Set.Keys() {
			collect(s.Set.Get(k))
		}
		for _, k := range s.Values.Keys() {
			collect(s.Values.Get(k))
		}
		collect(s.Message)
		if s.OnSuccess != nil {
			collect(s.OnSuccess.Condition)
		}
		if s.OnFailure != nil {
			collect(s.OnFailure.Condition)
		}
	}
	return out
}

func selectionPrompt(text string, catalog []*recipe.Recipe) string {
	var sb strings.Builder
	sb.WriteString("You are a work-order classifier. Given the work order below, ")
	sb.WriteString("pick the one change recipe that applies, or report that none does.\n\n")
	sb.WriteString("Recipes:\n")
	for i, rc := range catalog {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, rc.WorkOrderType, rc.Description)
	}
	sb.WriteString("\nWork order:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nReply with exactly one JSON object and nothing else:\n")
	sb.WriteString(`{"matched_index": <1-based recipe number, or 0 for no match>, "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`)
	return sb.String()
}

func extractionPrompt(text string, rc *recipe.Recipe, wanted []string) string {
	names := append([]string(nil), wanted...)
	sort.Strings(names)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract the following parameters for a %q work order from the text below.\n", rc.WorkOrderType)
	sb.WriteString("Parameters: ")
	sb.WriteString(strings.Join(names, ", "))
	sb.WriteString("\n\nWork order:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nReply with exactly one JSON object and nothing else:\n")
	sb.WriteString(`{"parameters": {"<name>": <value>, ...}}` + "\n")
	sb.WriteString("Use JSON null for any parameter the text does not state. Do not invent values.")
	return sb.String()
}
