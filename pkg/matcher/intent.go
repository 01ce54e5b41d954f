package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/quayside/workorder/pkg/llm"
)

// ErrNotMutation rejects work orders that do not ask for a data change at
// all: status inquiries, complaints, and anything else the system has no
// business turning into DML.
var ErrNotMutation = errors.New("matcher: work order does not request a data change")

// intent is the wire shape of the intent-gate call.
type intent struct {
	IsMutation bool   `json:"is_mutation"`
	Reason     string `json:"reason"`
}

// EnsureMutationIntent verifies the work order actually asks for data to be
// modified before any recipe matching happens.
func (m *Matcher) EnsureMutationIntent(ctx context.Context, text string) error {
	prompt := intentPrompt(text)
	var in intent
	err := m.withRetry(ctx, "intent", func() error {
		reply, err := m.client.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		var i intent
		if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &i); err != nil {
			return fmt.Errorf("malformed intent reply: %w", err)
		}
		in = i
		return nil
	})
	if err != nil {
		return err
	}
	if !in.IsMutation {
		m.log.Info("work order is not a data-change request",
			zap.String("reason", in.Reason))
		return fmt.Errorf("%w: %s", ErrNotMutation, in.Reason)
	}
	return nil
}

func intentPrompt(text string) string {
	return "Decide whether the work order below is asking for stored data to be " +
		"modified (corrected, cancelled, re-pushed, deleted, or otherwise changed). " +
		"Inquiries, complaints, and requests for information are not data changes.\n\n" +
		"Work order:\n" + text + "\n\n" +
		"Reply with exactly one JSON object and nothing else:\n" +
		`{"is_mutation": <true|false>, "reason": "<one sentence>"}`
}
