// Package llm wraps the completion provider used for recipe matching.
package llm

import (
	"context"
	"strings"
)

// Client is a single-turn completion client. The matcher is the only
// consumer; it sends one prompt and parses strict JSON out of the reply.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ExtractJSON strips markdown code fences from a model reply and returns
// the JSON payload. Models at temperature 0 still wrap JSON in ```json
// fences often enough that tolerating it is cheaper than re-prompting.
func ExtractJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		// Drop the opening fence line (``` or ```json).
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			return strings.TrimSpace(strings.TrimPrefix(s, "```"))
		}
		// Drop everything from the closing fence on.
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSpace(s)
	}
	// No fence: take the outermost object if the reply has prose around it.
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
